// Package cache persists the event log on the device between runs.
//
// The cache is a performance optimization for instant startup and offline
// use, never a correctness dependency. Its layout is a single versioned JSON
// envelope written to a Blob:
//
//	{"version":1,"watermark":"...","events":[...],"pending":[...],"checksum":"..."}
//
// The checksum is the log hash of the events. Any parse failure, checksum
// mismatch or version mismatch surfaces as ErrCorrupt; the caller discards
// the cache and performs a full pull from the remote store.
package cache
