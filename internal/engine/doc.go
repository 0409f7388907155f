// Package engine keeps a device's event log in step with the remote store.
//
// ARCHITECTURE:
//
// Two-Phase Writes:
// A write is appended to the in-memory Store and the durable retry queue
// before any network call. Delivery follows; success and "duplicate" are
// both terminal, and any other failure leaves the event queued for the next
// sync. The remote's uniqueness constraint on client id is the backstop
// against double insertion.
//
// Smart Sync:
// A sync first re-sends the retry queue, then pulls. With a trusted cached
// watermark it pulls only newer events (incremental); without one, or after
// the cache was discarded as corrupt, it pulls everything and replaces the
// local log (full), keeping undelivered local events. Every merge is by
// client id, so repeated deliveries never double-apply.
//
// Single-Writer Loop:
// Realtime deliveries, visibility-triggered syncs and background deliveries
// are queued and applied one at a time by Run. Synchronous callers
// (SmartSync, PushEvent) serialize with the loop through the engine's locks.
//
// Failure Semantics:
// Network failure is never fatal: the engine reports StatusOffline or
// StatusPendingUpload and keeps serving cached state. Only an authentication
// failure is surfaced as permanent, through Err.
package engine
