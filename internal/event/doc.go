// Package event defines the immutable event model for grove.
//
// Every piece of user-visible state is derived from an append-only log of
// events. This package owns the closed set of event kinds, the payload value
// types, boundary validation, and the canonical serialization used for
// content hashing.
//
// This package imports nothing internal. All other grove packages import
// event; event never imports them.
//
// Key design constraints:
//   - Events are never mutated after creation. The only "undo" is a new
//     sprout-uprooted event referencing the original sprout.
//   - Payload values are primitive only: string, number, bool.
//   - ClientTimestamp orders events; ServerTimestamp is a pull watermark only
//     and never influences derivation.
//   - ClientID is the deduplication key everywhere (local merge, remote
//     uniqueness constraint, realtime delivery).
package event
