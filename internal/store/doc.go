// Package store provides SQLite-backed durable storage for the authoritative
// event log served to clients.
//
// The store is an append-only log of events per owner identity:
//   - Events are unique on (owner_id, client_id). A second insert of the same
//     pair is silently ignored and reported as a duplicate, which is the
//     backstop against double-insertion from retried pushes.
//   - Every accepted event is stamped with a server timestamp from a
//     monotonic Clock, so server timestamps are strictly increasing per store
//     and a pull "after watermark" never skips a commit.
//
// # Deterministic Query Results
//
// All reads order by server_timestamp ASC, seq ASC so repeated pulls return
// identical sequences.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON
//
// Payloads are stored as canonical JSON. Client timestamps are stored as
// RFC 3339 text so nanosecond precision survives; server timestamps are
// stored as integer microseconds since the Unix epoch.
package store
