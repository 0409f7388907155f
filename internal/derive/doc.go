// Package derive replays an event log into the current application state.
//
// Derive is a pure function: the same events, in any order, always produce
// the same State. Events are sorted by client timestamp (ties broken by client
// id) before folding, so arrival order from pulls, realtime pushes, or local
// optimistic appends never changes the result.
//
// Edge-case policy:
//   - Malformed events are dropped, never fatal to the rest of the log.
//   - Unknown kinds are skipped for forward compatibility.
//   - References to missing or terminal sprouts are inert, not errors.
//   - Soil availability is clamped to [0, capacity] after every step.
package derive
