package store

import (
	"sync"
	"time"
)

// Resolution is the granularity of server timestamps. Postgres timestamptz
// stores microseconds, so both stores stamp at that resolution.
const Resolution = time.Microsecond

// Clock hands out strictly increasing server timestamps.
//
// Next returns the wall time truncated to Resolution, or one Resolution step
// past the previous value when the wall clock has not moved (or moved back).
// A watermark pull with "server_timestamp > watermark" therefore never skips
// or repeats an event.
//
// Thread-safety: Clock is safe for concurrent use.
type Clock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

// NewClock creates a clock reading wall time from now.
func NewClock(now func() time.Time) *Clock {
	return &Clock{now: now}
}

// Next returns the next server timestamp.
func (c *Clock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := c.now().UTC().Truncate(Resolution)
	if !ts.After(c.last) {
		ts = c.last.Add(Resolution)
	}
	c.last = ts
	return ts
}

// Observe records a timestamp already issued, e.g. the newest one found in
// storage on startup, so Next resumes after it.
func (c *Clock) Observe(ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts.After(c.last) {
		c.last = ts.UTC()
	}
}

// Current returns the last issued timestamp without advancing.
func (c *Clock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
