package testutil

import (
	"sync"
	"time"
)

// DeterministicClock is a controllable wall clock for tests.
//
// Now returns the current instant without advancing; Tick advances by the
// configured step and returns the new instant. Components that need "now"
// take a func() time.Time, and tests pass clock.Now.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	start time.Time
	now   time.Time
	step  time.Duration
}

// NewDeterministicClock creates a clock at start that advances by step on
// every Tick. A zero step defaults to one second.
func NewDeterministicClock(start time.Time, step time.Duration) *DeterministicClock {
	if step == 0 {
		step = time.Second
	}
	return &DeterministicClock{start: start, now: start, step: step}
}

// Now returns the current instant.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Tick advances the clock by one step and returns the new instant.
// Monotonic: never returns an earlier instant than a previous call.
func (c *DeterministicClock) Tick() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

// Advance moves the clock forward by d.
func (c *DeterministicClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Reset returns the clock to its start instant.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.start
}
