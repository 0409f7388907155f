package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClock_Next_UsesWallTime(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 1500, time.UTC)
	c := NewClock(func() time.Time { return now })

	assert.Equal(t, now.Truncate(time.Microsecond), c.Next())
}

func TestClock_Next_StrictlyIncreasingWhenWallClockStalls(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	c := NewClock(func() time.Time { return now })

	first := c.Next()
	second := c.Next()
	third := c.Next()

	assert.Equal(t, first.Add(Resolution), second)
	assert.Equal(t, second.Add(Resolution), third)
	assert.Equal(t, third, c.Current())
}

func TestClock_Observe(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	c := NewClock(func() time.Time { return now })

	c.Observe(now.Add(time.Hour))
	assert.Equal(t, now.Add(time.Hour+Resolution), c.Next())

	c.Observe(now) // older values are ignored
	assert.Equal(t, now.Add(time.Hour+2*Resolution), c.Next())
}

func TestClock_ThreadSafe(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	c := NewClock(func() time.Time { return now })
	const goroutines = 50

	var wg sync.WaitGroup
	stamps := make(chan time.Time, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stamps <- c.Next()
		}()
	}
	wg.Wait()
	close(stamps)

	seen := make(map[time.Time]bool)
	for ts := range stamps {
		assert.False(t, seen[ts], "timestamp %s issued twice", ts)
		seen[ts] = true
	}
	assert.Len(t, seen, goroutines)
}
