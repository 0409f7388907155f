package engine

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/grove/internal/testutil"
)

var queueT0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func TestJobQueue_EnqueueDequeue(t *testing.T) {
	q := newJobQueue()

	ok := q.Enqueue(job{kind: jobRealtime, event: testutil.SunShone("sun-1", queueT0, "twig")})
	require.True(t, ok, "enqueue should succeed")

	got, ok := q.TryDequeue()
	require.True(t, ok, "dequeue should succeed")
	assert.Equal(t, jobRealtime, got.kind)
	assert.Equal(t, "sun-1", got.event.ClientID)
}

func TestJobQueue_FIFO(t *testing.T) {
	q := newJobQueue()

	q.Enqueue(job{kind: jobSync})
	q.Enqueue(job{kind: jobDeliver})
	q.Enqueue(job{kind: jobRealtime})

	for _, want := range []jobKind{jobSync, jobDeliver, jobRealtime} {
		got, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, got.kind)
	}
}

func TestJobQueue_TryDequeue_Empty(t *testing.T) {
	q := newJobQueue()

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestJobQueue_WaitSignalsEnqueue(t *testing.T) {
	q := newJobQueue()
	q.Enqueue(job{kind: jobSync})

	select {
	case <-q.Wait():
	case <-time.After(100 * time.Millisecond):
		t.Fatal("wait did not signal after enqueue")
	}
}

func TestJobQueue_Close(t *testing.T) {
	q := newJobQueue()
	q.Close()
	q.Close()

	assert.False(t, q.Enqueue(job{kind: jobSync}), "enqueue after close should return false")

	select {
	case _, open := <-q.Wait():
		assert.False(t, open)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("close did not wake waiters")
	}
}

func TestJobQueue_Len(t *testing.T) {
	q := newJobQueue()
	assert.Equal(t, 0, q.Len())

	q.Enqueue(job{kind: jobSync})
	q.Enqueue(job{kind: jobSync})
	assert.Equal(t, 2, q.Len())

	q.TryDequeue()
	assert.Equal(t, 1, q.Len())

	q.TryDequeue()
	assert.Equal(t, 0, q.Len())
}

func TestJobQueue_ThreadSafe(t *testing.T) {
	q := newJobQueue()

	const producers = 10
	const jobsPerProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(producer int) {
			defer wg.Done()
			for i := 0; i < jobsPerProducer; i++ {
				id := fmt.Sprintf("p%d-%d", producer, i)
				q.Enqueue(job{kind: jobRealtime, event: testutil.SunShone(id, queueT0, "twig")})
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for {
		j, ok := q.TryDequeue()
		if !ok {
			break
		}
		seen[j.event.ClientID] = true
	}
	assert.Len(t, seen, producers*jobsPerProducer)
}

func TestJobKind_String(t *testing.T) {
	assert.Equal(t, "sync", jobSync.String())
	assert.Equal(t, "realtime", jobRealtime.String())
	assert.Equal(t, "deliver", jobDeliver.String())
	assert.Equal(t, "unknown", jobKind(0).String())
}
