package engine

import (
	"sync"

	"github.com/roach88/grove/internal/event"
)

// jobKind distinguishes the work the Run loop performs.
type jobKind int

const (
	// jobSync runs a smart sync.
	jobSync jobKind = iota + 1
	// jobRealtime merges one event received over the realtime channel.
	jobRealtime
	// jobDeliver pushes locally created events still awaiting the remote.
	jobDeliver
)

func (k jobKind) String() string {
	switch k {
	case jobSync:
		return "sync"
	case jobRealtime:
		return "realtime"
	case jobDeliver:
		return "deliver"
	default:
		return "unknown"
	}
}

// job is one unit of work for the Run loop.
type job struct {
	kind    jobKind
	event   event.Event       // jobRealtime
	onEvent func(event.Event) // jobRealtime, may be nil
}

// jobQueue is a thread-safe FIFO of jobs.
//
// The queue is unbounded so realtime callbacks never block the transport's
// reader goroutine. A buffered signal channel of size one coalesces wakeups
// and lets the Run loop wait with a select on ctx.Done().
type jobQueue struct {
	mu     sync.Mutex
	jobs   []job
	closed bool
	signal chan struct{}
}

func newJobQueue() *jobQueue {
	return &jobQueue{
		jobs:   make([]job, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds j to the back of the queue. Returns false if the queue is
// closed.
func (q *jobQueue) Enqueue(j job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.jobs = append(q.jobs, j)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes and returns the front job without blocking.
func (q *jobQueue) TryDequeue() (job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return job{}, false
	}

	j := q.jobs[0]
	// Release the callback and payload held by the vacated slot.
	q.jobs[0] = job{}
	if len(q.jobs) == 1 {
		q.jobs = q.jobs[:0]
	} else {
		q.jobs = q.jobs[1:]
	}
	return j, true
}

// Wait returns a channel that fires when jobs may be available. It is
// closed when the queue is closed.
func (q *jobQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued jobs.
func (q *jobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Close rejects further jobs and wakes any waiter.
func (q *jobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
