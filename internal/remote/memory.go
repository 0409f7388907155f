package remote

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/roach88/grove/internal/event"
	"github.com/roach88/grove/internal/store"
)

// Memory is an in-process Remote for a single identity. It enforces the same
// contract as the server: uniqueness on client id, strictly increasing server
// timestamps and realtime fan-out of accepted events. Failure modes can be
// toggled to exercise offline behavior.
type Memory struct {
	mu     sync.Mutex
	clock  *store.Clock
	events []event.Event
	index  map[string]struct{}

	subs   map[*memorySubscription]struct{}
	failed error // returned by every call while set

	pushes int
	pulls  int
}

var _ Remote = (*Memory)(nil)

// NewMemory returns an empty Memory stamping server timestamps from now.
func NewMemory(now func() time.Time) *Memory {
	return &Memory{
		clock: store.NewClock(now),
		index: make(map[string]struct{}),
		subs:  make(map[*memorySubscription]struct{}),
	}
}

// SetOffline makes every call fail with ErrUnavailable and drops open
// subscriptions. SetOffline(false) restores service.
func (m *Memory) SetOffline(offline bool) {
	if offline {
		m.fail(fmt.Errorf("%w: offline", ErrUnavailable))
		return
	}
	m.mu.Lock()
	m.failed = nil
	m.mu.Unlock()
}

// SetUnauthorized makes every call fail with ErrUnauthorized.
func (m *Memory) SetUnauthorized() {
	m.fail(fmt.Errorf("%w: token revoked", ErrUnauthorized))
}

func (m *Memory) fail(err error) {
	m.mu.Lock()
	m.failed = err
	subs := make([]*memorySubscription, 0, len(m.subs))
	for s := range m.subs {
		subs = append(subs, s)
	}
	m.subs = make(map[*memorySubscription]struct{})
	m.mu.Unlock()

	for _, s := range subs {
		s.end(err)
	}
}

// Events returns every stored event in server order.
func (m *Memory) Events() []event.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.events)
}

// Pushes returns how many Push calls reached the store.
func (m *Memory) Pushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pushes
}

// Pulls returns how many Pull calls reached the store.
func (m *Memory) Pulls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pulls
}

// Pull implements Remote.
func (m *Memory) Pull(ctx context.Context, since *time.Time) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failed != nil {
		return nil, m.failed
	}
	m.pulls++

	out := []event.Event{}
	for _, e := range m.events {
		if since == nil || e.ServerTimestamp.After(*since) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Push implements Remote.
func (m *Memory) Push(ctx context.Context, events []event.Event) (PushResult, error) {
	if err := ctx.Err(); err != nil {
		return PushResult{}, err
	}
	for _, e := range events {
		if err := event.Validate(e); err != nil {
			return PushResult{}, fmt.Errorf("%w: %v", ErrRejected, err)
		}
	}

	m.mu.Lock()
	if m.failed != nil {
		err := m.failed
		m.mu.Unlock()
		return PushResult{}, err
	}
	m.pushes++

	var res PushResult
	for _, e := range events {
		if _, dup := m.index[e.ClientID]; dup {
			res.Duplicates++
			continue
		}
		stamped := e.WithServerTimestamp(m.clock.Next())
		m.index[e.ClientID] = struct{}{}
		m.events = append(m.events, stamped)
		res.Confirmed = append(res.Confirmed, stamped)
	}
	res.Accepted = len(res.Confirmed)
	subs := make([]*memorySubscription, 0, len(m.subs))
	for s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.Unlock()

	for _, s := range subs {
		for _, e := range res.Confirmed {
			s.deliver(e)
		}
	}
	return res, nil
}

// Subscribe implements Remote. onEvent runs on the pushing goroutine.
func (m *Memory) Subscribe(ctx context.Context, onEvent func(event.Event)) (Subscription, error) {
	m.mu.Lock()
	if m.failed != nil {
		err := m.failed
		m.mu.Unlock()
		return nil, err
	}
	s := &memorySubscription{onEvent: onEvent, done: make(chan struct{})}
	m.subs[s] = struct{}{}
	m.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			m.unsubscribe(s)
			s.end(nil)
		case <-s.done:
		}
	}()
	return &memoryHandle{memory: m, sub: s}, nil
}

func (m *Memory) unsubscribe(s *memorySubscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, s)
}

type memorySubscription struct {
	onEvent func(event.Event)

	mu    sync.Mutex
	ended bool
	err   error
	done  chan struct{}
}

func (s *memorySubscription) deliver(e event.Event) {
	s.mu.Lock()
	ended := s.ended
	s.mu.Unlock()
	if !ended {
		s.onEvent(e)
	}
}

func (s *memorySubscription) end(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.err = err
	close(s.done)
}

type memoryHandle struct {
	memory *Memory
	sub    *memorySubscription
}

func (h *memoryHandle) Done() <-chan struct{} { return h.sub.done }

func (h *memoryHandle) Err() error {
	h.sub.mu.Lock()
	defer h.sub.mu.Unlock()
	return h.sub.err
}

func (h *memoryHandle) Close() error {
	h.memory.unsubscribe(h.sub)
	h.sub.end(nil)
	return nil
}
