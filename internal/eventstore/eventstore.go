// Package eventstore holds the runtime event log and its derived snapshot.
//
// A Store replaces any notion of a global "current state": it owns the raw
// event collection and a memoized State that is invalidated on every change.
// Collaborators receive the *Store explicitly.
package eventstore

import (
	"slices"
	"sync"
	"time"

	"github.com/roach88/grove/internal/derive"
	"github.com/roach88/grove/internal/event"
)

// Store is the in-memory event log. All methods are safe for concurrent use.
// Events are unique by client id.
type Store struct {
	mu       sync.Mutex
	events   []event.Event
	index    map[string]int // client id -> position in events
	snapshot *derive.State  // nil when invalidated

	listeners map[int]func()
	nextID    int
}

// New returns a Store seeded with events. Duplicate client ids in the seed
// keep their first occurrence.
func New(events ...event.Event) *Store {
	s := &Store{
		index:     make(map[string]int),
		listeners: make(map[int]func()),
	}
	s.load(events)
	return s
}

// Append adds e unless an event with the same client id is already present.
// Reports whether the log changed.
func (s *Store) Append(e event.Event) bool {
	return len(s.Merge([]event.Event{e})) == 1
}

// Merge adds every event whose client id is not yet present and returns the
// newly added ones in input order. Merging a known event is a no-op, so
// retried or duplicated deliveries never double-apply.
//
// A known event arriving with a server timestamp confirms the local copy: the
// timestamp is recorded without counting as a change to the log.
func (s *Store) Merge(events []event.Event) []event.Event {
	s.mu.Lock()
	var added []event.Event
	for _, e := range events {
		if i, ok := s.index[e.ClientID]; ok {
			if s.events[i].ServerTimestamp == nil && e.ServerTimestamp != nil {
				s.events[i].ServerTimestamp = e.ServerTimestamp
			}
			continue
		}
		s.index[e.ClientID] = len(s.events)
		s.events = append(s.events, e)
		added = append(added, e)
	}
	if len(added) > 0 {
		s.snapshot = nil
	}
	listeners := s.listenersLocked(len(added) > 0)
	s.mu.Unlock()

	notify(listeners)
	return added
}

// Replace discards the whole log in favor of events.
func (s *Store) Replace(events []event.Event) {
	s.mu.Lock()
	s.events = nil
	s.index = make(map[string]int, len(events))
	s.load(events)
	listeners := s.listenersLocked(true)
	s.mu.Unlock()

	notify(listeners)
}

// Remove deletes the events with the given client ids and reports how many
// were present. Derived state no longer reflects them.
func (s *Store) Remove(clientIDs ...string) int {
	s.mu.Lock()
	drop := make(map[string]struct{}, len(clientIDs))
	for _, id := range clientIDs {
		if _, ok := s.index[id]; ok {
			drop[id] = struct{}{}
		}
	}
	if len(drop) > 0 {
		kept := slices.DeleteFunc(s.events, func(e event.Event) bool {
			_, ok := drop[e.ClientID]
			return ok
		})
		s.events = nil
		s.index = make(map[string]int, len(kept))
		s.load(kept)
	}
	listeners := s.listenersLocked(len(drop) > 0)
	s.mu.Unlock()

	notify(listeners)
	return len(drop)
}

// Confirm stamps the local copy of each event with its server timestamp.
// Unknown client ids are ignored.
func (s *Store) Confirm(confirmed []event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range confirmed {
		if i, ok := s.index[e.ClientID]; ok && e.ServerTimestamp != nil {
			s.events[i].ServerTimestamp = e.ServerTimestamp
		}
	}
}

// Events returns a copy of the log in insertion order.
func (s *Store) Events() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.events)
}

// Get returns the event with clientID.
func (s *Store) Get(clientID string) (event.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[clientID]
	if !ok {
		return event.Event{}, false
	}
	return s.events[i], true
}

// Has reports whether an event with clientID is present.
func (s *Store) Has(clientID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[clientID]
	return ok
}

// Len returns the number of events.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// State returns the derived snapshot, recomputing it only when the log has
// changed since the last call. The returned value is a copy.
func (s *Store) State() derive.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked().Clone()
}

// Allowances returns the water and sun budget at now.
func (s *Store) Allowances(now time.Time) derive.Allowance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked().Allowance(now)
}

func (s *Store) snapshotLocked() *derive.State {
	if s.snapshot == nil {
		st := derive.Derive(s.events)
		s.snapshot = &st
	}
	return s.snapshot
}

// OnChange registers fn to run after every change to the log. fn runs on the
// mutating goroutine, outside the store's lock. The returned function
// unregisters it.
func (s *Store) OnChange(fn func()) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// load appends events without notifying. Caller holds mu or owns s.
func (s *Store) load(events []event.Event) {
	for _, e := range events {
		if _, ok := s.index[e.ClientID]; ok {
			continue
		}
		s.index[e.ClientID] = len(s.events)
		s.events = append(s.events, e)
	}
	s.snapshot = nil
}

func (s *Store) listenersLocked(changed bool) []func() {
	if !changed || len(s.listeners) == 0 {
		return nil
	}
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	return fns
}

func notify(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
