// Package remote is the sync engine's view of the authoritative store.
//
// Remote abstracts the transport: Client speaks HTTP and websocket to a grove
// server, Memory is an in-process store for tests and offline demos.
package remote

import (
	"context"
	"errors"
	"time"

	"github.com/roach88/grove/internal/event"
)

var (
	// ErrUnauthorized is a permanent authentication failure. It is the only
	// remote error surfaced to the user as something to act on.
	ErrUnauthorized = errors.New("remote: unauthorized")

	// ErrUnavailable covers network failures and server errors. Callers
	// degrade to cached state and retry later.
	ErrUnavailable = errors.New("remote: unavailable")

	// ErrRejected means the remote refused a batch as malformed. Retrying the
	// same batch cannot succeed.
	ErrRejected = errors.New("remote: rejected")
)

// PushResult reports the outcome of a push. A duplicate is a success: the
// event was already applied by an earlier attempt.
type PushResult struct {
	Accepted   int
	Duplicates int

	// Confirmed holds the accepted events stamped with server timestamps.
	Confirmed []event.Event
}

// Subscription is an open realtime channel.
type Subscription interface {
	// Done is closed when the channel ends for any reason.
	Done() <-chan struct{}

	// Err reports why the channel ended; nil while open or after Close.
	Err() error

	Close() error
}

// Remote is the authoritative store contract.
type Remote interface {
	// Pull returns events with a server timestamp after since (all events
	// when since is nil), ordered by server timestamp.
	Pull(ctx context.Context, since *time.Time) ([]event.Event, error)

	// Push inserts events. Duplicate client ids are reported, not rejected.
	Push(ctx context.Context, events []event.Event) (PushResult, error)

	// Subscribe delivers events committed after the call, from any device
	// of the same identity, until ctx is canceled or the channel drops.
	Subscribe(ctx context.Context, onEvent func(event.Event)) (Subscription, error)
}

// IsTransient reports whether err is worth retrying later.
func IsTransient(err error) bool {
	return err != nil && !errors.Is(err, ErrUnauthorized) && !errors.Is(err, ErrRejected)
}
