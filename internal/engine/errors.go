package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/grove/internal/remote"
)

// ErrQueued marks a write that was applied locally but not yet delivered.
// The event stays in the retry queue and is re-sent on the next sync, so
// callers treat it as a status indicator rather than a failure.
var ErrQueued = errors.New("event queued for retry")

// SyncError is a failure talking to the remote store.
//
// Only ErrCodeUnauthorized is permanent. Offline errors degrade the engine to
// cached state; rejected events are dropped from the retry queue.
type SyncError struct {
	// Code identifies the error category.
	Code SyncErrorCode

	// Op is the operation that failed: "pull", "push" or "subscribe".
	Op string

	// Err is the underlying transport error.
	Err error
}

// SyncErrorCode categorizes sync errors.
type SyncErrorCode string

const (
	// ErrCodeOffline indicates the remote could not be reached.
	ErrCodeOffline SyncErrorCode = "OFFLINE"

	// ErrCodeUnauthorized indicates the identity was refused.
	ErrCodeUnauthorized SyncErrorCode = "UNAUTHORIZED"

	// ErrCodeRejected indicates the remote refused an event as malformed.
	ErrCodeRejected SyncErrorCode = "REJECTED"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Op, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// IsUnauthorized reports whether err is a permanent authentication failure.
func IsUnauthorized(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == ErrCodeUnauthorized
	}
	return errors.Is(err, remote.ErrUnauthorized)
}

// IsOffline reports whether err came from an unreachable remote.
func IsOffline(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == ErrCodeOffline
	}
	return false
}

// newSyncError classifies a remote error. Context cancellation is returned
// unchanged.
func newSyncError(op string, err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	code := ErrCodeOffline
	switch {
	case errors.Is(err, remote.ErrUnauthorized):
		code = ErrCodeUnauthorized
	case errors.Is(err, remote.ErrRejected):
		code = ErrCodeRejected
	}
	return &SyncError{Code: code, Op: op, Err: err}
}
