package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/grove/internal/event"
)

// Version is the envelope layout version. A stored envelope with any other
// version is treated as corrupt and forces a full resync.
const Version = 1

// ErrCorrupt is returned by Load when the stored blob cannot be trusted.
var ErrCorrupt = errors.New("local cache corrupt")

// Snapshot is what the cache persists.
type Snapshot struct {
	// Events is the full local log, confirmed and pending.
	Events []event.Event

	// Watermark is the newest confirmed server timestamp, nil before the
	// first successful pull.
	Watermark *time.Time

	// Pending lists client ids of locally created events not yet accepted by
	// the remote store. Each one is also present in Events.
	Pending []string
}

// Empty reports whether nothing has been cached.
func (s Snapshot) Empty() bool {
	return len(s.Events) == 0 && s.Watermark == nil && len(s.Pending) == 0
}

type envelope struct {
	Version   int               `json:"version"`
	Watermark *time.Time        `json:"watermark,omitempty"`
	Events    []json.RawMessage `json:"events"`
	Pending   []string          `json:"pending"`
	Checksum  string            `json:"checksum"`
}

// Cache reads and writes Snapshots through a Blob.
type Cache struct {
	blob Blob
}

// New returns a Cache over blob.
func New(blob Blob) *Cache {
	return &Cache{blob: blob}
}

// Load reads the stored snapshot. An empty blob yields an empty snapshot and
// no error. A blob that cannot be trusted yields an empty snapshot and an
// error matching ErrCorrupt.
func (c *Cache) Load(ctx context.Context) (Snapshot, error) {
	data, err := c.blob.Get(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load cache: %w", err)
	}
	if len(data) == 0 {
		return Snapshot{}, nil
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if env.Version != Version {
		return Snapshot{}, fmt.Errorf("%w: version %d, want %d", ErrCorrupt, env.Version, Version)
	}

	events, dropped, err := event.DecodeRaw(env.Events)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if dropped > 0 {
		return Snapshot{}, fmt.Errorf("%w: %d undecodable events", ErrCorrupt, dropped)
	}

	sum, err := event.LogHash(events)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if sum != env.Checksum {
		return Snapshot{}, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	known := make(map[string]struct{}, len(events))
	for _, e := range events {
		known[e.ClientID] = struct{}{}
	}
	for _, id := range env.Pending {
		if _, ok := known[id]; !ok {
			return Snapshot{}, fmt.Errorf("%w: pending event %q not in log", ErrCorrupt, id)
		}
	}

	return Snapshot{Events: events, Watermark: env.Watermark, Pending: env.Pending}, nil
}

// Save replaces the stored snapshot.
func (c *Cache) Save(ctx context.Context, snap Snapshot) error {
	sum, err := event.LogHash(snap.Events)
	if err != nil {
		return fmt.Errorf("save cache: %w", err)
	}

	raws := make([]json.RawMessage, 0, len(snap.Events))
	for _, e := range snap.Events {
		raw, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("save cache: encode %s: %w", e, err)
		}
		raws = append(raws, raw)
	}

	pending := snap.Pending
	if pending == nil {
		pending = []string{}
	}

	data, err := json.Marshal(envelope{
		Version:   Version,
		Watermark: snap.Watermark,
		Events:    raws,
		Pending:   pending,
		Checksum:  sum,
	})
	if err != nil {
		return fmt.Errorf("save cache: %w", err)
	}

	if err := c.blob.Set(ctx, data); err != nil {
		return fmt.Errorf("save cache: %w", err)
	}
	return nil
}

// Clear discards the stored snapshot.
func (c *Cache) Clear(ctx context.Context) error {
	if err := c.blob.Clear(ctx); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}
