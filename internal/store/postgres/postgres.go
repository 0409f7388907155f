// Package postgres implements the authoritative event log on PostgreSQL via
// pgx. It shares the row layout and server clock of the SQLite store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/grove/internal/event"
	"github.com/roach88/grove/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
    seq              BIGSERIAL PRIMARY KEY,
    owner_id         TEXT        NOT NULL,
    client_id        TEXT        NOT NULL,
    type             TEXT        NOT NULL,
    payload          JSONB       NOT NULL,
    client_timestamp TEXT        NOT NULL,
    server_timestamp TIMESTAMPTZ NOT NULL,
    UNIQUE (owner_id, client_id)
);
CREATE INDEX IF NOT EXISTS idx_events_owner_server ON events(owner_id, server_timestamp);
`

// Store is a Postgres-backed event log.
type Store struct {
	Pool  *pgxpool.Pool
	clock *store.Clock
}

var _ store.Log = (*Store)(nil)

// NewPool opens a connection pool for databaseURL.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnIdleTime = 5 * time.Minute
	return pgxpool.NewWithConfig(ctx, config)
}

// Open connects to databaseURL, creates the schema if needed and resumes the
// server clock after the newest stored timestamp.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := NewPool(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	s, err := New(ctx, pool, store.NewClock(time.Now))
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool.
func New(ctx context.Context, pool *pgxpool.Pool, clock *store.Clock) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	var last *time.Time
	if err := pool.QueryRow(ctx, `SELECT MAX(server_timestamp) FROM events`).Scan(&last); err != nil {
		return nil, fmt.Errorf("read last server timestamp: %w", err)
	}
	if last != nil {
		clock.Observe(*last)
	}

	return &Store{Pool: pool, clock: clock}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.Pool.Close()
	return nil
}

// Append inserts events for owner in one transaction. Duplicates on
// (owner_id, client_id) are counted, not returned as errors.
//
// A transaction-scoped advisory lock serializes appenders across
// connections and processes. Under the lock the clock observes the newest
// committed server timestamp, so several servers sharing one database still
// hand out strictly increasing timestamps in commit order.
func (s *Store) Append(ctx context.Context, owner string, events []event.Event) (store.AppendResult, error) {
	if strings.TrimSpace(owner) == "" {
		return store.AppendResult{}, fmt.Errorf("append: owner is required")
	}
	for _, e := range events {
		if err := event.Validate(e); err != nil {
			return store.AppendResult{}, fmt.Errorf("append: %w", err)
		}
	}

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return store.AppendResult{}, fmt.Errorf("append: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('grove.events'))`); err != nil {
		return store.AppendResult{}, fmt.Errorf("append: lock: %w", err)
	}

	var last *time.Time
	if err := tx.QueryRow(ctx, `SELECT MAX(server_timestamp) FROM events`).Scan(&last); err != nil {
		return store.AppendResult{}, fmt.Errorf("append: read last server timestamp: %w", err)
	}
	if last != nil {
		s.clock.Observe(*last)
	}

	result := store.AppendResult{Accepted: []event.Event{}}
	for _, e := range events {
		payload, clientTS, err := store.EncodeRow(e)
		if err != nil {
			return store.AppendResult{}, fmt.Errorf("append %s: %w", e.ClientID, err)
		}

		serverTS := s.clock.Next()
		var seq int64
		err = tx.QueryRow(ctx, `
			INSERT INTO events (owner_id, client_id, type, payload, client_timestamp, server_timestamp)
			VALUES ($1, $2, $3, $4::jsonb, $5, $6)
			ON CONFLICT (owner_id, client_id) DO NOTHING
			RETURNING seq
		`, owner, e.ClientID, string(e.Kind), payload, clientTS, serverTS).Scan(&seq)
		if errors.Is(err, pgx.ErrNoRows) {
			result.Duplicates++
			continue
		}
		if err != nil {
			return store.AppendResult{}, fmt.Errorf("append %s: %w", e.ClientID, err)
		}
		result.Accepted = append(result.Accepted, e.WithServerTimestamp(serverTS))
	}

	if err := tx.Commit(ctx); err != nil {
		return store.AppendResult{}, fmt.Errorf("append: commit: %w", err)
	}
	return result, nil
}

// Since returns owner's events after since (all when nil), ordered by
// server timestamp then seq.
func (s *Store) Since(ctx context.Context, owner string, since *time.Time) ([]event.Event, error) {
	after := time.Unix(0, 0).UTC()
	if since != nil {
		after = *since
	}

	rows, err := s.Pool.Query(ctx, `
		SELECT client_id, type, payload::text, client_timestamp, server_timestamp
		FROM events
		WHERE owner_id = $1 AND server_timestamp > $2
		ORDER BY server_timestamp ASC, seq ASC
	`, owner, after)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []event.Event{}
	for rows.Next() {
		var (
			clientID, kind, payload, clientTS string
			serverTS                          time.Time
		)
		if err := rows.Scan(&clientID, &kind, &payload, &clientTS, &serverTS); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e, err := store.DecodeRow(kind, clientID, payload, clientTS, serverTS)
		if err != nil {
			return nil, fmt.Errorf("decode event %s: %w", clientID, err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
