package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/grove/internal/event"
)

// Since returns owner's events with server_timestamp after since (or all of
// them when since is nil). Results are ordered deterministically:
// ORDER BY server_timestamp ASC, seq ASC.
//
// Returns an empty slice (not nil) if no events match.
func (s *Store) Since(ctx context.Context, owner string, since *time.Time) ([]event.Event, error) {
	after := int64(-1)
	if since != nil {
		after = since.UnixMicro()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT client_id, type, payload, client_timestamp, server_timestamp
		FROM events
		WHERE owner_id = ? AND server_timestamp > ?
		ORDER BY server_timestamp ASC, seq ASC
	`, owner, after)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []event.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}

// lastServerTimestamp returns the newest stored server timestamp, or the
// zero time for an empty store.
func (s *Store) lastServerTimestamp(ctx context.Context) (time.Time, error) {
	var micros sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(server_timestamp) FROM events`).Scan(&micros); err != nil {
		return time.Time{}, fmt.Errorf("read last server timestamp: %w", err)
	}
	if !micros.Valid {
		return time.Time{}, nil
	}
	return time.UnixMicro(micros.Int64).UTC(), nil
}

func scanEvent(rows *sql.Rows) (event.Event, error) {
	var (
		clientID, kind, payload, clientTS string
		serverMicros                      int64
	)
	if err := rows.Scan(&clientID, &kind, &payload, &clientTS, &serverMicros); err != nil {
		return event.Event{}, fmt.Errorf("scan event: %w", err)
	}
	e, err := DecodeRow(kind, clientID, payload, clientTS, time.UnixMicro(serverMicros))
	if err != nil {
		return event.Event{}, fmt.Errorf("decode event %s: %w", clientID, err)
	}
	return e, nil
}
