package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/grove/internal/event"
)

// Append inserts events for owner inside one transaction.
// Uses ON CONFLICT(owner_id, client_id) DO NOTHING for idempotency - a
// duplicate is counted, not returned as an error. Other constraint
// violations (e.g., NOT NULL) still fail the whole batch.
//
// Events are validated before anything is written; a malformed event fails
// the batch with an error matching event.ErrMalformed.
func (s *Store) Append(ctx context.Context, owner string, events []event.Event) (AppendResult, error) {
	if strings.TrimSpace(owner) == "" {
		return AppendResult{}, fmt.Errorf("append: owner is required")
	}
	for _, e := range events {
		if err := event.Validate(e); err != nil {
			return AppendResult{}, fmt.Errorf("append: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return AppendResult{}, fmt.Errorf("append: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events
		(owner_id, client_id, type, payload, client_timestamp, server_timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_id, client_id) DO NOTHING
	`)
	if err != nil {
		return AppendResult{}, fmt.Errorf("append: prepare: %w", err)
	}
	defer stmt.Close()

	result := AppendResult{Accepted: []event.Event{}}
	for _, e := range events {
		payload, clientTS, err := EncodeRow(e)
		if err != nil {
			return AppendResult{}, fmt.Errorf("append %s: %w", e.ClientID, err)
		}

		serverTS := s.clock.Next()
		res, err := stmt.ExecContext(ctx, owner, e.ClientID, string(e.Kind), payload, clientTS, serverTS.UnixMicro())
		if err != nil {
			return AppendResult{}, fmt.Errorf("append %s: %w", e.ClientID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return AppendResult{}, fmt.Errorf("append %s: %w", e.ClientID, err)
		}
		if n == 0 {
			result.Duplicates++
			continue
		}
		result.Accepted = append(result.Accepted, e.WithServerTimestamp(serverTS))
	}

	if err := tx.Commit(); err != nil {
		return AppendResult{}, fmt.Errorf("append: commit: %w", err)
	}
	return result, nil
}
