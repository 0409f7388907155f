package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/grove/internal/event"
)

// marshalPayload converts a payload to canonical JSON TEXT for storage.
func marshalPayload(p event.Payload) (string, error) {
	if p == nil {
		p = event.Payload{}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(data), nil
}

// unmarshalPayload parses stored JSON TEXT back into a payload.
func unmarshalPayload(data string) (event.Payload, error) {
	if data == "" || data == "{}" {
		return event.Payload{}, nil
	}
	var p event.Payload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return p, nil
}

// parseClientTimestamp parses a stored client timestamp.
func parseClientTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse client timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// EncodeRow converts an event into its stored column values. Exported for
// the Postgres store, which shares the layout.
func EncodeRow(e event.Event) (payload, clientTimestamp string, err error) {
	payload, err = marshalPayload(e.Payload)
	if err != nil {
		return "", "", err
	}
	return payload, event.FormatTimestamp(e.ClientTimestamp), nil
}

// DecodeRow rebuilds an event from stored column values.
func DecodeRow(kind, clientID, payload, clientTimestamp string, serverTimestamp time.Time) (event.Event, error) {
	p, err := unmarshalPayload(payload)
	if err != nil {
		return event.Event{}, err
	}
	at, err := parseClientTimestamp(clientTimestamp)
	if err != nil {
		return event.Event{}, err
	}
	return event.New(event.Kind(kind), clientID, at, p).WithServerTimestamp(serverTimestamp), nil
}
