package event

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Event is an immutable fact in the log.
type Event struct {
	// Kind selects which payload fields are required and how derivation
	// folds the event.
	Kind Kind `json:"type"`

	// Payload carries every field needed for later derivation. Events never
	// reference "current" state; identifiers are embedded, never indexes.
	Payload Payload `json:"payload"`

	// ClientID uniquely identifies this event instance. It is generated by
	// the originating client and is the deduplication key.
	ClientID string `json:"client_id"`

	// ClientTimestamp is assigned by the originating client and is the only
	// timestamp used for ordering and time-window calculations.
	ClientTimestamp time.Time `json:"client_timestamp"`

	// ServerTimestamp is assigned by the remote store on acceptance. It is
	// nil until the event has been confirmed and is used only as a pull
	// watermark.
	ServerTimestamp *time.Time `json:"server_timestamp,omitempty"`
}

// New creates an event with a normalized UTC client timestamp.
func New(kind Kind, clientID string, at time.Time, payload Payload) Event {
	if payload == nil {
		payload = Payload{}
	}
	return Event{
		Kind:            kind,
		Payload:         payload,
		ClientID:        clientID,
		ClientTimestamp: at.UTC(),
	}
}

// WithServerTimestamp returns a copy of e stamped with the server acceptance
// time. The receiver is left untouched.
func (e Event) WithServerTimestamp(ts time.Time) Event {
	stamped := ts.UTC()
	e.ServerTimestamp = &stamped
	return e
}

// SproutID returns the sprout identifier carried by sprout events.
func (e Event) SproutID() string {
	return e.Payload.StringOr(FieldSproutID, "")
}

// String renders a short description for logs.
func (e Event) String() string {
	return fmt.Sprintf("%s[%s @ %s]", e.Kind, e.ClientID, e.ClientTimestamp.Format(time.RFC3339Nano))
}

// Compare orders events by client timestamp, breaking ties by client id in
// lexical order. This is the only ordering derivation relies on.
func Compare(a, b Event) int {
	if c := a.ClientTimestamp.Compare(b.ClientTimestamp); c != 0 {
		return c
	}
	return strings.Compare(a.ClientID, b.ClientID)
}

// Sort returns a copy of events in derivation order. The input is not
// modified.
func Sort(events []Event) []Event {
	sorted := slices.Clone(events)
	slices.SortStableFunc(sorted, Compare)
	return sorted
}

// MaxServerTimestamp returns the newest server timestamp among events, or nil
// when none of them has been confirmed.
func MaxServerTimestamp(events []Event) *time.Time {
	var latest *time.Time
	for i := range events {
		ts := events[i].ServerTimestamp
		if ts == nil {
			continue
		}
		if latest == nil || ts.After(*latest) {
			t := *ts
			latest = &t
		}
	}
	return latest
}

// DecodeList decodes a JSON array of events one element at a time. Elements
// that fail to decode are skipped and counted instead of failing the whole
// batch, so one malformed event never hides the rest of the log.
func DecodeList(data []byte) ([]Event, int, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, 0, fmt.Errorf("decode event list: %w", err)
	}
	return DecodeRaw(raws)
}

// DecodeRaw decodes already-split raw events. See DecodeList.
func DecodeRaw(raws []json.RawMessage) ([]Event, int, error) {
	events := make([]Event, 0, len(raws))
	dropped := 0
	for _, raw := range raws {
		var e Event
		if err := json.Unmarshal(raw, &e); err != nil {
			dropped++
			continue
		}
		events = append(events, e)
	}
	return events, dropped, nil
}
