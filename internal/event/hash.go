package event

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashing. The version suffix leaves room for a
// future algorithm change without ambiguity.
const (
	DomainEvent = "grove/event/v1"
	DomainLog   = "grove/log/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Hash returns the content hash of a single event.
func Hash(e Event) (string, error) {
	canonical, err := MarshalCanonical(e)
	if err != nil {
		return "", fmt.Errorf("hash event: %w", err)
	}
	return hashWithDomain(DomainEvent, canonical), nil
}

// LogHash returns a content hash of the whole log that is independent of
// arrival order: events are sorted into derivation order before hashing.
// Two logs with the same hash derive the same state.
func LogHash(events []Event) (string, error) {
	canonical, err := MarshalCanonicalList(Sort(events))
	if err != nil {
		return "", fmt.Errorf("hash log: %w", err)
	}
	return hashWithDomain(DomainLog, canonical), nil
}

// MustLogHash is like LogHash but panics on error.
// Use only in tests or when events are known to be valid.
func MustLogHash(events []Event) string {
	h, err := LogHash(events)
	if err != nil {
		panic(err)
	}
	return h
}
