package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"
	"unicode/utf16"
)

// Value is a sealed interface over the primitive payload value types.
// Only String, Number and Bool implement it. Null, arrays and objects are
// rejected at the decode boundary.
type Value interface {
	payloadValue() // Sealed - only these types implement it
}

// String is a string payload value.
type String string

func (String) payloadValue() {}

// Number is a numeric payload value. Integers travel as Numbers too and are
// checked for integrality by Payload.Int.
type Number float64

func (Number) payloadValue() {}

// Bool is a boolean payload value.
type Bool bool

func (Bool) payloadValue() {}

// Field is a key-value pair for Payload construction.
type Field struct {
	Key   string
	Value Value
}

// F is shorthand for Field.
// Example: NewPayload(F("sproutId", String("s-1")), F("soilCost", Number(2)))
func F(key string, value Value) Field {
	return Field{Key: key, Value: value}
}

// Payload holds the kind-specific fields of an event.
type Payload map[string]Value

// NewPayload builds a Payload from fields. Nil values are skipped so optional
// fields can be passed unconditionally.
func NewPayload(fields ...Field) Payload {
	p := make(Payload, len(fields))
	for _, f := range fields {
		if f.Value == nil {
			continue
		}
		p[f.Key] = f.Value
	}
	return p
}

// Has reports whether key is present.
func (p Payload) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// String returns the string stored under key.
func (p Payload) String(key string) (string, bool) {
	v, ok := p[key].(String)
	return string(v), ok
}

// StringOr returns the string stored under key, or def when absent or not a string.
func (p Payload) StringOr(key, def string) string {
	if s, ok := p.String(key); ok {
		return s
	}
	return def
}

// Number returns the number stored under key.
func (p Payload) Number(key string) (float64, bool) {
	v, ok := p[key].(Number)
	return float64(v), ok
}

// Int returns the number stored under key when it is integral and fits in
// an int.
func (p Payload) Int(key string) (int, bool) {
	f, ok := p.Number(key)
	if !ok || f != math.Trunc(f) || f < math.MinInt || f >= math.MaxInt {
		return 0, false
	}
	return int(f), true
}

// Bool returns the bool stored under key.
func (p Payload) Bool(key string) (bool, bool) {
	v, ok := p[key].(Bool)
	return bool(v), ok
}

// SortedKeys returns keys in canonical order (UTF-16 code units).
// Go's default string comparison uses UTF-8, which orders some non-BMP
// characters differently.
func (p Payload) SortedKeys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysUTF16)
	return keys
}

func compareKeysUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	return slices.Compare(a16, b16)
}

// Clone returns a shallow copy. Values are immutable so a shallow copy is a
// full copy.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// MarshalJSON writes the payload with sorted keys.
func (p Payload) MarshalJSON() ([]byte, error) {
	return marshalCanonicalPayload(p)
}

// UnmarshalJSON decodes a JSON object of primitive values.
func (p *Payload) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = Payload{}
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*p = make(Payload, len(raw))
	for k, v := range raw {
		val, err := decodeValue(v)
		if err != nil {
			return fmt.Errorf("payload key %q: %w", k, err)
		}
		(*p)[k] = val
	}
	return nil
}

// decodeValue converts a raw JSON value into a payload Value.
func decodeValue(data json.RawMessage) (Value, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty JSON value")
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return String(s), nil

	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return Bool(b), nil

	case 'n':
		return nil, fmt.Errorf("null is not a valid payload value")

	case '[', '{':
		return nil, fmt.Errorf("nested values are not allowed in payloads")

	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, err
		}
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %s: %w", strings.TrimSpace(string(data)), err)
		}
		return Number(f), nil
	}
}
