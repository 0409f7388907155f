package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces canonical JSON for an event, suitable for
// hashing. Object keys are sorted by UTF-16 code units, strings are NFC
// normalized, and HTML characters are not escaped.
//
// The server timestamp is deliberately excluded: two devices holding the same
// event must produce the same bytes whether or not their copy has been
// confirmed by the remote store yet.
func MarshalCanonical(e Event) ([]byte, error) {
	payload, err := marshalCanonicalPayload(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("canonical event %q: %w", e.ClientID, err)
	}

	var buf bytes.Buffer
	buf.WriteString(`{"client_id":`)
	if err := writeCanonicalString(&buf, e.ClientID); err != nil {
		return nil, err
	}
	buf.WriteString(`,"client_timestamp":`)
	if err := writeCanonicalString(&buf, FormatTimestamp(e.ClientTimestamp)); err != nil {
		return nil, err
	}
	buf.WriteString(`,"payload":`)
	buf.Write(payload)
	buf.WriteString(`,"type":`)
	if err := writeCanonicalString(&buf, string(e.Kind)); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalCanonicalList produces a canonical JSON array of events in the order
// given. Callers that need an order-independent encoding sort first.
func MarshalCanonicalList(events []Event) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, e := range events {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := MarshalCanonical(e)
		if err != nil {
			return nil, fmt.Errorf("event[%d]: %w", i, err)
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// FormatTimestamp renders t the way it appears on the wire: UTC, RFC 3339
// with nanosecond precision and trailing zeros trimmed.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func marshalCanonicalPayload(p Payload) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range p.SortedKeys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeCanonicalString(&buf, k); err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		buf.WriteByte(':')
		if err := writeCanonicalValue(&buf, p[k]); err != nil {
			return nil, fmt.Errorf("value for key %q: %w", k, err)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeCanonicalValue(buf *bytes.Buffer, v Value) error {
	switch val := v.(type) {
	case String:
		return writeCanonicalString(buf, string(val))
	case Number:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("non-finite number %v", f)
		}
		// encoding/json already emits the shortest round-trip form and
		// switches to exponent notation outside [1e-6, 1e21).
		b, err := json.Marshal(f)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	case Bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case nil:
		return fmt.Errorf("null is not a valid payload value")
	default:
		return fmt.Errorf("unsupported payload value type %T", v)
	}
}

// writeCanonicalString writes s NFC-normalized with only the escapes JSON
// requires. U+2028 and U+2029 are written literally.
func writeCanonicalString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return err
	}
	out := bytes.TrimSuffix(tmp.Bytes(), []byte{'\n'})
	out = unescapeLineSeparators(out)
	buf.Write(out)
	return nil
}

// unescapeLineSeparators turns the \u2028 and \u2029 escapes that
// encoding/json always emits back into literal characters, leaving an escaped
// backslash followed by "u2028" alone.
func unescapeLineSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}

	result := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] == '\\' && i+5 < len(data) && data[i+1] == 'u' &&
			data[i+2] == '2' && data[i+3] == '0' && data[i+4] == '2' &&
			(data[i+5] == '8' || data[i+5] == '9') {
			backslashes := 0
			for j := len(result) - 1; j >= 0 && result[j] == '\\'; j-- {
				backslashes++
			}
			if backslashes%2 == 0 {
				if data[i+5] == '8' {
					result = append(result, "\u2028"...)
				} else {
					result = append(result, "\u2029"...)
				}
				i += 5
				continue
			}
		}
		result = append(result, data[i])
	}
	return result
}
