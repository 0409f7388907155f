package event

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_Layout(t *testing.T) {
	e := New(KindSproutWatered, "c-1", t0, NewPayload(
		F(FieldSproutID, String("s-1")),
		F(FieldContent, String("a <b> & c")),
	)).WithServerTimestamp(t0.Add(time.Hour))

	got, err := MarshalCanonical(e)
	require.NoError(t, err)
	assert.Equal(t,
		`{"client_id":"c-1","client_timestamp":"2025-03-10T09:00:00Z","payload":{"content":"a <b> & c","sproutId":"s-1"},"type":"sprout-watered"}`,
		string(got),
		"server timestamp is excluded and HTML is not escaped",
	)
}

func TestMarshalCanonical_Numbers(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{2, "2"},
		{0.05, "0.05"},
		{-1.5, "-1.5"},
		{1e21, "1e+21"},
		{1e-7, "1e-7"},
	}
	for _, tt := range tests {
		e := New(KindSunShone, "c", t0, NewPayload(F("n", Number(tt.in))))
		got, err := MarshalCanonical(e)
		require.NoError(t, err)
		assert.Contains(t, string(got), `"payload":{"n":`+tt.want+`}`)
	}
}

func TestMarshalCanonical_NFCNormalization(t *testing.T) {
	decomposed := New(KindSunShone, "c", t0, NewPayload(F("t", String("e\u0301"))))
	composed := New(KindSunShone, "c", t0, NewPayload(F("t", String("\u00e9"))))

	a, err := MarshalCanonical(decomposed)
	require.NoError(t, err)
	b, err := MarshalCanonical(composed)
	require.NoError(t, err)
	assert.Equal(t, string(b), string(a))
}

func TestMarshalCanonical_LineSeparatorsLiteral(t *testing.T) {
	e := New(KindSunShone, "c", t0, NewPayload(F("t", String("a\u2028b"))))
	got, err := MarshalCanonical(e)
	require.NoError(t, err)
	assert.Contains(t, string(got), "a\u2028b")
	assert.NotContains(t, string(got), `\u2028`)
}

func TestMarshalCanonical_RejectsNonFinite(t *testing.T) {
	e := New(KindSunShone, "c", t0, Payload{"n": Number(math.Inf(1))})
	_, err := MarshalCanonical(e)
	assert.Error(t, err)
}

func TestUnescapeLineSeparators_KeepsEscapedBackslash(t *testing.T) {
	in := []byte(`"\\u2028"`)
	assert.Equal(t, string(in), string(unescapeLineSeparators(in)))
}
