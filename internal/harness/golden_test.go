package harness

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestVectors runs every shared vector and compares it with its golden file.
// Regenerate with: go test ./internal/harness -run TestVectors -update
func TestVectors(t *testing.T) {
	scenarios, err := LoadScenarios("testdata/vectors")
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	for _, s := range scenarios {
		t.Run(s.Name, func(t *testing.T) {
			require.NoError(t, RunWithGolden(t, s))
		})
	}
}

func TestSnapshot_Marshal(t *testing.T) {
	s, err := ParseScenario([]byte(validVector))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)

	data, err := NewSnapshot(s.Name, result).Marshal()
	require.NoError(t, err)

	require.JSONEq(t, `{
		"name": "test_vector",
		"soil_capacity": "10.0000",
		"soil_available": "5.0000",
		"skipped": 0,
		"sprouts": [{"id": "s1", "state": "active", "soil_cost": 5, "waterings": 0}],
		"leaves": [],
		"sun_entries": [],
		"allowance": {"water_remaining": 3, "sun_remaining": 1}
	}`, string(data))
}
