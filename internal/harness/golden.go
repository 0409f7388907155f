package harness

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/grove/internal/derive"
	"github.com/roach88/grove/internal/event"
)

// Snapshot is the portable rendering of a derived state compared against
// golden files. Floats are fixed to four decimals and collections are
// ordered, so any implementation can produce the same bytes.
type Snapshot struct {
	Name          string             `json:"name"`
	SoilCapacity  string             `json:"soil_capacity"`
	SoilAvailable string             `json:"soil_available"`
	Skipped       int                `json:"skipped"`
	Sprouts       []SproutSnapshot   `json:"sprouts"`
	Leaves        []LeafSnapshot     `json:"leaves"`
	SunEntries    []SunSnapshot      `json:"sun_entries"`
	Allowance     *AllowanceSnapshot `json:"allowance,omitempty"`
}

// SproutSnapshot is one sprout of a Snapshot.
type SproutSnapshot struct {
	ID             string `json:"id"`
	State          string `json:"state"`
	SoilCost       int    `json:"soil_cost"`
	Waterings      int    `json:"waterings"`
	Result         int    `json:"result,omitempty"`
	CapacityGained string `json:"capacity_gained,omitempty"`
	SoilReturned   string `json:"soil_returned,omitempty"`
}

// LeafSnapshot is one leaf of a Snapshot.
type LeafSnapshot struct {
	ID     string `json:"id"`
	TwigID string `json:"twig_id"`
	Name   string `json:"name"`
}

// SunSnapshot is one sun entry of a Snapshot.
type SunSnapshot struct {
	TwigID string `json:"twig_id"`
	At     string `json:"at"`
}

// AllowanceSnapshot is the allowance at the vector's fixed now.
type AllowanceSnapshot struct {
	WaterRemaining int `json:"water_remaining"`
	SunRemaining   int `json:"sun_remaining"`
}

// NewSnapshot renders a result.
func NewSnapshot(name string, r *Result) Snapshot {
	s := Snapshot{
		Name:          name,
		SoilCapacity:  formatFloat(r.State.SoilCapacity),
		SoilAvailable: formatFloat(r.State.SoilAvailable),
		Skipped:       r.State.Skipped,
		Sprouts:       make([]SproutSnapshot, 0, len(r.State.Sprouts)),
		Leaves:        make([]LeafSnapshot, 0, len(r.State.Leaves)),
		SunEntries:    make([]SunSnapshot, 0, len(r.State.SunEntries)),
	}

	for _, sp := range r.State.Sprouts {
		snap := SproutSnapshot{
			ID:        sp.ID,
			State:     string(sp.State),
			SoilCost:  sp.SoilCost,
			Waterings: len(sp.WaterEntries),
		}
		switch sp.State {
		case derive.SproutCompleted:
			snap.Result = sp.Result
			snap.CapacityGained = formatFloat(sp.CapacityGained)
		case derive.SproutUprooted:
			snap.SoilReturned = formatFloat(sp.SoilReturned)
		}
		s.Sprouts = append(s.Sprouts, snap)
	}
	slices.SortFunc(s.Sprouts, func(a, b SproutSnapshot) int { return strings.Compare(a.ID, b.ID) })

	for _, l := range r.State.Leaves {
		s.Leaves = append(s.Leaves, LeafSnapshot{ID: l.ID, TwigID: l.TwigID, Name: l.Name})
	}
	slices.SortFunc(s.Leaves, func(a, b LeafSnapshot) int { return strings.Compare(a.ID, b.ID) })

	for _, sun := range r.State.SunEntries {
		s.SunEntries = append(s.SunEntries, SunSnapshot{TwigID: sun.TwigID, At: event.FormatTimestamp(sun.Timestamp)})
	}

	if r.Allowance != nil {
		s.Allowance = &AllowanceSnapshot{
			WaterRemaining: r.Allowance.WaterRemaining,
			SunRemaining:   r.Allowance.SunRemaining,
		}
	}
	return s
}

// Marshal renders the snapshot as indented JSON.
func (s Snapshot) Marshal() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

func formatFloat(f float64) string {
	return fmt.Sprintf("%.4f", f)
}

// RunWithGolden runs a vector, fails t on any assertion error and compares
// the snapshot with testdata/golden/{scenario.Name}.golden.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result with its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := NewSnapshot(name, result).Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}

// LoadScenarios loads every *.yaml vector in dir, ordered by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read vector dir: %w", err)
	}

	var out []*Scenario
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}
		s, err := LoadScenario(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Name(), err)
		}
		out = append(out, s)
	}
	return out, nil
}
