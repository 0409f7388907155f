package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/grove/internal/derive"
	"github.com/roach88/grove/internal/event"
)

// Scenario is a golden test vector.
type Scenario struct {
	// Name uniquely identifies the vector and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the vector pins down.
	Description string `yaml:"description"`

	// Now fixes the clock for allowance assertions (RFC 3339). Optional.
	Now string `yaml:"now,omitempty"`

	// Permutations is how many shuffled arrival orders must derive the same
	// state as the given order.
	Permutations int `yaml:"permutations,omitempty"`

	// Redeliver adds a second copy of every event to each shuffled order.
	Redeliver bool `yaml:"redeliver,omitempty"`

	// Events is the log in arrival order.
	Events []EventStep `yaml:"events"`

	// Assertions validate the derived state.
	Assertions []Assertion `yaml:"assertions"`
}

// EventStep is one event of a vector. Fields may be left out on purpose to
// build malformed events.
type EventStep struct {
	Type     string         `yaml:"type"`
	ClientID string         `yaml:"client_id"`
	At       string         `yaml:"at"`
	Payload  map[string]any `yaml:"payload"`
}

// Assertion validates part of the derived state.
type Assertion struct {
	// Type is one of soil, sprout, count or allowance.
	Type string `yaml:"type"`

	// soil
	Capacity  *float64 `yaml:"capacity,omitempty"`
	Available *float64 `yaml:"available,omitempty"`

	// Tolerance for float comparisons; DefaultTolerance when zero.
	Tolerance float64 `yaml:"tolerance,omitempty"`

	// sprout
	ID             string   `yaml:"id,omitempty"`
	State          string   `yaml:"state,omitempty"`
	Waterings      *int     `yaml:"waterings,omitempty"`
	Result         *int     `yaml:"result,omitempty"`
	CapacityGained *float64 `yaml:"capacity_gained,omitempty"`
	SoilReturned   *float64 `yaml:"soil_returned,omitempty"`

	// count
	Of    string `yaml:"of,omitempty"`
	Count int    `yaml:"count,omitempty"`

	// allowance
	WaterRemaining *int `yaml:"water_remaining,omitempty"`
	SunRemaining   *int `yaml:"sun_remaining,omitempty"`
}

// Assertion type constants.
const (
	AssertSoil      = "soil"
	AssertSprout    = "sprout"
	AssertCount     = "count"
	AssertAllowance = "allowance"
)

// Count targets.
const (
	CountSprouts       = "sprouts"
	CountActiveSprouts = "active_sprouts"
	CountLeaves        = "leaves"
	CountSunEntries    = "sun_entries"
	CountSkipped       = "skipped"
)

// DefaultTolerance bounds float comparisons in assertions.
const DefaultTolerance = 1e-9

// LoadScenario reads and parses a vector file. Unknown fields are rejected
// so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vector file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses a vector from YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid vector: %w", err)
	}
	return &scenario, nil
}

// BuildEvents converts the vector's steps into events.
func (s *Scenario) BuildEvents() ([]event.Event, error) {
	events := make([]event.Event, 0, len(s.Events))
	for i, step := range s.Events {
		e, err := step.Event()
		if err != nil {
			return nil, fmt.Errorf("events[%d]: %w", i, err)
		}
		events = append(events, e)
	}
	return events, nil
}

// NowTime parses Now. The zero time is returned when Now is empty.
func (s *Scenario) NowTime() (time.Time, error) {
	if s.Now == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s.Now)
}

// Event converts the step. A missing timestamp yields the zero time, which
// derivation treats as malformed.
func (step EventStep) Event() (event.Event, error) {
	var at time.Time
	if step.At != "" {
		parsed, err := time.Parse(time.RFC3339Nano, step.At)
		if err != nil {
			return event.Event{}, fmt.Errorf("invalid at %q: %w", step.At, err)
		}
		at = parsed
	}

	payload := make(event.Payload, len(step.Payload))
	for key, raw := range step.Payload {
		v, err := toValue(raw)
		if err != nil {
			return event.Event{}, fmt.Errorf("payload.%s: %w", key, err)
		}
		payload[key] = v
	}
	return event.New(event.Kind(step.Type), step.ClientID, at, payload), nil
}

func toValue(raw any) (event.Value, error) {
	switch v := raw.(type) {
	case string:
		return event.String(v), nil
	case int:
		return event.Number(v), nil
	case float64:
		return event.Number(v), nil
	case bool:
		return event.Bool(v), nil
	default:
		return nil, fmt.Errorf("unsupported value %v (%T)", raw, raw)
	}
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.Permutations < 0 {
		return fmt.Errorf("permutations must be non-negative")
	}
	if _, err := s.NowTime(); err != nil {
		return fmt.Errorf("invalid now: %w", err)
	}
	if _, err := s.BuildEvents(); err != nil {
		return err
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], s.Now != ""); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, hasNow bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertSoil:
		if a.Capacity == nil && a.Available == nil {
			return fmt.Errorf("assertions[%d]: capacity or available is required for soil", index)
		}
	case AssertSprout:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for sprout", index)
		}
		switch derive.SproutState(a.State) {
		case "", derive.SproutActive, derive.SproutCompleted, derive.SproutUprooted:
		default:
			return fmt.Errorf("assertions[%d]: unknown sprout state %q", index, a.State)
		}
	case AssertCount:
		switch a.Of {
		case CountSprouts, CountActiveSprouts, CountLeaves, CountSunEntries, CountSkipped:
		default:
			return fmt.Errorf("assertions[%d]: unknown count target %q", index, a.Of)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertAllowance:
		if !hasNow {
			return fmt.Errorf("assertions[%d]: allowance requires now", index)
		}
		if a.WaterRemaining == nil && a.SunRemaining == nil {
			return fmt.Errorf("assertions[%d]: water_remaining or sun_remaining is required for allowance", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
