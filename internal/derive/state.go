package derive

import (
	"maps"
	"slices"
	"time"

	"github.com/roach88/grove/internal/event"
)

// SproutState is the lifecycle state of a sprout. Completed and uprooted are
// terminal.
type SproutState string

const (
	SproutActive    SproutState = "active"
	SproutCompleted SproutState = "completed"
	SproutUprooted  SproutState = "uprooted"
)

// Terminal reports whether no further events may change a sprout in state s.
func (s SproutState) Terminal() bool {
	return s == SproutCompleted || s == SproutUprooted
}

// State is the snapshot derived from the log. It has no lifecycle of its
// own and is recomputed whenever the log changes.
type State struct {
	SoilCapacity  float64           `json:"soil_capacity"`
	SoilAvailable float64           `json:"soil_available"`
	Sprouts       map[string]Sprout `json:"sprouts"`
	Leaves        map[string]Leaf   `json:"leaves"`
	SunEntries    []SunEntry        `json:"sun_entries"`

	// Skipped counts events that did not contribute: malformed or of an
	// unknown kind. Dangling references are not counted.
	Skipped int `json:"skipped"`
}

// Sprout is a goal instance.
type Sprout struct {
	ID            string            `json:"id"`
	TwigID        string            `json:"twig_id"`
	Title         string            `json:"title"`
	Season        event.Season      `json:"season"`
	Environment   event.Environment `json:"environment"`
	SoilCost      int               `json:"soil_cost"`
	LeafID        string            `json:"leaf_id,omitempty"`
	BloomWither   string            `json:"bloom_wither,omitempty"`
	BloomBudding  string            `json:"bloom_budding,omitempty"`
	BloomFlourish string            `json:"bloom_flourish,omitempty"`
	State         SproutState       `json:"state"`
	PlantedAt     time.Time         `json:"planted_at"`
	WaterEntries  []WaterEntry      `json:"water_entries"`

	// Set on completion.
	HarvestedAt    *time.Time `json:"harvested_at,omitempty"`
	Result         int        `json:"result,omitempty"`
	Reflection     string     `json:"reflection,omitempty"`
	CapacityGained float64    `json:"capacity_gained,omitempty"`

	// Set on uproot.
	UprootedAt   *time.Time `json:"uprooted_at,omitempty"`
	SoilReturned float64    `json:"soil_returned,omitempty"`
}

// WaterEntry is a journal entry recorded by an approved watering.
type WaterEntry struct {
	ClientID  string    `json:"client_id"`
	Content   string    `json:"content"`
	Prompt    string    `json:"prompt,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Leaf is a named grouping of sprouts under a twig.
type Leaf struct {
	ID        string    `json:"id"`
	TwigID    string    `json:"twig_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// SunEntry is a weekly reflection tied to a twig.
type SunEntry struct {
	ClientID  string    `json:"client_id"`
	TwigID    string    `json:"twig_id"`
	TwigLabel string    `json:"twig_label"`
	Content   string    `json:"content"`
	Prompt    string    `json:"prompt,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Clone returns a deep copy so callers may hold a snapshot while the log
// keeps changing.
func (s State) Clone() State {
	out := s
	out.Sprouts = make(map[string]Sprout, len(s.Sprouts))
	for id, sp := range s.Sprouts {
		sp.WaterEntries = slices.Clone(sp.WaterEntries)
		out.Sprouts[id] = sp
	}
	out.Leaves = maps.Clone(s.Leaves)
	if out.Leaves == nil {
		out.Leaves = map[string]Leaf{}
	}
	out.SunEntries = slices.Clone(s.SunEntries)
	return out
}

// ActiveSprouts returns active sprouts ordered by planting time, then id.
func (s State) ActiveSprouts() []Sprout {
	return s.sproutsWhere(func(sp Sprout) bool { return sp.State == SproutActive })
}

// SproutsByTwig returns every sprout of a twig ordered by planting time.
func (s State) SproutsByTwig(twigID string) []Sprout {
	return s.sproutsWhere(func(sp Sprout) bool { return sp.TwigID == twigID })
}

// SproutsByLeaf returns every sprout grouped under a leaf ordered by planting
// time.
func (s State) SproutsByLeaf(leafID string) []Sprout {
	return s.sproutsWhere(func(sp Sprout) bool { return sp.LeafID == leafID })
}

func (s State) sproutsWhere(keep func(Sprout) bool) []Sprout {
	var out []Sprout
	for _, sp := range s.Sprouts {
		if keep(sp) {
			out = append(out, sp)
		}
	}
	slices.SortFunc(out, func(a, b Sprout) int {
		if c := a.PlantedAt.Compare(b.PlantedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out
}
