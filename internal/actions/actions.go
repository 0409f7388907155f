// Package actions turns user intents into well-formed events.
//
// A Builder checks an intent against the current derived state and allowance
// (enough soil, water or sun left, sprout still active) and returns the event
// to record. It never records anything itself: callers hand the event to the
// sync engine. Derivation stays tolerant of events that would fail these
// checks, since another device may have written them concurrently.
package actions

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/grove/internal/derive"
	"github.com/roach88/grove/internal/economy"
	"github.com/roach88/grove/internal/event"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnknownSprout    = errors.New("unknown sprout")
	ErrSproutNotActive  = errors.New("sprout is not active")
	ErrUnknownLeaf      = errors.New("unknown leaf")
	ErrInsufficientSoil = errors.New("not enough soil")
	ErrNoWaterLeft      = errors.New("no water left today")
	ErrNoSunLeft        = errors.New("no sun left this week")
)

// Builder creates events stamped with its clock and ids from its generator.
type Builder struct {
	ids event.IDGenerator
	now func() time.Time
}

// NewBuilder returns a Builder. ids supplies client ids as well as new sprout
// and leaf ids.
func NewBuilder(ids event.IDGenerator, now func() time.Time) *Builder {
	return &Builder{ids: ids, now: now}
}

// Plant describes a new sprout.
type Plant struct {
	TwigID        string
	Title         string
	Season        event.Season
	Environment   event.Environment
	LeafID        string
	BloomWither   string
	BloomBudding  string
	BloomFlourish string
}

// Plant returns a sprout-planted event with a fresh sprout id. The soil cost
// comes from the season and environment and must fit in available soil.
func (b *Builder) Plant(state derive.State, in Plant) (event.Event, error) {
	if err := required("twig", in.TwigID); err != nil {
		return event.Event{}, err
	}
	if err := required("title", in.Title); err != nil {
		return event.Event{}, err
	}
	cost, ok := economy.SoilCost(in.Season, in.Environment)
	if !ok {
		return event.Event{}, fmt.Errorf("%w: season %q with environment %q", ErrInvalidInput, in.Season, in.Environment)
	}
	if in.LeafID != "" {
		if _, ok := state.Leaves[in.LeafID]; !ok {
			return event.Event{}, fmt.Errorf("%w: %s", ErrUnknownLeaf, in.LeafID)
		}
	}
	if float64(cost) > state.SoilAvailable {
		return event.Event{}, fmt.Errorf("%w: need %d, have %.2f", ErrInsufficientSoil, cost, state.SoilAvailable)
	}

	fields := []event.Field{
		event.F(event.FieldSproutID, event.String(b.ids.Generate())),
		event.F(event.FieldTwigID, event.String(in.TwigID)),
		event.F(event.FieldTitle, event.String(in.Title)),
		event.F(event.FieldSeason, event.String(string(in.Season))),
		event.F(event.FieldEnvironment, event.String(string(in.Environment))),
		event.F(event.FieldSoilCost, event.Number(cost)),
	}
	fields = appendOptional(fields, event.FieldLeafID, in.LeafID)
	fields = appendOptional(fields, event.FieldBloomWither, in.BloomWither)
	fields = appendOptional(fields, event.FieldBloomBudding, in.BloomBudding)
	fields = appendOptional(fields, event.FieldBloomFlourish, in.BloomFlourish)

	return b.build(event.KindSproutPlanted, fields)
}

// Water returns a sprout-watered event if the sprout is active and the daily
// water allowance is not spent.
func (b *Builder) Water(state derive.State, allowance derive.Allowance, sproutID, content, prompt string) (event.Event, error) {
	if _, err := activeSprout(state, sproutID); err != nil {
		return event.Event{}, err
	}
	if err := required("content", content); err != nil {
		return event.Event{}, err
	}
	if allowance.WaterRemaining <= 0 {
		return event.Event{}, fmt.Errorf("%w: resets at %s", ErrNoWaterLeft, allowance.DailyResetAt.Format(time.RFC3339))
	}

	fields := []event.Field{
		event.F(event.FieldSproutID, event.String(sproutID)),
		event.F(event.FieldContent, event.String(content)),
	}
	fields = appendOptional(fields, event.FieldPrompt, prompt)
	return b.build(event.KindSproutWatered, fields)
}

// Harvest returns a sprout-harvested event. capacityGained records the reward
// as computed now; derivation recomputes it from the log.
func (b *Builder) Harvest(state derive.State, sproutID string, result int, reflection string) (event.Event, error) {
	sp, err := activeSprout(state, sproutID)
	if err != nil {
		return event.Event{}, err
	}
	if result < 1 || result > 5 {
		return event.Event{}, fmt.Errorf("%w: result %d outside 1-5", ErrInvalidInput, result)
	}

	reward := economy.CapacityReward(sp.Season, sp.Environment, result, state.SoilCapacity)
	fields := []event.Field{
		event.F(event.FieldSproutID, event.String(sproutID)),
		event.F(event.FieldResult, event.Number(result)),
		event.F(event.FieldCapacityGained, event.Number(reward)),
	}
	fields = appendOptional(fields, event.FieldReflection, reflection)
	return b.build(event.KindSproutHarvested, fields)
}

// Uproot returns a sprout-uprooted event carrying the client-computed refund.
func (b *Builder) Uproot(state derive.State, sproutID string) (event.Event, error) {
	sp, err := activeSprout(state, sproutID)
	if err != nil {
		return event.Event{}, err
	}
	return b.build(event.KindSproutUprooted, []event.Field{
		event.F(event.FieldSproutID, event.String(sproutID)),
		event.F(event.FieldSoilReturned, event.Number(economy.UprootRefund(sp.SoilCost))),
	})
}

// Shine returns a sun-shone event if the weekly sun allowance is not spent.
func (b *Builder) Shine(allowance derive.Allowance, twigID, twigLabel, content, prompt string) (event.Event, error) {
	if err := required("twig", twigID); err != nil {
		return event.Event{}, err
	}
	if err := required("content", content); err != nil {
		return event.Event{}, err
	}
	if allowance.SunRemaining <= 0 {
		return event.Event{}, fmt.Errorf("%w: resets at %s", ErrNoSunLeft, allowance.WeeklyResetAt.Format(time.RFC3339))
	}

	if twigLabel == "" {
		twigLabel = twigID
	}
	fields := []event.Field{
		event.F(event.FieldTwigID, event.String(twigID)),
		event.F(event.FieldTwigLabel, event.String(twigLabel)),
		event.F(event.FieldContent, event.String(content)),
	}
	fields = appendOptional(fields, event.FieldPrompt, prompt)
	return b.build(event.KindSunShone, fields)
}

// CreateLeaf returns a leaf-created event with a fresh leaf id.
func (b *Builder) CreateLeaf(twigID, name string) (event.Event, error) {
	if err := required("twig", twigID); err != nil {
		return event.Event{}, err
	}
	if err := required("name", name); err != nil {
		return event.Event{}, err
	}
	return b.build(event.KindLeafCreated, []event.Field{
		event.F(event.FieldLeafID, event.String(b.ids.Generate())),
		event.F(event.FieldTwigID, event.String(twigID)),
		event.F(event.FieldName, event.String(name)),
	})
}

func (b *Builder) build(kind event.Kind, fields []event.Field) (event.Event, error) {
	e := event.New(kind, b.ids.Generate(), b.now(), event.NewPayload(fields...))
	if err := event.Validate(e); err != nil {
		return event.Event{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return e, nil
}

func activeSprout(state derive.State, id string) (derive.Sprout, error) {
	sp, ok := state.Sprouts[id]
	if !ok {
		return derive.Sprout{}, fmt.Errorf("%w: %s", ErrUnknownSprout, id)
	}
	if sp.State != derive.SproutActive {
		return derive.Sprout{}, fmt.Errorf("%w: %s is %s", ErrSproutNotActive, id, sp.State)
	}
	return sp, nil
}

func required(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidInput, name)
	}
	return nil
}

func appendOptional(fields []event.Field, key, value string) []event.Field {
	if value == "" {
		return fields
	}
	return append(fields, event.F(key, event.String(value)))
}
