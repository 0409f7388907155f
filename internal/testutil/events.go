package testutil

import (
	"time"

	"github.com/roach88/grove/internal/event"
)

// Fixture builders for tests across packages. They produce well-formed
// events with small, readable payloads; tests override fields as needed.

// Planted builds a sprout-planted event.
func Planted(clientID string, at time.Time, sproutID string, season event.Season, env event.Environment, cost int) event.Event {
	return event.New(event.KindSproutPlanted, clientID, at, event.NewPayload(
		event.F(event.FieldSproutID, event.String(sproutID)),
		event.F(event.FieldTwigID, event.String("branch-0-twig-0")),
		event.F(event.FieldTitle, event.String("sprout "+sproutID)),
		event.F(event.FieldSeason, event.String(string(season))),
		event.F(event.FieldEnvironment, event.String(string(env))),
		event.F(event.FieldSoilCost, event.Number(cost)),
	))
}

// Watered builds a sprout-watered event.
func Watered(clientID string, at time.Time, sproutID string) event.Event {
	return event.New(event.KindSproutWatered, clientID, at, event.NewPayload(
		event.F(event.FieldSproutID, event.String(sproutID)),
		event.F(event.FieldContent, event.String("tended "+sproutID)),
	))
}

// Harvested builds a sprout-harvested event.
func Harvested(clientID string, at time.Time, sproutID string, result int) event.Event {
	return event.New(event.KindSproutHarvested, clientID, at, event.NewPayload(
		event.F(event.FieldSproutID, event.String(sproutID)),
		event.F(event.FieldResult, event.Number(result)),
		event.F(event.FieldCapacityGained, event.Number(0)),
		event.F(event.FieldReflection, event.String("done")),
	))
}

// Uprooted builds a sprout-uprooted event.
func Uprooted(clientID string, at time.Time, sproutID string, soilReturned float64) event.Event {
	return event.New(event.KindSproutUprooted, clientID, at, event.NewPayload(
		event.F(event.FieldSproutID, event.String(sproutID)),
		event.F(event.FieldSoilReturned, event.Number(soilReturned)),
	))
}

// SunShone builds a sun-shone event.
func SunShone(clientID string, at time.Time, twigID string) event.Event {
	return event.New(event.KindSunShone, clientID, at, event.NewPayload(
		event.F(event.FieldTwigID, event.String(twigID)),
		event.F(event.FieldTwigLabel, event.String("label "+twigID)),
		event.F(event.FieldContent, event.String("reflection")),
	))
}

// LeafCreated builds a leaf-created event.
func LeafCreated(clientID string, at time.Time, leafID, twigID, name string) event.Event {
	return event.New(event.KindLeafCreated, clientID, at, event.NewPayload(
		event.F(event.FieldLeafID, event.String(leafID)),
		event.F(event.FieldTwigID, event.String(twigID)),
		event.F(event.FieldName, event.String(name)),
	))
}
