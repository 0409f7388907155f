package economy

import (
	"math"

	"github.com/roach88/grove/internal/event"
)

// Soil economy constants shared by every client implementation.
const (
	// StartingCapacity is the soil capacity (and availability) of an empty log.
	StartingCapacity = 10.0

	// MaxCapacity is the asymptotic ceiling of soil capacity.
	MaxCapacity = 120.0

	// WaterRecovery is credited to available soil for each approved watering.
	WaterRecovery = 0.05

	// SunRecovery is credited to available soil for each weekly reflection.
	SunRecovery = 0.35

	// UprootRefundFraction is the share of a sprout's soil cost returned when
	// it is uprooted.
	UprootRefundFraction = 0.25
)

var seasonBaseRewards = map[event.Season]float64{
	event.Season2Weeks:  0.26,
	event.Season1Month:  0.56,
	event.Season3Months: 1.95,
	event.Season6Months: 4.16,
	event.Season1Year:   8.84,
}

var environmentMultipliers = map[event.Environment]float64{
	event.EnvironmentFertile: 1.1,
	event.EnvironmentFirm:    1.75,
	event.EnvironmentBarren:  2.4,
}

// resultMultipliers is indexed by result (1-5). Even the lowest result keeps
// a meaningful fraction of the reward.
var resultMultipliers = [6]float64{0, 0.4, 0.55, 0.7, 0.85, 1.0}

// soilCosts is the planting cost table, indexed by season then environment.
var soilCosts = map[event.Season]map[event.Environment]int{
	event.Season2Weeks:  {event.EnvironmentFertile: 2, event.EnvironmentFirm: 3, event.EnvironmentBarren: 4},
	event.Season1Month:  {event.EnvironmentFertile: 3, event.EnvironmentFirm: 5, event.EnvironmentBarren: 6},
	event.Season3Months: {event.EnvironmentFertile: 5, event.EnvironmentFirm: 8, event.EnvironmentBarren: 10},
	event.Season6Months: {event.EnvironmentFertile: 8, event.EnvironmentFirm: 12, event.EnvironmentBarren: 16},
	event.Season1Year:   {event.EnvironmentFertile: 12, event.EnvironmentFirm: 18, event.EnvironmentBarren: 24},
}

// SeasonBaseReward returns the base capacity reward of a season, or 0 for an
// unknown season.
func SeasonBaseReward(season event.Season) float64 {
	return seasonBaseRewards[season]
}

// EnvironmentMultiplier returns the reward multiplier of an environment, or 0
// for an unknown environment.
func EnvironmentMultiplier(env event.Environment) float64 {
	return environmentMultipliers[env]
}

// ResultMultiplier maps a 1-5 self-assessed result to a reward fraction.
// Results outside the range are clamped.
func ResultMultiplier(result int) float64 {
	if result < 1 {
		result = 1
	}
	if result > 5 {
		result = 5
	}
	return resultMultipliers[result]
}

// DiminishingFactor is (1 - capacity/MaxCapacity)^2, with the base clamped at
// zero before squaring so capacity above the ceiling earns nothing.
func DiminishingFactor(currentCapacity float64) float64 {
	remaining := 1 - currentCapacity/MaxCapacity
	if remaining <= 0 {
		return 0
	}
	return remaining * remaining
}

// CapacityReward is the capacity gained by harvesting a sprout.
func CapacityReward(season event.Season, env event.Environment, result int, currentCapacity float64) float64 {
	return SeasonBaseReward(season) *
		EnvironmentMultiplier(env) *
		ResultMultiplier(result) *
		DiminishingFactor(currentCapacity)
}

// SoilCost returns the planting cost for a season and environment. The second
// return value is false when either input is unknown.
func SoilCost(season event.Season, env event.Environment) (int, bool) {
	byEnv, ok := soilCosts[season]
	if !ok {
		return 0, false
	}
	cost, ok := byEnv[env]
	return cost, ok
}

// UprootRefund is the soil returned when a sprout with the given cost is
// uprooted. The client computes it at creation time and embeds it in the
// event; derivation only clamps it.
func UprootRefund(soilCost int) float64 {
	if soilCost <= 0 {
		return 0
	}
	return float64(soilCost) * UprootRefundFraction
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
