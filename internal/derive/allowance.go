package derive

import (
	"time"

	"github.com/roach88/grove/internal/economy"
	"github.com/roach88/grove/internal/event"
)

// Allowance is the remaining daily water and weekly sun budget at a given
// instant.
type Allowance struct {
	WaterUsed      int       `json:"water_used"`
	WaterRemaining int       `json:"water_remaining"`
	SunUsed        int       `json:"sun_used"`
	SunRemaining   int       `json:"sun_remaining"`
	DailyResetAt   time.Time `json:"daily_reset_at"`
	WeeklyResetAt  time.Time `json:"weekly_reset_at"`
}

// Allowances computes the water and sun budget at now. now is an explicit
// argument; the wall clock is never read. Its location determines where the
// reset hour falls.
//
// Only events that derivation applied are spent, so a redelivered event or a
// watering of a finished sprout costs nothing.
func Allowances(events []event.Event, now time.Time) Allowance {
	return Derive(events).Allowance(now)
}

// Allowance computes the water and sun budget at now from derived state.
func (s State) Allowance(now time.Time) Allowance {
	var waters, suns []time.Time
	for _, sp := range s.Sprouts {
		for _, w := range sp.WaterEntries {
			waters = append(waters, w.Timestamp)
		}
	}
	for _, sun := range s.SunEntries {
		suns = append(suns, sun.Timestamp)
	}

	dailyStart := economy.DailyResetBoundary(now)
	weeklyStart := economy.WeeklyResetBoundary(now)

	waterUsed := economy.CountWithinWindow(waters, dailyStart, now)
	sunUsed := economy.CountWithinWindow(suns, weeklyStart, now)

	return Allowance{
		WaterUsed:      waterUsed,
		WaterRemaining: economy.Remaining(economy.WaterDailyCapacity, waterUsed),
		SunUsed:        sunUsed,
		SunRemaining:   economy.Remaining(economy.SunWeeklyCapacity, sunUsed),
		DailyResetAt:   economy.NextDailyReset(now),
		WeeklyResetAt:  economy.NextWeeklyReset(now),
	}
}
