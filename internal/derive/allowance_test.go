package derive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/grove/internal/event"
	"github.com/roach88/grove/internal/testutil"
)

// Wednesday 2025-03-12 12:00 UTC. The current weekly window opened Monday
// 2025-03-10 06:00 and the daily window at 06:00 today.
var now = time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC)

var plantedS1 = testutil.Planted("p1", time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC), "s1", event.Season1Month, event.EnvironmentFirm, 5)

func TestAllowances_WeeklySun(t *testing.T) {
	prior := testutil.SunShone("sun-prior", time.Date(2025, 3, 9, 20, 0, 0, 0, time.UTC), "twig-a")

	before := Allowances([]event.Event{prior}, now)
	assert.Equal(t, 0, before.SunUsed)
	assert.Equal(t, 1, before.SunRemaining)

	current := testutil.SunShone("sun-current", time.Date(2025, 3, 11, 8, 0, 0, 0, time.UTC), "twig-a")
	after := Allowances([]event.Event{prior, current}, now)
	assert.Equal(t, 1, after.SunUsed)
	assert.Equal(t, 0, after.SunRemaining)
	assert.Equal(t, time.Date(2025, 3, 17, 6, 0, 0, 0, time.UTC), after.WeeklyResetAt)
}

func TestAllowances_DailyWater(t *testing.T) {
	events := []event.Event{
		testutil.Planted("p1", time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC), "s1", event.Season1Month, event.EnvironmentFirm, 5),
		testutil.Planted("p2", time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC), "s2", event.Season1Month, event.EnvironmentFirm, 5),
		testutil.Watered("w0", time.Date(2025, 3, 12, 5, 59, 0, 0, time.UTC), "s1"),
		testutil.Watered("w1", time.Date(2025, 3, 12, 6, 0, 0, 0, time.UTC), "s1"),
		testutil.Watered("w2", time.Date(2025, 3, 12, 9, 30, 0, 0, time.UTC), "s2"),
		testutil.Watered("w3", time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC), "s1"),
	}

	got := Allowances(events, now)
	assert.Equal(t, 2, got.WaterUsed)
	assert.Equal(t, 1, got.WaterRemaining)
	assert.Equal(t, time.Date(2025, 3, 13, 6, 0, 0, 0, time.UTC), got.DailyResetAt)
}

func TestAllowances_BeforeResetHourUsesYesterday(t *testing.T) {
	early := time.Date(2025, 3, 12, 5, 0, 0, 0, time.UTC)
	events := []event.Event{
		testutil.Planted("p1", time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC), "s1", event.Season1Month, event.EnvironmentFirm, 5),
		testutil.Watered("w1", time.Date(2025, 3, 11, 7, 0, 0, 0, time.UTC), "s1"),
		testutil.Watered("w2", time.Date(2025, 3, 11, 22, 0, 0, 0, time.UTC), "s1"),
		testutil.Watered("w3", time.Date(2025, 3, 11, 23, 0, 0, 0, time.UTC), "s1"),
		testutil.Watered("w4", time.Date(2025, 3, 12, 4, 0, 0, 0, time.UTC), "s1"),
	}

	got := Allowances(events, early)
	assert.Equal(t, 4, got.WaterUsed)
	assert.Equal(t, 0, got.WaterRemaining)
}

func TestAllowances_IgnoresMalformed(t *testing.T) {
	bad := testutil.Watered("bad", time.Date(2025, 3, 12, 7, 0, 0, 0, time.UTC), "s1")
	bad.Payload = bad.Payload.Clone()
	delete(bad.Payload, event.FieldContent)

	got := Allowances([]event.Event{plantedS1, bad}, now)
	assert.Equal(t, 0, got.WaterUsed)
	assert.Equal(t, 3, got.WaterRemaining)
}

func TestAllowances_UsesNowLocation(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	// 2025-03-12 05:00 JST is before the local reset hour.
	localNow := time.Date(2025, 3, 12, 5, 0, 0, 0, tokyo)
	events := []event.Event{
		testutil.Planted("p1", time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC), "s1", event.Season1Month, event.EnvironmentFirm, 5),
		// 21:00 JST on the 11th, inside the window that opened at 06:00 JST.
		testutil.Watered("w1", time.Date(2025, 3, 11, 12, 0, 0, 0, time.UTC), "s1"),
	}

	got := Allowances(events, localNow)
	assert.Equal(t, 1, got.WaterUsed)
	assert.Equal(t, time.Date(2025, 3, 12, 6, 0, 0, 0, tokyo), got.DailyResetAt)
}

func TestAllowances_RedeliverySpendsOnce(t *testing.T) {
	sun := testutil.SunShone("sun-1", time.Date(2025, 3, 11, 8, 0, 0, 0, time.UTC), "twig-a")
	water := testutil.Watered("w1", time.Date(2025, 3, 12, 7, 0, 0, 0, time.UTC), "s1")

	once := Allowances([]event.Event{plantedS1, sun, water}, now)
	twice := Allowances([]event.Event{plantedS1, sun, sun, water, water}, now)

	assert.Equal(t, once, twice)
	assert.Equal(t, 1, twice.WaterUsed)
	assert.Equal(t, 1, twice.SunUsed)
}

func TestAllowances_InertWateringsAreFree(t *testing.T) {
	events := []event.Event{
		plantedS1,
		testutil.Harvested("h1", time.Date(2025, 3, 12, 6, 30, 0, 0, time.UTC), "s1", 4),
		testutil.Watered("after-harvest", time.Date(2025, 3, 12, 7, 0, 0, 0, time.UTC), "s1"),
		testutil.Watered("dangling", time.Date(2025, 3, 12, 8, 0, 0, 0, time.UTC), "missing"),
	}

	got := Allowances(events, now)
	assert.Equal(t, 0, got.WaterUsed)
	assert.Equal(t, 3, got.WaterRemaining)
}

func TestState_AllowanceMatchesAllowances(t *testing.T) {
	events := []event.Event{
		plantedS1,
		testutil.Watered("w1", time.Date(2025, 3, 12, 7, 0, 0, 0, time.UTC), "s1"),
		testutil.SunShone("sun-1", time.Date(2025, 3, 11, 8, 0, 0, 0, time.UTC), "twig-a"),
	}
	assert.Equal(t, Allowances(events, now), Derive(events).Allowance(now))
}
