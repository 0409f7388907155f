package economy

import "time"

// Allowance limits and reset schedule.
const (
	// WaterDailyCapacity is the number of waterings allowed per daily window.
	WaterDailyCapacity = 3

	// SunWeeklyCapacity is the number of reflections allowed per weekly window.
	SunWeeklyCapacity = 1

	// ResetHour is the local hour-of-day at which windows roll over.
	ResetHour = 6

	// WeeklyResetDay is the weekday on which the weekly window rolls over.
	WeeklyResetDay = time.Monday
)

// DailyResetBoundary returns the most recent daily reset not in the future,
// in now's location. Before ResetHour the boundary is yesterday's.
func DailyResetBoundary(now time.Time) time.Time {
	boundary := time.Date(now.Year(), now.Month(), now.Day(), ResetHour, 0, 0, 0, now.Location())
	if now.Before(boundary) {
		boundary = time.Date(now.Year(), now.Month(), now.Day()-1, ResetHour, 0, 0, 0, now.Location())
	}
	return boundary
}

// WeeklyResetBoundary returns the most recent WeeklyResetDay at ResetHour not
// in the future, in now's location.
func WeeklyResetBoundary(now time.Time) time.Time {
	daysSince := (int(now.Weekday()) - int(WeeklyResetDay) + 7) % 7
	boundary := time.Date(now.Year(), now.Month(), now.Day()-daysSince, ResetHour, 0, 0, 0, now.Location())
	if now.Before(boundary) {
		boundary = time.Date(now.Year(), now.Month(), now.Day()-daysSince-7, ResetHour, 0, 0, 0, now.Location())
	}
	return boundary
}

// NextDailyReset returns the first daily reset strictly after now.
func NextDailyReset(now time.Time) time.Time {
	b := DailyResetBoundary(now)
	return time.Date(b.Year(), b.Month(), b.Day()+1, ResetHour, 0, 0, 0, b.Location())
}

// NextWeeklyReset returns the first weekly reset strictly after now.
func NextWeeklyReset(now time.Time) time.Time {
	b := WeeklyResetBoundary(now)
	return time.Date(b.Year(), b.Month(), b.Day()+7, ResetHour, 0, 0, 0, b.Location())
}

// CountWithinWindow counts timestamps t with windowStart <= t < now.
func CountWithinWindow(timestamps []time.Time, windowStart, now time.Time) int {
	count := 0
	for _, ts := range timestamps {
		if !ts.Before(windowStart) && ts.Before(now) {
			count++
		}
	}
	return count
}

// Remaining is capacity minus used, floored at zero.
func Remaining(capacity, used int) int {
	if used >= capacity {
		return 0
	}
	return capacity - used
}
