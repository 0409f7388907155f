package harness

import (
	"fmt"
	"math"
	"strings"

	"github.com/roach88/grove/internal/derive"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  actual: %s", e.Actual)
	return buf.String()
}

func evaluate(a Assertion, r *Result) error {
	switch a.Type {
	case AssertSoil:
		return assertSoil(r.State, a)
	case AssertSprout:
		return assertSprout(r.State, a)
	case AssertCount:
		return assertCount(r.State, a)
	case AssertAllowance:
		return assertAllowance(r.Allowance, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertSoil(state derive.State, a Assertion) error {
	tol := tolerance(a)
	if a.Capacity != nil && !approx(state.SoilCapacity, *a.Capacity, tol) {
		return &AssertionError{
			Type:     AssertSoil,
			Expected: fmt.Sprintf("capacity %.6f", *a.Capacity),
			Actual:   fmt.Sprintf("capacity %.6f", state.SoilCapacity),
		}
	}
	if a.Available != nil && !approx(state.SoilAvailable, *a.Available, tol) {
		return &AssertionError{
			Type:     AssertSoil,
			Expected: fmt.Sprintf("available %.6f", *a.Available),
			Actual:   fmt.Sprintf("available %.6f", state.SoilAvailable),
		}
	}
	return nil
}

func assertSprout(state derive.State, a Assertion) error {
	sp, ok := state.Sprouts[a.ID]
	if !ok {
		return &AssertionError{
			Type:     AssertSprout,
			Expected: fmt.Sprintf("sprout %s", a.ID),
			Actual:   "not in derived state",
		}
	}

	fail := func(field string, want, got any) error {
		return &AssertionError{
			Type:     AssertSprout,
			Expected: fmt.Sprintf("%s %s = %v", a.ID, field, want),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	tol := tolerance(a)

	if a.State != "" && string(sp.State) != a.State {
		return fail("state", a.State, sp.State)
	}
	if a.Waterings != nil && len(sp.WaterEntries) != *a.Waterings {
		return fail("waterings", *a.Waterings, len(sp.WaterEntries))
	}
	if a.Result != nil && sp.Result != *a.Result {
		return fail("result", *a.Result, sp.Result)
	}
	if a.CapacityGained != nil && !approx(sp.CapacityGained, *a.CapacityGained, tol) {
		return fail("capacity_gained", *a.CapacityGained, sp.CapacityGained)
	}
	if a.SoilReturned != nil && !approx(sp.SoilReturned, *a.SoilReturned, tol) {
		return fail("soil_returned", *a.SoilReturned, sp.SoilReturned)
	}
	return nil
}

func assertCount(state derive.State, a Assertion) error {
	var got int
	switch a.Of {
	case CountSprouts:
		got = len(state.Sprouts)
	case CountActiveSprouts:
		got = len(state.ActiveSprouts())
	case CountLeaves:
		got = len(state.Leaves)
	case CountSunEntries:
		got = len(state.SunEntries)
	case CountSkipped:
		got = state.Skipped
	default:
		return fmt.Errorf("unknown count target %q", a.Of)
	}

	if got != a.Count {
		return &AssertionError{
			Type:     AssertCount,
			Expected: fmt.Sprintf("%d %s", a.Count, a.Of),
			Actual:   fmt.Sprintf("%d %s", got, a.Of),
		}
	}
	return nil
}

func assertAllowance(allowance *derive.Allowance, a Assertion) error {
	if allowance == nil {
		return fmt.Errorf("allowance assertion without now")
	}
	if a.WaterRemaining != nil && allowance.WaterRemaining != *a.WaterRemaining {
		return &AssertionError{
			Type:     AssertAllowance,
			Expected: fmt.Sprintf("water remaining %d", *a.WaterRemaining),
			Actual:   fmt.Sprintf("water remaining %d", allowance.WaterRemaining),
		}
	}
	if a.SunRemaining != nil && allowance.SunRemaining != *a.SunRemaining {
		return &AssertionError{
			Type:     AssertAllowance,
			Expected: fmt.Sprintf("sun remaining %d", *a.SunRemaining),
			Actual:   fmt.Sprintf("sun remaining %d", allowance.SunRemaining),
		}
	}
	return nil
}

func tolerance(a Assertion) float64 {
	if a.Tolerance > 0 {
		return a.Tolerance
	}
	return DefaultTolerance
}

func approx(got, want, tol float64) bool {
	return math.Abs(got-want) <= tol
}
