package harness

import (
	"fmt"
	"math/rand/v2"
	"reflect"
	"slices"

	"github.com/roach88/grove/internal/derive"
	"github.com/roach88/grove/internal/event"
)

// Result is the outcome of running a vector.
type Result struct {
	// Pass is true when every assertion and permutation check held.
	Pass bool `json:"pass"`

	// Errors describes each failure. Empty when Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the state derived from the vector in its given order.
	State derive.State `json:"state"`

	// Allowance is set when the vector fixes Now.
	Allowance *derive.Allowance `json:"allowance,omitempty"`

	// LogHash identifies the event set independent of order.
	LogHash string `json:"log_hash"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{Pass: true, Errors: []string{}}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}

// permutationSeed fixes the shuffles so a failing vector fails the same way
// every run.
const permutationSeed = 42

// Run derives the vector's state and evaluates its assertions. The error is
// reserved for vectors that cannot be executed; failed assertions are
// reported in the Result.
func Run(s *Scenario) (*Result, error) {
	events, err := s.BuildEvents()
	if err != nil {
		return nil, err
	}
	now, err := s.NowTime()
	if err != nil {
		return nil, fmt.Errorf("invalid now: %w", err)
	}

	result := NewResult()
	result.State = derive.Derive(events)
	if result.LogHash, err = event.LogHash(events); err != nil {
		return nil, fmt.Errorf("hash log: %w", err)
	}
	if !now.IsZero() {
		allowance := result.State.Allowance(now)
		result.Allowance = &allowance
	}

	checkPermutations(s, events, result)

	for i, a := range s.Assertions {
		if err := evaluate(a, result); err != nil {
			result.AddError(fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return result, nil
}

// checkPermutations derives shuffled arrival orders and requires each to
// match the state of the given order.
func checkPermutations(s *Scenario, events []event.Event, result *Result) {
	rng := rand.New(rand.NewPCG(permutationSeed, uint64(len(events))))
	for i := 0; i < s.Permutations; i++ {
		shuffled := slices.Clone(events)
		if s.Redeliver {
			shuffled = append(shuffled, events...)
		}
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})
		if got := derive.Derive(shuffled); !reflect.DeepEqual(got, result.State) {
			result.AddError(fmt.Sprintf("permutation %d derived a different state", i+1))
			return
		}
	}
}
