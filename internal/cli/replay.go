package cli

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"reflect"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/grove/internal/derive"
	"github.com/roach88/grove/internal/event"
	"github.com/roach88/grove/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Owner    string
	File     string
	Shuffles int
}

// ReplayResult reports a determinism check of one event log.
type ReplayResult struct {
	Source        string  `json:"source"`
	Events        int     `json:"events"`
	Undecodable   int     `json:"undecodable,omitempty"`
	Skipped       int     `json:"skipped"`
	Conflicts     int     `json:"conflicts,omitempty"`
	Sprouts       int     `json:"sprouts"`
	SoilCapacity  float64 `json:"soil_capacity"`
	SoilAvailable float64 `json:"soil_available"`
	LogHash       string  `json:"log_hash"`
	Orders        int     `json:"orders"`
	Deterministic bool    `json:"deterministic"`
}

func (r ReplayResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Replay Summary: %s\n", r.Source)
	fmt.Fprintf(&b, "  Events: %d (%d skipped", r.Events, r.Skipped)
	if r.Undecodable > 0 {
		fmt.Fprintf(&b, ", %d undecodable", r.Undecodable)
	}
	b.WriteString(")\n")
	if r.Conflicts > 0 {
		fmt.Fprintf(&b, "  Conflicting copies: %d client ids\n", r.Conflicts)
	}
	fmt.Fprintf(&b, "  Sprouts: %d\n", r.Sprouts)
	fmt.Fprintf(&b, "  Soil: %.4f / %.4f\n", r.SoilAvailable, r.SoilCapacity)
	fmt.Fprintf(&b, "  Log hash: %s\n", r.LogHash)
	if r.Deterministic {
		fmt.Fprintf(&b, "✓ %d arrival orders derived the same state", r.Orders)
	} else {
		b.WriteString("✗ Arrival order changed the derived state")
	}
	return b.String()
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-derive an event log and verify order independence",
		Long: `Derive an event log in server order, reversed, and in shuffled orders,
and check that every order yields the same state.

The log is read from a server database (--db with --owner) or from a JSON
array of events (--file).

Exit codes:
  0 - Every order derived the same state
  1 - Derivation depends on arrival order
  2 - Command error (database not found, etc.)

Examples:
  grove replay --db ./grove.db --owner alice
  grove replay --file export.json --shuffles 100 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database")
	cmd.Flags().StringVar(&opts.Owner, "owner", "", "owner whose log to replay (with --db)")
	cmd.Flags().StringVar(&opts.File, "file", "", "JSON array of events")
	cmd.Flags().IntVar(&opts.Shuffles, "shuffles", 20, "number of shuffled orders to derive")
	cmd.MarkFlagsMutuallyExclusive("db", "file")
	cmd.MarkFlagsOneRequired("db", "file")
	cmd.MarkFlagsRequiredTogether("db", "owner")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	f := formatterFor(opts.RootOptions, cmd)

	if opts.Shuffles < 0 {
		return NewExitError(ExitCommandError, "--shuffles must be non-negative")
	}

	events, undecodable, source, err := loadReplayEvents(ctx, opts)
	if err != nil {
		return err
	}
	f.VerboseLog("loaded %d events from %s", len(events), source)

	result, err := Replay(events, opts.Shuffles)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to replay", err)
	}
	result.Source = source
	result.Undecodable = undecodable

	if !result.Deterministic {
		if opts.Format == "json" {
			_ = f.encode(CLIResponse{
				Status: "error",
				Data:   result,
				Error:  &CLIError{Code: CodeReplayDiffer, Message: "arrival order changed the derived state"},
			})
		} else {
			_ = f.Success(result)
		}
		return NewExitError(ExitFailure, "determinism verification failed")
	}
	return f.Success(result)
}

func loadReplayEvents(ctx context.Context, opts *ReplayOptions) ([]event.Event, int, string, error) {
	if opts.File != "" {
		data, err := os.ReadFile(opts.File)
		if err != nil {
			return nil, 0, "", WrapExitError(ExitCommandError, "failed to read events file", err)
		}
		events, undecodable, err := event.DecodeList(data)
		if err != nil {
			return nil, 0, "", WrapExitError(ExitCommandError, "failed to decode events file", err)
		}
		return events, undecodable, opts.File, nil
	}

	if _, err := os.Stat(opts.Database); err != nil {
		return nil, 0, "", WrapExitError(ExitCommandError, "database not found", err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return nil, 0, "", WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	events, err := st.Since(ctx, opts.Owner, nil)
	if err != nil {
		return nil, 0, "", WrapExitError(ExitCommandError, "failed to read events", err)
	}
	return events, 0, fmt.Sprintf("%s (owner %s)", opts.Database, opts.Owner), nil
}

// Replay derives events in the given order, reversed, and in shuffles
// seeded orders, and reports whether all of them agree.
func Replay(events []event.Event, shuffles int) (ReplayResult, error) {
	hash, err := event.LogHash(events)
	if err != nil {
		return ReplayResult{}, err
	}

	conflicts, err := countConflicts(events)
	if err != nil {
		return ReplayResult{}, err
	}

	want := derive.Derive(events)
	result := ReplayResult{
		Conflicts:     conflicts,
		Events:        len(events),
		Skipped:       want.Skipped,
		Sprouts:       len(want.Sprouts),
		SoilCapacity:  want.SoilCapacity,
		SoilAvailable: want.SoilAvailable,
		LogHash:       hash,
		Orders:        1,
		Deterministic: true,
	}

	reversed := slices.Clone(events)
	slices.Reverse(reversed)
	orders := [][]event.Event{reversed}

	rng := rand.New(rand.NewPCG(uint64(len(events)), uint64(shuffles)))
	for range shuffles {
		shuffled := slices.Clone(events)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		orders = append(orders, shuffled)
	}

	for _, order := range orders {
		result.Orders++
		if !reflect.DeepEqual(derive.Derive(order), want) {
			result.Deterministic = false
			break
		}
	}
	return result, nil
}

// countConflicts returns how many client ids appear with differing content.
// Redelivered copies of one event hash the same; a conflict means two
// different events claimed one client id.
func countConflicts(events []event.Event) (int, error) {
	first := make(map[string]string, len(events))
	conflicted := make(map[string]struct{})
	for _, e := range events {
		h, err := event.Hash(e)
		if err != nil {
			return 0, err
		}
		prev, seen := first[e.ClientID]
		switch {
		case !seen:
			first[e.ClientID] = h
		case prev != h:
			conflicted[e.ClientID] = struct{}{}
		}
	}
	return len(conflicted), nil
}
