package cli

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/grove/internal/derive"
	"github.com/roach88/grove/internal/engine"
)

// SyncView reports one sync round.
type SyncView struct {
	Mode      engine.SyncMode `json:"mode"`
	Pulled    int             `json:"pulled"`
	Status    engine.Status   `json:"status"`
	Events    int             `json:"events"`
	Pending   int             `json:"pending"`
	Watermark *time.Time      `json:"watermark,omitempty"`
	Error     string          `json:"error,omitempty"`
}

func (v SyncView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sync: %s, %s pull, %d pulled\n", v.Status, v.Mode, v.Pulled)
	fmt.Fprintf(&b, "  events:  %d\n", v.Events)
	fmt.Fprintf(&b, "  pending: %d", v.Pending)
	if v.Watermark != nil {
		fmt.Fprintf(&b, "\n  watermark: %s", v.Watermark.Format(time.RFC3339Nano))
	}
	if v.Error != "" {
		fmt.Fprintf(&b, "\n  error: %s", v.Error)
	}
	return b.String()
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(client *ClientOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Upload queued events and pull new ones",
		Long: `Run one smart sync against the server.

Queued local events are uploaded first. The pull is incremental after the
cached watermark, or a full reload when the cache is empty or was discarded.
An unreachable server is reported but is not a failure.

Exit codes:
  0 - Synced, or offline with cached state
  2 - Unauthorized or bad configuration`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(client, cmd)
		},
	}

	addClientFlags(cmd, client)
	return cmd
}

func runSync(opts *ClientOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	f := formatterFor(opts.RootOptions, cmd)

	online := *opts
	online.Offline = false

	s, err := openSession(ctx, &online, cmd)
	if err != nil {
		return err
	}
	defer s.close()

	view := SyncView{
		Mode:      s.sync.Mode,
		Pulled:    s.sync.Pulled,
		Status:    s.engine.Status(),
		Events:    s.engine.Store().Len(),
		Pending:   len(s.engine.Pending()),
		Watermark: s.engine.Watermark(),
	}
	if s.sync.Err != nil {
		view.Error = s.sync.Err.Error()
	}
	return f.Success(view)
}

// StateView is the derived tree at one instant.
type StateView struct {
	SoilCapacity  float64           `json:"soil_capacity"`
	SoilAvailable float64           `json:"soil_available"`
	Sprouts       []derive.Sprout   `json:"sprouts"`
	Leaves        []derive.Leaf     `json:"leaves"`
	SunEntries    []derive.SunEntry `json:"sun_entries"`
	Skipped       int               `json:"skipped"`
	Allowance     derive.Allowance  `json:"allowance"`
	Status        engine.Status     `json:"status"`
	Pending       int               `json:"pending"`
}

// SproutFilter narrows the sprouts in a StateView. Zero fields match all.
type SproutFilter struct {
	Twig   string
	Leaf   string
	Active bool
}

// NewStateView builds a view of state with sprouts narrowed by filter.
func NewStateView(state derive.State, allowance derive.Allowance, filter SproutFilter) StateView {
	twig, active := filter.Twig, filter.Active
	var sprouts []derive.Sprout
	switch {
	case filter.Leaf != "":
		sprouts = state.SproutsByLeaf(filter.Leaf)
		if twig != "" {
			sprouts = slices.DeleteFunc(sprouts, func(sp derive.Sprout) bool { return sp.TwigID != twig })
		}
	case twig != "":
		sprouts = state.SproutsByTwig(twig)
	case active:
		sprouts = state.ActiveSprouts()
	default:
		sprouts = slices.Collect(maps.Values(state.Sprouts))
		slices.SortFunc(sprouts, func(a, b derive.Sprout) int {
			if c := a.PlantedAt.Compare(b.PlantedAt); c != 0 {
				return c
			}
			return strings.Compare(a.ID, b.ID)
		})
	}
	if active && (twig != "" || filter.Leaf != "") {
		sprouts = slices.DeleteFunc(sprouts, func(sp derive.Sprout) bool { return sp.State != derive.SproutActive })
	}
	if sprouts == nil {
		sprouts = []derive.Sprout{}
	}

	leaves := make([]derive.Leaf, 0, len(state.Leaves))
	for _, id := range slices.Sorted(maps.Keys(state.Leaves)) {
		leaves = append(leaves, state.Leaves[id])
	}

	return StateView{
		SoilCapacity:  state.SoilCapacity,
		SoilAvailable: state.SoilAvailable,
		Sprouts:       sprouts,
		Leaves:        leaves,
		SunEntries:    state.SunEntries,
		Skipped:       state.Skipped,
		Allowance:     allowance,
	}
}

func (v StateView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Soil: %.2f / %.2f\n", v.SoilAvailable, v.SoilCapacity)
	fmt.Fprintf(&b, "Water: %d left today (resets %s)\n", v.Allowance.WaterRemaining, v.Allowance.DailyResetAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Sun: %d left this week (resets %s)\n", v.Allowance.SunRemaining, v.Allowance.WeeklyResetAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Sync: %s, %d pending upload\n", v.Status, v.Pending)

	fmt.Fprintf(&b, "\nSprouts (%d):\n", len(v.Sprouts))
	for _, sp := range v.Sprouts {
		fmt.Fprintf(&b, "  %s  %-9s %-3s %-7s %2d soil  %s", sp.ID, sp.State, sp.Season, sp.Environment, sp.SoilCost, sp.Title)
		switch sp.State {
		case derive.SproutActive:
			fmt.Fprintf(&b, "  (%d waterings)", len(sp.WaterEntries))
		case derive.SproutCompleted:
			fmt.Fprintf(&b, "  (result %d, +%.2f capacity)", sp.Result, sp.CapacityGained)
		case derive.SproutUprooted:
			fmt.Fprintf(&b, "  (%.2f soil returned)", sp.SoilReturned)
		}
		b.WriteString("\n")
	}

	if len(v.Leaves) > 0 {
		fmt.Fprintf(&b, "\nLeaves (%d):\n", len(v.Leaves))
		for _, l := range v.Leaves {
			fmt.Fprintf(&b, "  %s  %s  %s\n", l.ID, l.TwigID, l.Name)
		}
	}
	if v.Skipped > 0 {
		fmt.Fprintf(&b, "\n%d event(s) skipped as malformed or unknown\n", v.Skipped)
	}
	return strings.TrimRight(b.String(), "\n")
}

// StateOptions holds flags for the state command.
type StateOptions struct {
	*ClientOptions
	SproutFilter
}

// NewStateCommand creates the state command.
func NewStateCommand(client *ClientOptions) *cobra.Command {
	opts := &StateOptions{ClientOptions: client}

	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show the derived tree",
		Long: `Show soil, sprouts, leaves and remaining allowances derived from the
local event log. Syncs first unless --offline is given.

Examples:
  grove state
  grove state --active
  grove state --twig branch-0-twig-1 --format json
  grove state --leaf <leaf-id>`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runState(opts, cmd)
		},
	}

	addClientFlags(cmd, client)
	addOfflineFlag(cmd, client)
	cmd.Flags().StringVar(&opts.Twig, "twig", "", "only sprouts on this twig")
	cmd.Flags().StringVar(&opts.Leaf, "leaf", "", "only sprouts in this leaf (saga)")
	cmd.Flags().BoolVar(&opts.Active, "active", false, "only active sprouts")

	return cmd
}

func runState(opts *StateOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	f := formatterFor(opts.RootOptions, cmd)

	s, err := openSession(ctx, opts.ClientOptions, cmd)
	if err != nil {
		return err
	}
	defer s.close()

	st := s.engine.Store()
	view := NewStateView(st.State(), st.Allowances(s.now()), opts.SproutFilter)
	view.Status = s.engine.Status()
	view.Pending = len(s.engine.Pending())
	return f.Success(view)
}
