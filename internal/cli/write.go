package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/grove/internal/actions"
	"github.com/roach88/grove/internal/event"
)

// PlantOptions holds flags for the plant command.
type PlantOptions struct {
	*ClientOptions
	Twig          string
	Title         string
	Season        string
	Environment   string
	Leaf          string
	BloomWither   string
	BloomBudding  string
	BloomFlourish string
}

// NewPlantCommand creates the plant command.
func NewPlantCommand(client *ClientOptions) *cobra.Command {
	opts := &PlantOptions{ClientOptions: client}

	cmd := &cobra.Command{
		Use:   "plant",
		Short: "Plant a sprout on a twig",
		Long: `Plant a sprout, spending soil according to its season and environment.

Seasons: 2w, 1m, 3m, 6m, 1y
Environments: fertile, firm, barren

Example:
  grove plant --twig branch-0-twig-1 --title "Run a half marathon" --season 3m --environment firm`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlant(opts, cmd)
		},
	}

	addClientFlags(cmd, client)
	addOfflineFlag(cmd, client)
	cmd.Flags().StringVar(&opts.Twig, "twig", "", "twig id (required)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "sprout title (required)")
	cmd.Flags().StringVar(&opts.Season, "season", string(event.Season1Month), "season length")
	cmd.Flags().StringVar(&opts.Environment, "environment", string(event.EnvironmentFirm), "environment difficulty")
	cmd.Flags().StringVar(&opts.Leaf, "leaf", "", "leaf (saga) id")
	cmd.Flags().StringVar(&opts.BloomWither, "wither", "", "what failure looks like")
	cmd.Flags().StringVar(&opts.BloomBudding, "budding", "", "what partial success looks like")
	cmd.Flags().StringVar(&opts.BloomFlourish, "flourish", "", "what full success looks like")
	_ = cmd.MarkFlagRequired("twig")
	_ = cmd.MarkFlagRequired("title")

	return cmd
}

func runPlant(opts *PlantOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	f := formatterFor(opts.RootOptions, cmd)

	s, err := openSession(ctx, opts.ClientOptions, cmd)
	if err != nil {
		return err
	}
	defer s.close()

	ev, err := s.builder.Plant(s.engine.Store().State(), actions.Plant{
		TwigID:        opts.Twig,
		Title:         opts.Title,
		Season:        event.Season(opts.Season),
		Environment:   event.Environment(opts.Environment),
		LeafID:        opts.Leaf,
		BloomWither:   opts.BloomWither,
		BloomBudding:  opts.BloomBudding,
		BloomFlourish: opts.BloomFlourish,
	})
	if err != nil {
		return actionError(f, err)
	}
	return s.record(ctx, f, ev, ev.SproutID())
}

// WaterOptions holds flags for the water command.
type WaterOptions struct {
	*ClientOptions
	Content string
	Prompt  string
}

// NewWaterCommand creates the water command.
func NewWaterCommand(client *ClientOptions) *cobra.Command {
	opts := &WaterOptions{ClientOptions: client}

	cmd := &cobra.Command{
		Use:   "water <sprout-id>",
		Short: "Record daily progress on an active sprout",
		Long: `Water an active sprout. Three waterings are available per day; the
allowance resets at 06:00 local time.

Example:
  grove water 0195f0c4-... --content "Ran 8k this morning"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWater(opts, args[0], cmd)
		},
	}

	addClientFlags(cmd, client)
	addOfflineFlag(cmd, client)
	cmd.Flags().StringVar(&opts.Content, "content", "", "journal entry (required)")
	cmd.Flags().StringVar(&opts.Prompt, "prompt", "", "prompt the entry answers")
	_ = cmd.MarkFlagRequired("content")

	return cmd
}

func runWater(opts *WaterOptions, sproutID string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	f := formatterFor(opts.RootOptions, cmd)

	s, err := openSession(ctx, opts.ClientOptions, cmd)
	if err != nil {
		return err
	}
	defer s.close()

	st := s.engine.Store()
	ev, err := s.builder.Water(st.State(), st.Allowances(s.now()), sproutID, opts.Content, opts.Prompt)
	if err != nil {
		return actionError(f, err)
	}
	return s.record(ctx, f, ev, sproutID)
}

// HarvestOptions holds flags for the harvest command.
type HarvestOptions struct {
	*ClientOptions
	Result     int
	Reflection string
}

// NewHarvestCommand creates the harvest command.
func NewHarvestCommand(client *ClientOptions) *cobra.Command {
	opts := &HarvestOptions{ClientOptions: client}

	cmd := &cobra.Command{
		Use:   "harvest <sprout-id>",
		Short: "Complete a sprout with a 1-5 result",
		Long: `Harvest an active sprout. Its soil cost is returned and soil capacity
grows by a reward that shrinks as capacity approaches its ceiling.

Example:
  grove harvest 0195f0c4-... --result 4 --reflection "Missed one week"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHarvest(opts, args[0], cmd)
		},
	}

	addClientFlags(cmd, client)
	addOfflineFlag(cmd, client)
	cmd.Flags().IntVar(&opts.Result, "result", 0, "outcome from 1 (withered) to 5 (flourished) (required)")
	cmd.Flags().StringVar(&opts.Reflection, "reflection", "", "closing reflection")
	_ = cmd.MarkFlagRequired("result")

	return cmd
}

func runHarvest(opts *HarvestOptions, sproutID string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	f := formatterFor(opts.RootOptions, cmd)

	s, err := openSession(ctx, opts.ClientOptions, cmd)
	if err != nil {
		return err
	}
	defer s.close()

	ev, err := s.builder.Harvest(s.engine.Store().State(), sproutID, opts.Result, opts.Reflection)
	if err != nil {
		return actionError(f, err)
	}
	return s.record(ctx, f, ev, sproutID)
}

// NewUprootCommand creates the uproot command.
func NewUprootCommand(client *ClientOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "uproot <sprout-id>",
		Short: "Abandon an active sprout for a partial refund",
		Long: `Uproot an active sprout. A quarter of its soil cost is returned.

Example:
  grove uproot 0195f0c4-...`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUproot(client, args[0], cmd)
		},
	}

	addClientFlags(cmd, client)
	addOfflineFlag(cmd, client)
	return cmd
}

func runUproot(opts *ClientOptions, sproutID string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	f := formatterFor(opts.RootOptions, cmd)

	s, err := openSession(ctx, opts, cmd)
	if err != nil {
		return err
	}
	defer s.close()

	ev, err := s.builder.Uproot(s.engine.Store().State(), sproutID)
	if err != nil {
		return actionError(f, err)
	}
	return s.record(ctx, f, ev, sproutID)
}

// ShineOptions holds flags for the shine command.
type ShineOptions struct {
	*ClientOptions
	Label   string
	Content string
	Prompt  string
}

// NewShineCommand creates the shine command.
func NewShineCommand(client *ClientOptions) *cobra.Command {
	opts := &ShineOptions{ClientOptions: client}

	cmd := &cobra.Command{
		Use:   "shine <twig-id>",
		Short: "Reflect on a twig with the weekly sun",
		Long: `Shine on a twig. One sun is available per week; the allowance resets
on Monday at 06:00 local time.

Example:
  grove shine branch-0-twig-1 --label Running --content "Good week overall"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShine(opts, args[0], cmd)
		},
	}

	addClientFlags(cmd, client)
	addOfflineFlag(cmd, client)
	cmd.Flags().StringVar(&opts.Label, "label", "", "twig label at the time of writing (default twig id)")
	cmd.Flags().StringVar(&opts.Content, "content", "", "reflection (required)")
	cmd.Flags().StringVar(&opts.Prompt, "prompt", "", "prompt the reflection answers")
	_ = cmd.MarkFlagRequired("content")

	return cmd
}

func runShine(opts *ShineOptions, twigID string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	f := formatterFor(opts.RootOptions, cmd)

	s, err := openSession(ctx, opts.ClientOptions, cmd)
	if err != nil {
		return err
	}
	defer s.close()

	ev, err := s.builder.Shine(s.engine.Store().Allowances(s.now()), twigID, opts.Label, opts.Content, opts.Prompt)
	if err != nil {
		return actionError(f, err)
	}
	return s.record(ctx, f, ev, twigID)
}

// LeafOptions holds flags for the leaf command.
type LeafOptions struct {
	*ClientOptions
	Name string
}

// NewLeafCommand creates the leaf command.
func NewLeafCommand(client *ClientOptions) *cobra.Command {
	opts := &LeafOptions{ClientOptions: client}

	cmd := &cobra.Command{
		Use:   "leaf <twig-id>",
		Short: "Start a saga of related sprouts on a twig",
		Args:  cobra.ExactArgs(1),
		Example: `  grove leaf branch-0-twig-1 --name "Marathon training"
  grove plant --twig branch-0-twig-1 --leaf <leaf-id> --title "First 10k"`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLeaf(opts, args[0], cmd)
		},
	}

	addClientFlags(cmd, client)
	addOfflineFlag(cmd, client)
	cmd.Flags().StringVar(&opts.Name, "name", "", "leaf name (required)")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func runLeaf(opts *LeafOptions, twigID string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	f := formatterFor(opts.RootOptions, cmd)

	s, err := openSession(ctx, opts.ClientOptions, cmd)
	if err != nil {
		return err
	}
	defer s.close()

	ev, err := s.builder.CreateLeaf(twigID, opts.Name)
	if err != nil {
		return actionError(f, err)
	}
	leafID, _ := ev.Payload.String(event.FieldLeafID)
	return s.record(ctx, f, ev, leafID)
}
