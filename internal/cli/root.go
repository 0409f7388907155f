package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the grove CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}
	client := &ClientOptions{RootOptions: opts}

	cmd := &cobra.Command{
		Use:   "grove",
		Short: "Grove - grow goals as a tree of sprouts",
		Long: `Grove records goal tracking as an append-only event log.

Sprouts are planted on twigs, watered daily, and harvested or uprooted when
their season ends. Every device derives the same tree from the same events;
the server only stores and relays them.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	// Server side
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewVectorsCommand(opts))

	// Device side
	cmd.AddCommand(NewSyncCommand(client))
	cmd.AddCommand(NewStateCommand(client))
	cmd.AddCommand(NewPlantCommand(client))
	cmd.AddCommand(NewWaterCommand(client))
	cmd.AddCommand(NewHarvestCommand(client))
	cmd.AddCommand(NewUprootCommand(client))
	cmd.AddCommand(NewShineCommand(client))
	cmd.AddCommand(NewLeafCommand(client))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// newLogger returns a text logger on w. Verbose lowers the level to debug;
// otherwise records below base are dropped.
func newLogger(w io.Writer, verbose bool, base slog.Level) *slog.Logger {
	level := base
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
