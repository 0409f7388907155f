package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/grove/internal/harness"
)

// VectorsOptions holds flags for the vectors command.
type VectorsOptions struct {
	*RootOptions
	Golden string // golden directory; empty means assertions only
	Update bool   // regenerate golden files
	Filter string // vector filter (glob pattern)
}

// VectorResult holds the result of a single vector.
type VectorResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// VectorsResult holds the overall result.
type VectorsResult struct {
	Vectors []VectorResult `json:"vectors"`
	Passed  int            `json:"passed"`
	Failed  int            `json:"failed"`
	Total   int            `json:"total"`
}

func (r VectorsResult) String() string {
	var b strings.Builder
	for _, v := range r.Vectors {
		if v.Pass {
			fmt.Fprintf(&b, "✓ %s\n", v.Name)
			continue
		}
		fmt.Fprintf(&b, "✗ %s\n", v.Name)
		for _, e := range v.Errors {
			fmt.Fprintf(&b, "  %s\n", e)
		}
	}
	fmt.Fprintf(&b, "\nSummary: %d passed, %d failed, %d total", r.Passed, r.Failed, r.Total)
	return b.String()
}

// NewVectorsCommand creates the vectors command.
func NewVectorsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VectorsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "vectors <vectors-dir>",
		Short: "Run shared derivation test vectors",
		Long: `Run YAML test vectors against the derivation engine.

Each vector is a fixed event log with assertions on the derived state. With
--golden, the rounded state snapshot must also match <golden>/<name>.golden.

Exit codes:
  0 - All vectors passed
  1 - One or more vectors failed
  2 - Command error (invalid paths, etc.)

Examples:
  grove vectors ./internal/harness/testdata/vectors
  grove vectors ./vectors --golden ./golden --filter "uproot*"
  grove vectors ./vectors --golden ./golden --update`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVectors(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Golden, "golden", "", "directory of golden snapshots")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter vectors by glob pattern")

	return cmd
}

func runVectors(opts *VectorsOptions, dir string, cmd *cobra.Command) error {
	f := formatterFor(opts.RootOptions, cmd)

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("vectors directory not found: %s", dir))
	}
	if opts.Update && opts.Golden == "" {
		return NewExitError(ExitCommandError, "--update requires --golden")
	}

	files, err := findVectorFiles(dir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find vectors", err)
	}

	result := VectorsResult{
		Vectors: make([]VectorResult, 0, len(files)),
		Total:   len(files),
	}
	for _, file := range files {
		vr := runVector(file, opts)
		f.VerboseLog("%s: pass=%v", vr.Name, vr.Pass)
		result.Vectors = append(result.Vectors, vr)
		if vr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if result.Failed == 0 {
		return f.Success(result)
	}

	msg := fmt.Sprintf("%d vector(s) failed", result.Failed)
	if opts.Format == "json" {
		_ = f.encode(CLIResponse{
			Status: "error",
			Data:   result,
			Error:  &CLIError{Code: CodeVectorFailed, Message: msg},
		})
	} else {
		_ = f.Success(result)
	}
	return NewExitError(ExitFailure, msg)
}

// findVectorFiles lists YAML vectors directly inside dir.
func findVectorFiles(dir, filter string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		if filter != "" {
			matched, err := filepath.Match(filter, strings.TrimSuffix(entry.Name(), ext))
			if err != nil {
				return nil, fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				continue
			}
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	return files, nil
}

// runVector executes one vector and, when configured, its golden check.
func runVector(file string, opts *VectorsOptions) VectorResult {
	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return VectorResult{
			Name:   filepath.Base(file),
			Errors: []string{fmt.Sprintf("failed to load vector: %v", err)},
		}
	}

	result, err := harness.Run(scenario)
	if err != nil {
		return VectorResult{
			Name:   scenario.Name,
			Errors: []string{fmt.Sprintf("execution failed: %v", err)},
		}
	}

	vr := VectorResult{Name: scenario.Name, Pass: result.Pass, Errors: result.Errors}
	if opts.Golden == "" {
		return vr
	}

	data, err := harness.NewSnapshot(scenario.Name, result).Marshal()
	if err != nil {
		return failVector(vr, fmt.Sprintf("failed to render snapshot: %v", err))
	}
	path := filepath.Join(opts.Golden, scenario.Name+".golden")

	if opts.Update {
		if err := os.MkdirAll(opts.Golden, 0755); err != nil {
			return failVector(vr, fmt.Sprintf("failed to create golden directory: %v", err))
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return failVector(vr, fmt.Sprintf("failed to write golden file: %v", err))
		}
		return vr
	}

	golden, err := os.ReadFile(path)
	if err != nil {
		return failVector(vr, fmt.Sprintf("failed to read golden file: %v", err))
	}
	if !bytes.Equal(golden, data) {
		return failVector(vr, "snapshot does not match golden file (run with --update to regenerate)")
	}
	return vr
}

func failVector(vr VectorResult, msg string) VectorResult {
	vr.Pass = false
	vr.Errors = append(vr.Errors, msg)
	return vr
}
