package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/progflow/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Filter string // scenario filter (glob pattern)
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Runs   int64    `json:"runs"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run pipeline scenarios",
		Long: `Run every scenario file in a directory.

A scenario names a pipeline, optional edits applied between passes and
assertions about the drained graph. Pipelines run with a fixed step size.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, unreadable scenarios)

Examples:
  progflow test ./scenarios
  progflow test ./scenarios --filter "delete_*"
  progflow test ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	return cmd
}

func runTests(ctx context.Context, opts *TestOptions, dir string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	f := newFormatter(cmd, opts.RootOptions)

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return f.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("scenarios directory not found: %s", dir), nil, nil)
	}
	files, err := findScenarioFiles(dir, opts.Filter)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil, nil)
	}

	result := TestResult{Scenarios: make([]ScenarioResult, 0, len(files)), Total: len(files)}
	for _, file := range files {
		f.VerboseLog("Running %s", file)
		sr, err := runScenarioFile(ctx, file)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeLoad, fmt.Sprintf("scenario %s", file), nil, err.Error())
		}
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if result.Failed > 0 {
		if f.Format != "json" {
			_ = writeTestResult(f.Writer, result)
		}
		return f.Fail(ExitFailure, ErrCodeScenario,
			fmt.Sprintf("%d of %d scenario(s) failed", result.Failed, result.Total), result, nil)
	}
	return f.Emit(result, func(w io.Writer) error {
		if result.Total == 0 {
			fmt.Fprintln(w, "No scenarios found.")
			return nil
		}
		return writeTestResult(w, result)
	})
}

func runScenarioFile(ctx context.Context, path string) (ScenarioResult, error) {
	s, err := harness.LoadScenario(path)
	if err != nil {
		return ScenarioResult{}, err
	}
	r, err := harness.Run(ctx, s)
	if err != nil {
		return ScenarioResult{}, err
	}
	return ScenarioResult{Name: s.Name, Pass: r.Pass, Runs: r.Runs, Errors: r.Errors}, nil
}

// findScenarioFiles returns the YAML files under dir whose base name
// matches filter, in lexical order.
func findScenarioFiles(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

func writeTestResult(w io.Writer, r TestResult) error {
	for _, s := range r.Scenarios {
		if s.Pass {
			fmt.Fprintf(w, "✓ %s (%d runs)\n", s.Name, s.Runs)
			continue
		}
		fmt.Fprintf(w, "✗ %s\n", s.Name)
		for _, e := range s.Errors {
			for _, line := range strings.Split(strings.TrimRight(e, "\n"), "\n") {
				fmt.Fprintf(w, "    %s\n", line)
			}
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d failed, %d total\n", r.Passed, r.Failed, r.Total)
	return nil
}
