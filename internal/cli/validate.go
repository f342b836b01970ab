package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// ValidationResult is the output of a successful validate.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Pipeline string   `json:"pipeline"`
	Units    int      `json:"units"`
	Edges    int      `json:"edges"`
	Order    []string `json:"order"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <pipeline>",
		Short: "Check a pipeline without running it",
		Long: `Load a pipeline document, build its graph and check the wiring.

Reports document errors (unknown fields, missing names, duplicate units),
unit parameter errors and wiring errors (unknown ports, type mismatches,
unbound required inputs, cycles) without running a pass.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts)
	f.VerboseLog("Loading %s", path)

	doc, g, err := LoadPipeline(path, io.Discard)
	if err != nil {
		if f.Format != "json" {
			fmt.Fprintln(f.Writer, "✗ Validation failed")
		}
		return failLoad(f, err)
	}
	order, err := g.Order()
	if err != nil {
		return failLoad(f, &LoadError{Code: ErrCodeWiring, Message: "cannot order pipeline", Err: err})
	}

	result := ValidationResult{
		Valid:    true,
		Pipeline: doc.Name,
		Units:    len(doc.Units),
		Edges:    len(doc.Edges),
		Order:    order,
	}
	return f.Emit(result, func(w io.Writer) error {
		fmt.Fprintf(w, "✓ Pipeline %q valid\n", result.Pipeline)
		fmt.Fprintf(w, "  units: %d\n", result.Units)
		fmt.Fprintf(w, "  edges: %d\n", result.Edges)
		fmt.Fprintf(w, "  order: %s\n", strings.Join(result.Order, " -> "))
		return nil
	})
}
