package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// PlanOptions holds flags for the plan command.
type PlanOptions struct {
	*RootOptions
	Remove []string
}

// PlanResult describes the effect of removing units from a pipeline.
type PlanResult struct {
	Pipeline   string   `json:"pipeline"`
	Remove     []string `json:"remove"`
	Collateral []string `json:"collateral"`
	Remaining  []string `json:"remaining"`
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "plan <pipeline>",
		Short: "Show what removing units would take down",
		Long: `Compute the collateral removal of a set of units.

Units whose required inputs depend only on the removed units cannot run
any more and are removed with them, transitively. The plan lists them and
the dependency order of what remains.

Example:
  progflow plan pipeline.yaml --remove min`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Remove, "remove", nil, "units to remove (required)")
	_ = cmd.MarkFlagRequired("remove")

	return cmd
}

func runPlan(opts *PlanOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts.RootOptions)

	doc, g, err := LoadPipeline(path, io.Discard)
	if err != nil {
		return failLoad(f, err)
	}

	collateral, err := g.CollateralRemoval(opts.Remove...)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeNotFound, err.Error(), nil, nil)
	}
	if collateral == nil {
		collateral = []string{}
	}
	if err := g.DeleteUnits(append(append([]string(nil), opts.Remove...), collateral...)...); err != nil {
		return f.Fail(ExitFailure, ErrCodeWiring, err.Error(), nil, nil)
	}
	remaining, err := g.Order()
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeWiring, err.Error(), nil, nil)
	}

	result := PlanResult{
		Pipeline:   doc.Name,
		Remove:     opts.Remove,
		Collateral: collateral,
		Remaining:  remaining,
	}
	return f.Emit(result, func(w io.Writer) error {
		fmt.Fprintf(w, "Plan for pipeline %q\n", result.Pipeline)
		fmt.Fprintf(w, "  remove:     %s\n", listOrNone(result.Remove))
		fmt.Fprintf(w, "  collateral: %s\n", listOrNone(result.Collateral))
		fmt.Fprintf(w, "  remaining:  %s\n", listOrNone(result.Remaining))
		return nil
	})
}

func listOrNone(names []string) string {
	if len(names) == 0 {
		return "(none)"
	}
	return strings.Join(names, ", ")
}
