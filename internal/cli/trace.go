package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/progflow/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Session  string
	Unit     string // optional - filter steps to one unit
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect recorded runs",
		Long: `Read the trace database written by "progflow run --trace-db".

Without --session, lists the recorded sessions. With --session, shows the
session's steps in run order and any step faults.

Examples:
  progflow trace --db ./trace.db
  progflow trace --db ./trace.db --session 0191f7c2-... --unit max
  progflow trace --db ./trace.db --session 0191f7c2-... --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the trace database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session to show")
	cmd.Flags().StringVar(&opts.Unit, "unit", "", "only show steps of this unit")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts.RootOptions)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// Open would create a missing database.
	if _, err := os.Stat(opts.Database); err != nil {
		return f.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("trace database not found: %s", opts.Database), nil, nil)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, fmt.Sprintf("failed to open trace database: %v", err), nil, nil)
	}
	defer st.Close()

	if opts.Session == "" {
		sessions, err := st.ListSessions(ctx)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeStore, err.Error(), nil, nil)
		}
		return f.Emit(sessions, func(w io.Writer) error {
			return writeSessions(w, sessions)
		})
	}

	trace, err := st.ReadSession(ctx, opts.Session)
	if errors.Is(err, store.ErrSessionNotFound) {
		return f.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("session not found: %s", opts.Session), nil, nil)
	}
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, err.Error(), nil, nil)
	}
	if opts.Unit != "" {
		if trace.Steps, err = st.ReadSteps(ctx, opts.Session, opts.Unit); err != nil {
			return f.Fail(ExitCommandError, ErrCodeStore, err.Error(), nil, nil)
		}
	}
	return f.Emit(trace, func(w io.Writer) error {
		return writeTrace(w, trace, opts.Verbose)
	})
}

func writeSessions(w io.Writer, sessions []store.Session) error {
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(w, "No sessions recorded.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tPIPELINE\tSTATUS\tRUNS\tSTARTED")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			s.ID, s.Pipeline, s.Status, s.Runs, s.StartedAt.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}

func writeTrace(w io.Writer, t store.Trace, verbose bool) error {
	s := t.Session
	fmt.Fprintf(w, "Session %s (pipeline %s)\n", s.ID, s.Pipeline)
	fmt.Fprintf(w, "Status: %s  Runs: %d  Started: %s", s.Status, s.Runs, s.StartedAt.UTC().Format(time.RFC3339))
	if s.EndedAt != nil {
		fmt.Fprintf(w, "  Ended: %s", s.EndedAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	header := "RUN\tUNIT\tKIND\tSTATE\tSTEPS\tPROGRESS"
	if verbose {
		header += "\tDURATION\tQUALITY"
	}
	fmt.Fprintln(tw, header)
	for _, st := range t.Steps {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s", st.Run, st.Unit, st.Kind, st.State, st.Steps, formatStepProgress(st))
		if verbose {
			fmt.Fprintf(tw, "\t%s\t%s", st.Duration, formatQuality(st.Quality))
		}
		fmt.Fprintln(tw)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(t.Faults) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Faults:")
		for _, ft := range t.Faults {
			fmt.Fprintf(w, "  run %d %s: %s\n", ft.Run, ft.Unit, ft.Message)
		}
	}
	return nil
}

func formatStepProgress(st store.StepRecord) string {
	if st.Total <= 0 {
		if st.Consumed == 0 {
			return "-"
		}
		return fmt.Sprintf("%d/?", st.Consumed)
	}
	return fmt.Sprintf("%d/%d", st.Consumed, st.Total)
}

func formatQuality(q map[string]float64) string {
	if len(q) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%g", k, q[k])
	}
	return strings.Join(parts, " ")
}
