package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"sync"

	"github.com/roach88/progflow/internal/engine"
	"github.com/roach88/progflow/internal/pipeline"
	"github.com/roach88/progflow/internal/table"
)

// Harness is the scenario execution engine. It builds the scenario's
// pipeline, runs it with a fixed step size and records every completed
// step.
type Harness struct {
	graph  *engine.Graph
	sched  *engine.Scheduler
	result *Result
	logger *slog.Logger

	mu       sync.Mutex
	rejected []string
}

// Option configures a run.
type Option func(*Harness)

// WithLogger routes scheduler logs to l. Runs are silent by default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		if l != nil {
			h.logger = l
		}
	}
}

// Run executes a scenario and returns the result.
//
// Execution flow:
//  1. Load and build the pipeline
//  2. Register the step observer and queue edits through a pass hook
//  3. Run the scheduler until it drains or stops
//  4. Evaluate assertions against the final graph
//
// Errors are returned only when the scenario cannot run; failed
// assertions are reported in the result.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	doc, err := pipeline.Load(scenario.Pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline: %w", err)
	}
	g, err := pipeline.Build(doc, pipeline.DefaultRegistry(io.Discard))
	if err != nil {
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}

	h := &Harness{
		graph:  g,
		result: NewResult(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.sched = engine.NewScheduler(g,
		engine.WithQuantum(0),
		engine.WithLogger(h.logger),
		engine.WithPassHook(h.queueEdits(scenario.Edits)),
		engine.WithFaultHook(func(f *engine.StepFault) {
			h.result.Faults = append(h.result.Faults, f.Error())
		}),
	)
	for _, u := range g.Units() {
		u.Core().OnAfterStep(h.observe(scenario.StopAtRun))
	}

	if err := h.sched.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to run pipeline: %w", err)
	}

	h.result.Runs = h.sched.RunNumber()
	for _, u := range g.Units() {
		h.result.States[u.Core().Name()] = u.Core().State().String()
	}
	for _, msg := range h.rejected {
		h.result.AddError(msg)
	}

	actx := &AssertionContext{Graph: g, Runs: h.result.Runs}
	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

// observe records each completed step and stops the loop during stopAt.
func (h *Harness) observe(stopAt int64) engine.AfterStepFunc {
	return func(u engine.Unit, run int64) {
		c := u.Core()
		h.result.AddStep(run, c.Name(), c.State().String(), c.LastSteps())
		if stopAt > 0 && run == stopAt {
			h.sched.Stop()
		}
	}
}

// queueEdits enqueues the edits due after each completed pass. They apply
// at the start of the next pass.
func (h *Harness) queueEdits(edits []EditStep) engine.PassHook {
	return func(ps engine.PassStats) {
		for _, e := range edits {
			if e.AtRun == ps.Run {
				h.sched.Enqueue(h.edit(e))
			}
		}
	}
}

func (h *Harness) edit(e EditStep) engine.Edit {
	return func(tx *engine.Tx) error {
		err := applyEdit(tx, e)
		if err != nil {
			h.mu.Lock()
			h.rejected = append(h.rejected, fmt.Sprintf("edit at run %d rejected: %v", e.AtRun, err))
			h.mu.Unlock()
		}
		return err
	}
}

// applyEdit issues the deletes first. Adding a column touches the table
// directly, so it goes last where a failure still leaves the graph as it
// was.
func applyEdit(tx *engine.Tx, e EditStep) error {
	if len(e.Delete) > 0 {
		names := slices.Clone(e.Delete)
		if e.Collateral {
			extra, err := tx.CollateralRemoval(names...)
			if err != nil {
				return err
			}
			names = append(names, extra...)
		}
		if err := tx.DeleteUnits(names...); err != nil {
			return err
		}
	}
	if e.AddColumn != nil {
		return addColumn(tx, e.AddColumn)
	}
	return nil
}

func addColumn(tx *engine.Tx, c *ColumnStep) error {
	u, ok := tx.Unit(c.Unit)
	if !ok {
		return fmt.Errorf("add_column: unknown unit %q", c.Unit)
	}
	output := c.Output
	if output == "" {
		output = "result"
	}
	t, ok := u.Core().Output(output).(*table.Table)
	if !ok {
		return fmt.Errorf("add_column: %s.%s does not publish a table", c.Unit, output)
	}
	typ := table.Float64
	if c.Type != "" {
		var err error
		if typ, err = table.ParseType(c.Type); err != nil {
			return fmt.Errorf("add_column: %w", err)
		}
	}
	return t.AddColumn(table.ColumnSpec{Name: c.Name, Type: typ}, fillValue(typ, c.Fill))
}

func fillValue(typ table.Type, v float64) any {
	switch typ {
	case table.Int64:
		return int64(v)
	case table.String:
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return v
	}
}
