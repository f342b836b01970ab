package testutil

import (
	"context"

	"github.com/roach88/progflow/internal/engine"
	"github.com/roach88/progflow/internal/table"
)

// Value is the deterministic content of column c (zero-based) at row i in
// tables produced by Source.
func Value(i, c int) float64 {
	return float64((i*(c+7))%9973) - 4000
}

// Source is a scripted ingestion unit emitting rows with columns _1.._n.
type Source struct {
	core    *engine.Core
	out     *table.Table
	rows    int
	emitted int
	fault   map[int64]error
}

// NewSource creates a source of rows rows and cols float columns, published
// on output "result".
func NewSource(name string, rows, cols int) *Source {
	s := &Source{core: engine.NewCore(name, "source"), rows: rows}
	s.core.DeclareOutput("result", table.KindTable)
	s.core.SetDataInput(true)
	specs := make([]table.ColumnSpec, 0, cols)
	for _, n := range table.PositionalNames(cols) {
		specs = append(specs, table.ColumnSpec{Name: n, Type: table.Float64})
	}
	s.out = table.MustNew(name, specs...)
	if err := s.core.SetOutput("result", s.out); err != nil {
		panic(err)
	}
	return s
}

// FailAt makes the step of the given run return err.
func (s *Source) FailAt(run int64, err error) *Source {
	if s.fault == nil {
		s.fault = make(map[int64]error)
	}
	s.fault[run] = err
	return s
}

// Table returns the source's output table.
func (s *Source) Table() *table.Table { return s.out }

func (s *Source) Core() *engine.Core { return s.core }

func (s *Source) Step(_ context.Context, run int64, b engine.Budget) (engine.StepResult, error) {
	if err := s.fault[run]; err != nil {
		return engine.StepResult{}, err
	}
	n := min(b.StepSize, s.rows-s.emitted)
	batch := table.Batch{}
	for c, name := range s.out.Columns() {
		vals := make([]float64, n)
		for i := range vals {
			vals[i] = Value(s.emitted+i, c)
		}
		batch[name] = vals
	}
	if _, err := s.out.Append(batch); err != nil {
		return engine.StepResult{}, err
	}
	s.emitted += n
	if s.emitted >= s.rows {
		return engine.StepResult{State: engine.StateZombie, Steps: n}, nil
	}
	return engine.StepResult{State: engine.StateReady, Steps: n}, nil
}

// Progress implements engine.ProgressReporter.
func (s *Source) Progress() (int64, int64) { return int64(s.emitted), int64(s.rows) }

// RowsIngested implements engine.DataInput.
func (s *Source) RowsIngested() int64 { return int64(s.emitted) }

// Collector consumes one input and counts what it receives.
type Collector struct {
	core *engine.Core
	in   *engine.Consumer

	Created int
	Updated int
	Deleted int
	Resets  int
}

// NewCollector creates a collector with a required input "in".
func NewCollector(name string) *Collector {
	c := &Collector{core: engine.NewCore(name, "collector")}
	c.core.DeclareInput("in", table.KindAny, true)
	c.in = engine.NewConsumer(c, "in")
	return c
}

func (c *Collector) Core() *engine.Core { return c.core }

// Reset implements engine.Resetter.
func (c *Collector) Reset() {
	c.Resets++
	c.Created, c.Updated, c.Deleted = 0, 0, 0
}

func (c *Collector) Step(_ context.Context, _ int64, b engine.Budget) (engine.StepResult, error) {
	batch, err := c.in.Next(b.StepSize)
	if err != nil {
		return engine.StepResult{}, err
	}
	c.Created += batch.Created.Len()
	c.Updated += batch.Updated.Len()
	c.Deleted += batch.Deleted.Len()
	return engine.StepResult{State: c.in.NextState(), Steps: batch.Len()}, nil
}
