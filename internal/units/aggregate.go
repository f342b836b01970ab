package units

import (
	"context"
	"math"

	"github.com/roach88/progflow/internal/engine"
	"github.com/roach88/progflow/internal/table"
)

var nan = math.NaN()

// DefaultAggregateStepSize is the initial step size of Max and Min.
const DefaultAggregateStepSize = 10000

// AggregateConfig configures Max and Min.
type AggregateConfig struct {
	StepSize int `mapstructure:"step_size"`
}

type aggOp int

const (
	opMax aggOp = iota
	opMin
)

func (op aggOp) kind() string {
	if op == opMin {
		return "min"
	}
	return "max"
}

func (op aggOp) identity() float64 {
	if op == opMin {
		return math.Inf(1)
	}
	return math.Inf(-1)
}

// better reports whether v replaces cur. NaN never wins and is always
// replaced.
func (op aggOp) better(v, cur float64) bool {
	if math.IsNaN(v) {
		return false
	}
	if math.IsNaN(cur) {
		return true
	}
	if op == opMin {
		return v < cur
	}
	return v > cur
}

// Aggregate keeps the running maximum or minimum of every numeric column of
// its "table" input, published as a Dict keyed by column on output
// "result". Updates and deletes upstream cannot be folded into a running
// extreme, so they trigger a reset and a rescan.
type Aggregate struct {
	core    *engine.Core
	in      *engine.Consumer
	op      aggOp
	result  *table.Dict
	quality map[string]float64
	rows    int64
}

// NewMax creates a per-column maximum.
func NewMax(name string, cfg AggregateConfig) *Aggregate {
	return newAggregate(name, opMax, cfg)
}

// NewMin creates a per-column minimum.
func NewMin(name string, cfg AggregateConfig) *Aggregate {
	return newAggregate(name, opMin, cfg)
}

func newAggregate(name string, op aggOp, cfg AggregateConfig) *Aggregate {
	if name == "" {
		name = engine.GenerateName(op.kind())
	}
	a := &Aggregate{
		core:    engine.NewCore(name, op.kind()),
		op:      op,
		result:  table.NewDict(),
		quality: make(map[string]float64),
	}
	a.core.DeclareInput("table", table.KindTable, true)
	a.core.DeclareOutput("result", table.KindDict)
	a.core.SetDefaultStepSize(DefaultAggregateStepSize)
	if cfg.StepSize > 0 {
		a.core.SetDefaultStepSize(cfg.StepSize)
	}
	a.in = engine.NewConsumer(a, "table", engine.ResetOnChange())
	if err := a.core.SetOutput("result", a.result); err != nil {
		panic(err)
	}
	return a
}

func (a *Aggregate) Core() *engine.Core { return a.core }

// Result returns the output Dict.
func (a *Aggregate) Result() *table.Dict { return a.result }

// Reset implements engine.Resetter.
func (a *Aggregate) Reset() {
	a.result.Fill(a.op.identity())
	a.rows = 0
}

func (a *Aggregate) Step(_ context.Context, _ int64, b engine.Budget) (engine.StepResult, error) {
	batch, err := a.in.Next(b.StepSize)
	if err != nil {
		return engine.StepResult{}, err
	}
	if batch.Created.Empty() {
		return engine.StepResult{State: a.in.NextState(), Steps: batch.Len()}, nil
	}
	view, err := a.in.Slot().View()
	if err != nil {
		return engine.StepResult{}, err
	}
	for _, col := range view.NumericColumns() {
		cur, ok := a.result.Get(col)
		if !ok {
			cur = a.op.identity()
		}
		var ferr error
		batch.Created.Each(func(i int64) bool {
			v, err := view.Float(col, i)
			if err != nil {
				ferr = err
				return false
			}
			if a.op.better(v, cur) {
				cur = v
			}
			return true
		})
		if ferr != nil {
			return engine.StepResult{}, ferr
		}
		a.result.Set(col, cur)
	}
	a.rows += int64(batch.Created.Len())
	return engine.StepResult{State: a.in.NextState(), Steps: batch.Len()}, nil
}

// Quality implements engine.QualityReporter: the current extreme of every
// column, keyed "max_<column>" or "min_<column>".
func (a *Aggregate) Quality() map[string]float64 {
	if a.result.Len() == 0 {
		return nil
	}
	prefix := a.op.kind() + "_"
	for k, v := range a.result.Snapshot() {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			continue
		}
		a.quality[prefix+k] = v
	}
	out := make(map[string]float64, len(a.quality))
	for k, v := range a.quality {
		out[k] = v
	}
	return out
}

// Progress implements engine.ProgressReporter: rows folded against the
// rows the producer currently holds.
func (a *Aggregate) Progress() (int64, int64) {
	s := a.in.Slot()
	if s == nil {
		return a.rows, 0
	}
	t, err := s.Table()
	if err != nil || t == nil {
		return a.rows, 0
	}
	return a.rows, max(int64(t.Len()), a.rows)
}
