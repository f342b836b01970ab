package engine

import (
	"context"
	"errors"
	"math"

	"github.com/roach88/progflow/internal/table"
)

// genUnit emits rows with columns _1.._k, row i holding float64(i*c % 9973)
// in column c. It emits min(step size, remaining) rows per step.
type genUnit struct {
	core  *Core
	t     *table.Table
	rows  int
	cols  int
	done  int
	total ProgressCounter
}

func newGen(name string, rows, cols int) *genUnit {
	g := &genUnit{core: NewCore(name, "gen"), rows: rows, cols: cols}
	g.core.DeclareOutput("result", table.KindTable)
	g.core.SetDataInput(true)
	specs := make([]table.ColumnSpec, 0, cols)
	for _, n := range table.PositionalNames(cols) {
		specs = append(specs, table.ColumnSpec{Name: n, Type: table.Float64})
	}
	g.t = table.MustNew(name, specs...)
	if err := g.core.SetOutput("result", g.t); err != nil {
		panic(err)
	}
	g.total.SetTotal(int64(rows))
	return g
}

func genValue(i, c int) float64 { return float64((i * (c + 7)) % 9973) }

func (g *genUnit) Core() *Core { return g.core }

func (g *genUnit) Step(_ context.Context, _ int64, b Budget) (StepResult, error) {
	n := min(b.StepSize, g.rows-g.done)
	batch := table.Batch{}
	for c, name := range g.t.Columns() {
		vals := make([]float64, n)
		for i := range vals {
			vals[i] = genValue(g.done+i, c)
		}
		batch[name] = vals
	}
	if _, err := g.t.Append(batch); err != nil {
		return StepResult{}, err
	}
	g.done += n
	g.total.Add(int64(n))
	if g.done >= g.rows {
		return StepResult{State: StateZombie, Steps: n}, nil
	}
	return StepResult{State: StateReady, Steps: n}, nil
}

func (g *genUnit) Progress() (int64, int64) { return g.total.Progress() }
func (g *genUnit) RowsIngested() int64      { return int64(g.done) }

// extremeUnit keeps the per-column maximum (or minimum) of its input.
type extremeUnit struct {
	core   *Core
	in     *Consumer
	less   bool
	result map[string]float64
	resets int
}

func newExtreme(name string, less bool) *extremeUnit {
	u := &extremeUnit{core: NewCore(name, "max"), less: less}
	if less {
		u.core = NewCore(name, "min")
	}
	u.core.DeclareInput("table", table.KindTable, true)
	u.in = NewConsumer(u, "table", ResetOnChange())
	u.Reset()
	return u
}

func (u *extremeUnit) Core() *Core { return u.core }

func (u *extremeUnit) Reset() {
	u.resets++
	u.result = make(map[string]float64)
}

func (u *extremeUnit) Step(_ context.Context, _ int64, b Budget) (StepResult, error) {
	batch, err := u.in.Next(b.StepSize)
	if err != nil {
		return StepResult{}, err
	}
	view, err := u.in.Slot().View()
	if err != nil {
		return StepResult{}, err
	}
	if view != nil {
		for _, col := range view.NumericColumns() {
			batch.Created.Each(func(i int64) bool {
				v, _ := view.Float(col, i)
				cur, ok := u.result[col]
				if !ok {
					cur = math.Inf(1)
					if !u.less {
						cur = math.Inf(-1)
					}
				}
				if (u.less && v < cur) || (!u.less && v > cur) {
					cur = v
				}
				u.result[col] = cur
				return true
			})
		}
	}
	return StepResult{State: u.in.NextState(), Steps: batch.Len()}, nil
}

// funcUnit delegates Step to a function; used for faults, panics and
// scripted behavior.
type funcUnit struct {
	core *Core
	step func(ctx context.Context, run int64, b Budget) (StepResult, error)
}

func newFunc(name string, step func(context.Context, int64, Budget) (StepResult, error)) *funcUnit {
	return &funcUnit{core: NewCore(name, "func"), step: step}
}

func (f *funcUnit) Core() *Core { return f.core }

func (f *funcUnit) Step(ctx context.Context, run int64, b Budget) (StepResult, error) {
	return f.step(ctx, run, b)
}

var errBoom = errors.New("boom")

// sinkUnit consumes everything from one input and counts what it saw.
type sinkUnit struct {
	core     *Core
	in       *Consumer
	created  int
	updated  int
	deleted  int
	resets   int
	required bool
}

func newSink(name string, required bool) *sinkUnit {
	s := &sinkUnit{core: NewCore(name, "sink"), required: required}
	s.core.DeclareInput("in", table.KindAny, required)
	s.in = NewConsumer(s, "in")
	return s
}

func (s *sinkUnit) Core() *Core { return s.core }
func (s *sinkUnit) Reset()      { s.resets++; s.created, s.updated, s.deleted = 0, 0, 0 }

func (s *sinkUnit) Step(_ context.Context, _ int64, b Budget) (StepResult, error) {
	if s.in.Slot() == nil {
		return StepResult{State: StateZombie}, nil
	}
	batch, err := s.in.Next(b.StepSize)
	if err != nil {
		return StepResult{}, err
	}
	s.created += batch.Created.Len()
	s.updated += batch.Updated.Len()
	s.deleted += batch.Deleted.Len()
	return StepResult{State: s.in.NextState(), Steps: batch.Len()}, nil
}

// relayUnit copies created rows of its input into its own table output.
type relayUnit struct {
	core *Core
	in   *Consumer
	out  *table.Table
}

func newRelay(name string, opts ...ConsumerOption) *relayUnit {
	r := &relayUnit{core: NewCore(name, "relay")}
	r.core.DeclareInput("in", table.KindTable, true)
	r.core.DeclareOutput("result", table.KindTable)
	r.in = NewConsumer(r, "in", opts...)
	r.out = table.MustNew(name, table.ColumnSpec{Name: "v", Type: table.Float64})
	if err := r.core.SetOutput("result", r.out); err != nil {
		panic(err)
	}
	return r
}

func (r *relayUnit) Core() *Core { return r.core }

func (r *relayUnit) Step(_ context.Context, _ int64, b Budget) (StepResult, error) {
	batch, err := r.in.Next(b.StepSize)
	if err != nil {
		return StepResult{}, err
	}
	vals := make([]float64, 0, batch.Created.Len())
	batch.Created.Each(func(i int64) bool {
		vals = append(vals, float64(i))
		return true
	})
	if len(vals) > 0 {
		if _, err := r.out.Append(table.Batch{"v": vals}); err != nil {
			return StepResult{}, err
		}
	}
	return StepResult{State: r.in.NextState(), Steps: batch.Len()}, nil
}
