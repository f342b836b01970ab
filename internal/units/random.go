package units

import (
	"context"
	"errors"
	"math/rand/v2"

	"github.com/roach88/progflow/internal/engine"
	"github.com/roach88/progflow/internal/table"
)

// DefaultRandomRows is the row count of a RandomTable configured without one.
const DefaultRandomRows = 1_000_000

// RandomConfig configures a RandomTable.
type RandomConfig struct {
	Columns  int     `mapstructure:"columns"`
	Rows     int     `mapstructure:"rows"`
	Seed     uint64  `mapstructure:"seed"`
	Scale    float64 `mapstructure:"scale"`
	StepSize int     `mapstructure:"step_size"`
}

// RandomTable emits rows of uniformly distributed floats in columns _1.._n.
// Values are drawn from a seeded PCG source so runs are reproducible.
type RandomTable struct {
	core    *engine.Core
	cfg     RandomConfig
	rng     *rand.Rand
	out     *table.Table
	emitted int
}

// NewRandomTable creates a random source publishing on output "result".
func NewRandomTable(name string, cfg RandomConfig) (*RandomTable, error) {
	if cfg.Columns <= 0 {
		return nil, errors.New("random: columns must be positive")
	}
	if cfg.Rows < 0 {
		return nil, errors.New("random: rows must not be negative")
	}
	if cfg.Rows == 0 {
		cfg.Rows = DefaultRandomRows
	}
	if cfg.Scale == 0 {
		cfg.Scale = 1
	}
	if name == "" {
		name = engine.GenerateName("random")
	}
	r := &RandomTable{
		core: engine.NewCore(name, "random"),
		cfg:  cfg,
		rng:  rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}
	r.core.DeclareOutput("result", table.KindTable)
	r.core.SetDataInput(true)
	if cfg.StepSize > 0 {
		r.core.SetDefaultStepSize(cfg.StepSize)
	}
	specs := make([]table.ColumnSpec, cfg.Columns)
	for i, n := range table.PositionalNames(cfg.Columns) {
		specs[i] = table.ColumnSpec{Name: n, Type: table.Float64}
	}
	r.out = table.MustNew(name, specs...)
	if err := r.core.SetOutput("result", r.out); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RandomTable) Core() *engine.Core { return r.core }

// Table returns the generated table.
func (r *RandomTable) Table() *table.Table { return r.out }

func (r *RandomTable) Step(_ context.Context, _ int64, b engine.Budget) (engine.StepResult, error) {
	n := min(b.StepSize, r.cfg.Rows-r.emitted)
	if n <= 0 {
		return engine.StepResult{State: engine.StateZombie}, nil
	}
	batch := make(table.Batch, r.cfg.Columns)
	for _, name := range r.out.Columns() {
		vals := make([]float64, n)
		for i := range vals {
			vals[i] = r.rng.Float64() * r.cfg.Scale
		}
		batch[name] = vals
	}
	if _, err := r.out.Append(batch); err != nil {
		return engine.StepResult{}, err
	}
	r.emitted += n
	if r.emitted >= r.cfg.Rows {
		return engine.StepResult{State: engine.StateZombie, Steps: n}, nil
	}
	return engine.StepResult{State: engine.StateReady, Steps: n}, nil
}

// Progress implements engine.ProgressReporter.
func (r *RandomTable) Progress() (int64, int64) {
	return int64(r.emitted), int64(r.cfg.Rows)
}

// RowsIngested implements engine.DataInput.
func (r *RandomTable) RowsIngested() int64 { return int64(r.emitted) }
