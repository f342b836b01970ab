package units

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/progflow/internal/engine"
	"github.com/roach88/progflow/internal/table"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// drain runs the graph until every unit is done.
func drain(t *testing.T, g *engine.Graph) *engine.Scheduler {
	t.Helper()
	s := engine.NewScheduler(g, engine.WithQuantum(0), engine.WithLogger(quietLogger()))
	require.NoError(t, s.Start(context.Background()))
	return s
}

func newGraph(t *testing.T, units ...engine.Unit) *engine.Graph {
	t.Helper()
	g := engine.NewGraph()
	for _, u := range units {
		require.NoError(t, g.AddUnit(u))
	}
	return g
}

// staticUnit publishes a table it never changes itself; tests mutate it.
type staticUnit struct {
	core *engine.Core
	t    *table.Table
}

func newStatic(name string, t *table.Table) *staticUnit {
	s := &staticUnit{core: engine.NewCore(name, "static"), t: t}
	s.core.DeclareOutput("result", table.KindTable)
	if err := s.core.SetOutput("result", t); err != nil {
		panic(err)
	}
	return s
}

func (s *staticUnit) Core() *engine.Core { return s.core }

func (s *staticUnit) Step(context.Context, int64, engine.Budget) (engine.StepResult, error) {
	return engine.StepResult{State: engine.StateBlocked}, nil
}

// columnExtreme computes max (or min) of a column directly.
func columnExtreme(t *testing.T, tbl *table.Table, col string, less bool) float64 {
	t.Helper()
	c, ok := tbl.Column(col)
	require.True(t, ok, col)
	var out float64
	first := true
	tbl.Live().Each(func(i int64) bool {
		v, _ := c.Float(i)
		if first || (less && v < out) || (!less && v > out) {
			out = v
			first = false
		}
		return true
	})
	return out
}
