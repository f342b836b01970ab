package units

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/progflow/internal/engine"
)

func TestRandomTable_Steps(t *testing.T) {
	r, err := NewRandomTable("random", RandomConfig{Columns: 4, Rows: 2500, Seed: 3})
	require.NoError(t, err)
	assert.True(t, r.Core().IsDataInput())
	assert.Equal(t, []string{"_1", "_2", "_3", "_4"}, r.Table().Columns())

	ctx := context.Background()
	budget := engine.Budget{StepSize: 1000}
	res, err := r.Step(ctx, 1, budget)
	require.NoError(t, err)
	assert.Equal(t, engine.StepResult{State: engine.StateReady, Steps: 1000}, res)
	_, err = r.Step(ctx, 2, budget)
	require.NoError(t, err)
	res, err = r.Step(ctx, 3, budget)
	require.NoError(t, err)
	assert.Equal(t, engine.StepResult{State: engine.StateZombie, Steps: 500}, res)

	consumed, total := r.Progress()
	assert.Equal(t, int64(2500), consumed)
	assert.Equal(t, int64(2500), total)
	assert.Equal(t, 2500, r.Table().Len())

	v, err := r.Table().Value("_2", 42)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, v.(float64), 0.0)
	assert.Less(t, v.(float64), 1.0)
}

func TestRandomTable_Reproducible(t *testing.T) {
	gen := func(seed uint64) []float64 {
		r, err := NewRandomTable("r", RandomConfig{Columns: 1, Rows: 5, Seed: seed, Scale: 10})
		require.NoError(t, err)
		_, err = r.Step(context.Background(), 1, engine.Budget{StepSize: 5})
		require.NoError(t, err)
		out := make([]float64, 5)
		for i := range out {
			v, _ := r.Table().Value("_1", int64(i))
			out[i] = v.(float64)
		}
		return out
	}
	assert.Equal(t, gen(9), gen(9))
	assert.NotEqual(t, gen(9), gen(10))
}

func TestNewRandomTable_Defaults(t *testing.T) {
	r, err := NewRandomTable("", RandomConfig{Columns: 1, StepSize: 250})
	require.NoError(t, err)
	assert.Regexp(t, `^random_\d+$`, r.Core().Name())
	assert.Equal(t, 250, r.Core().DefaultStepSize())
	_, total := r.Progress()
	assert.Equal(t, int64(DefaultRandomRows), total)

	_, err = NewRandomTable("r", RandomConfig{})
	assert.Error(t, err)
	_, err = NewRandomTable("r", RandomConfig{Columns: 1, Rows: -1})
	assert.Error(t, err)
}
