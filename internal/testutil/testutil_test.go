package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/progflow/internal/engine"
)

func TestDeterministicClock_Advances(t *testing.T) {
	c := NewDeterministicClock()
	assert.Equal(t, Epoch, c.Now())
	assert.Equal(t, Epoch.Add(time.Second), c.Now())
	assert.Equal(t, int64(2), c.Calls())

	c.Reset()
	assert.Equal(t, Epoch, c.Now())
}

func TestDeterministicClock_ThreadSafe(t *testing.T) {
	c := NewDeterministicClock()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				c.Now()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(200), c.Calls())
}

func TestFixedIDGenerator(t *testing.T) {
	g := NewFixedIDGenerator("a", "b")
	assert.Equal(t, "a", g.Generate())
	assert.Equal(t, "b", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}

func TestSourceAndCollector(t *testing.T) {
	g := engine.NewGraph()
	src := NewSource("src", 2500, 2)
	col := NewCollector("col")
	require.NoError(t, g.AddUnit(src))
	require.NoError(t, g.AddUnit(col))
	require.NoError(t, g.Connect("src", "result", "col", "in"))

	s := engine.NewScheduler(g, engine.WithQuantum(0))
	require.NoError(t, s.Start(context.Background()))

	assert.Equal(t, 2500, col.Created)
	assert.Equal(t, int64(2500), src.RowsIngested())
	assert.Equal(t, int64(3), s.RunNumber())
	assert.Equal(t, engine.StateZombie, col.Core().State())
}
