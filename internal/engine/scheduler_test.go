package engine

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/progflow/internal/table"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestScheduler(g *Graph, opts ...Option) *Scheduler {
	base := []Option{WithQuantum(0), WithLogger(quietLogger())}
	return NewScheduler(g, append(base, opts...)...)
}

// tableExtreme computes the per-column extreme over the live rows of t.
func tableExtreme(t *testing.T, tbl *table.Table, cols []string, less bool) map[string]float64 {
	t.Helper()
	v, err := tbl.View(cols...)
	require.NoError(t, err)
	out := make(map[string]float64)
	for _, c := range cols {
		best := math.Inf(-1)
		if less {
			best = math.Inf(1)
		}
		tbl.Live().Each(func(i int64) bool {
			f, err := v.Float(c, i)
			require.NoError(t, err)
			if (less && f < best) || (!less && f > best) {
				best = f
			}
			return true
		})
		out[c] = best
	}
	return out
}

func TestScheduler_MaxOverTenThousandRows(t *testing.T) {
	g := NewGraph()
	gen := newGen("gen", 10000, 3)
	max := newExtreme("max", false)
	require.NoError(t, g.AddUnit(gen))
	require.NoError(t, g.AddUnit(max))
	require.NoError(t, g.Connect("gen", "result", "max", "table"))

	s := newTestScheduler(g)
	require.NoError(t, s.Start(context.Background()))

	assert.Equal(t, StateZombie, gen.Core().State())
	assert.Equal(t, StateZombie, max.Core().State())
	assert.Equal(t, int64(10), s.RunNumber(), "1,000 rows per pass")
	assert.Equal(t, int64(10000), max.Core().TotalSteps())
	assert.Equal(t, tableExtreme(t, gen.t, []string{"_1", "_2", "_3"}, false), max.result)
	assert.False(t, s.Running())
	assert.False(t, s.DataInputActive())
}

func TestScheduler_DeleteSiblingLeavesMaxUntouched(t *testing.T) {
	g := NewGraph()
	gen := newGen("gen", 5000, 3)
	max := newExtreme("max", false)
	min := newExtreme("min", true)
	for _, u := range []Unit{gen, max, min} {
		require.NoError(t, g.AddUnit(u))
	}
	require.NoError(t, g.Connect("gen", "result", "max", "table"))
	require.NoError(t, g.Connect("gen", "result", "min", "table"))

	s := newTestScheduler(g)
	maxSlot := max.Core().Input("table")

	var before, after Delta
	gen.Core().OnAfterStep(func(_ Unit, run int64) {
		if run != 2 {
			return
		}
		s.Enqueue(func(*Tx) error {
			before = maxSlot.Deltas()
			return nil
		})
		s.Enqueue(func(tx *Tx) error { return tx.DeleteUnits("min") })
		s.Enqueue(func(*Tx) error {
			after = maxSlot.Deltas()
			return nil
		})
	})

	require.NoError(t, s.Start(context.Background()))

	_, ok := g.Unit("min")
	assert.False(t, ok)
	assert.Equal(t, StateTerminated, min.Core().State())
	assert.Same(t, maxSlot, max.Core().Input("table"))
	assert.True(t, before.Created.Equal(after.Created), "max cursor untouched by the deletion")
	assert.Equal(t, before.Reset, after.Reset)
	assert.Equal(t, tableExtreme(t, gen.t, []string{"_1", "_2", "_3"}, false), max.result)
	assert.Equal(t, 1, max.resets, "only the constructor reset")
}

func TestScheduler_HintedSlotSchema(t *testing.T) {
	g := NewGraph()
	gen := newGen("gen", 3000, 10)
	max := newExtreme("max", false)
	require.NoError(t, g.AddUnit(gen))
	require.NoError(t, g.AddUnit(max))
	require.NoError(t, g.Connect("gen", "result", "max", "table", WithColumns("_1", "_2", "_3")))

	gen.Core().OnAfterStep(func(_ Unit, run int64) {
		if run == 1 {
			require.NoError(t, gen.t.AddColumn(table.ColumnSpec{Name: "zz", Type: table.Float64}, 0.0))
		}
	})

	s := newTestScheduler(g)
	require.NoError(t, s.Start(context.Background()))

	v, err := max.Core().Input("table").View()
	require.NoError(t, err)
	assert.Equal(t, []string{"_1", "_2", "_3"}, v.Columns())
	assert.Len(t, max.result, 3)
	assert.Equal(t, tableExtreme(t, gen.t, []string{"_1", "_2", "_3"}, false), max.result)
	assert.True(t, gen.t.HasColumn("zz"))
}

func TestScheduler_StopFromAfterStepCallback(t *testing.T) {
	g := NewGraph()
	gen := newGen("gen", 100000, 1)
	sink := newSink("sink", true)
	require.NoError(t, g.AddUnit(gen))
	require.NoError(t, g.AddUnit(sink))
	require.NoError(t, g.Connect("gen", "result", "sink", "in"))

	s := newTestScheduler(g)
	gen.Core().OnAfterStep(func(_ Unit, run int64) {
		if run == 3 {
			s.Stop()
			s.Stop() // idempotent
		}
	})

	require.NoError(t, s.Start(context.Background()))

	assert.Equal(t, int64(3), s.RunNumber())
	assert.Equal(t, int64(3), gen.Core().StepCount())
	assert.Equal(t, int64(3), sink.Core().StepCount(), "the in-progress pass completes")
	assert.Equal(t, 3000, sink.created)

	// The loop can be restarted and picks up where it stopped.
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, 100000, sink.created)
}

func TestScheduler_AfterStepCallbacksInOrder(t *testing.T) {
	g := NewGraph()
	gen := newGen("gen", 30, 1)
	gen.Core().SetDefaultStepSize(10)
	require.NoError(t, g.AddUnit(gen))

	var calls []string
	gen.Core().OnAfterStep(func(_ Unit, run int64) { calls = append(calls, "a") })
	gen.Core().OnAfterStep(func(_ Unit, run int64) { calls = append(calls, "b") })

	s := newTestScheduler(g)
	require.NoError(t, s.Start(context.Background()))

	assert.Equal(t, []string{"a", "b", "a", "b", "a", "b"}, calls)
}

func TestScheduler_StepFaultZombiesUnitOnly(t *testing.T) {
	g := NewGraph()
	gen := newGen("gen", 3000, 1)
	bad := newFunc("bad", func(_ context.Context, run int64, _ Budget) (StepResult, error) {
		if run == 2 {
			return StepResult{}, errBoom
		}
		return StepResult{State: StateReady}, nil
	})
	panicky := newFunc("panicky", func(context.Context, int64, Budget) (StepResult, error) {
		panic("kaboom")
	})
	sink := newSink("sink", true)
	for _, u := range []Unit{gen, bad, panicky, sink} {
		require.NoError(t, g.AddUnit(u))
	}
	require.NoError(t, g.Connect("gen", "result", "sink", "in"))

	var faults []*StepFault
	var logs bytes.Buffer
	s := NewScheduler(g,
		WithQuantum(0),
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
		WithFaultHook(func(f *StepFault) { faults = append(faults, f) }),
	)
	require.NoError(t, s.Start(context.Background()))

	assert.Equal(t, StateZombie, bad.Core().State())
	assert.ErrorIs(t, bad.Core().Fault(), errBoom)
	assert.True(t, IsStepFault(bad.Core().Fault()))
	assert.Equal(t, StateZombie, panicky.Core().State())
	assert.Contains(t, panicky.Core().Fault().Error(), "kaboom")

	require.Len(t, faults, 2)
	assert.Equal(t, "panicky", faults[0].Unit)
	assert.Equal(t, int64(1), faults[0].Run)
	assert.Equal(t, "bad", faults[1].Unit)
	assert.Equal(t, int64(2), faults[1].Run)

	assert.Equal(t, 3000, sink.created, "siblings are unaffected")
	assert.Contains(t, logs.String(), "unit step failed")
	assert.Contains(t, logs.String(), "unit=bad")
}

func TestScheduler_ClampsOverReportedSteps(t *testing.T) {
	g := NewGraph()
	gen := newGen("gen", 1000, 1)
	liar := newFunc("liar", nil)
	liar.Core().DeclareInput("in", table.KindTable, true)
	in := NewConsumer(liar, "in")
	liar.step = func(_ context.Context, _ int64, b Budget) (StepResult, error) {
		batch, err := in.Next(b.StepSize)
		if err != nil {
			return StepResult{}, err
		}
		return StepResult{State: in.NextState(), Steps: batch.Len() + 500}, nil
	}
	require.NoError(t, g.AddUnit(gen))
	require.NoError(t, g.AddUnit(liar))
	require.NoError(t, g.Connect("gen", "result", "liar", "in"))

	var violations []BudgetViolation
	s := newTestScheduler(g, WithBudgetHook(func(v BudgetViolation) { violations = append(violations, v) }))
	require.NoError(t, s.Start(context.Background()))

	require.NotEmpty(t, violations)
	assert.Equal(t, 1500, violations[0].Reported)
	assert.Equal(t, 1000, violations[0].Clamped)
	assert.Equal(t, int64(1000), liar.Core().TotalSteps())
}

func TestScheduler_ResetMidStreamMatchesFromScratch(t *testing.T) {
	g := NewGraph()
	gen := newGen("gen", 8000, 2)
	max := newExtreme("max", false)
	require.NoError(t, g.AddUnit(gen))
	require.NoError(t, g.AddUnit(max))
	require.NoError(t, g.Connect("gen", "result", "max", "table"))

	gen.Core().OnAfterStep(func(_ Unit, run int64) {
		switch run {
		case 3:
			// Lower the current maximum; a running max cannot absorb this
			// without starting over.
			require.NoError(t, gen.t.Update(5, map[string]any{"_1": -1.0}))
		case 5:
			require.NoError(t, gen.t.Delete(table.RangeSet(100, 200)))
		}
	})

	s := newTestScheduler(g)
	require.NoError(t, s.Start(context.Background()))

	assert.Equal(t, 3, max.resets, "constructor plus two resets")
	assert.Equal(t, tableExtreme(t, gen.t, []string{"_1", "_2"}, false), max.result)
}

func TestScheduler_StartValidates(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddUnit(newSink("sink", true)))

	s := newTestScheduler(g)
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsUnboundInput(err))
	assert.False(t, s.Running())
	assert.Equal(t, int64(0), s.RunNumber())
}

func TestScheduler_IdleWaitAcceptsLiveEdits(t *testing.T) {
	g := NewGraph()
	gen := newGen("gen", 200, 1)
	gen.Core().SetDefaultStepSize(50)
	require.NoError(t, g.AddUnit(gen))

	s := newTestScheduler(g, WithIdleWait(true))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool {
		return s.Running() && gen.Core().State() == StateZombie
	}, 5*time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, s.Start(ctx), ErrAlreadyRunning)
	assert.ErrorIs(t, g.AddUnit(newSink("direct", true)), ErrOutsideTransaction)

	sink := newSink("late", true)
	err := s.Update(ctx, func(tx *Tx) error {
		if err := tx.AddUnit(sink); err != nil {
			return err
		}
		return tx.Connect("gen", "result", "late", "in")
	})
	require.NoError(t, err)

	err = s.Update(ctx, func(tx *Tx) error { return tx.AddUnit(newSink("late", true)) })
	assert.True(t, IsDuplicateName(err), "rejected edits report their wiring error")

	require.Eventually(t, func() bool {
		return sink.Core().State() == StateZombie
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 200, sink.created, "a late consumer sees everything already produced")

	s.Stop()
	require.NoError(t, <-done)
	assert.False(t, s.Running())
	require.NoError(t, g.AddUnit(newSink("after", false)), "direct edits allowed again after stop")
}

func TestScheduler_ContextCancel(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddUnit(newGen("gen", 10, 1)))

	s := newTestScheduler(g, WithIdleWait(true))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	require.Eventually(t, func() bool { return s.RunNumber() >= 1 }, 5*time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop on cancel")
	}
}

func TestScheduler_PassHook(t *testing.T) {
	g := NewGraph()
	gen := newGen("gen", 25, 1)
	gen.Core().SetDefaultStepSize(10)
	require.NoError(t, g.AddUnit(gen))

	var mu sync.Mutex
	var passes []PassStats
	s := newTestScheduler(g, WithPassHook(func(p PassStats) {
		mu.Lock()
		defer mu.Unlock()
		passes = append(passes, p)
	}))
	require.NoError(t, s.Start(context.Background()))

	require.Len(t, passes, 3)
	assert.Equal(t, []int{10, 10, 5}, []int{passes[0].Steps, passes[1].Steps, passes[2].Steps})
	for i, p := range passes {
		assert.Equal(t, int64(i+1), p.Run)
		assert.Equal(t, 1, p.Stepped)
	}
}

func TestScheduler_DelayedCycle(t *testing.T) {
	g := NewGraph()
	gen := newGen("gen", 300, 1)
	gen.Core().SetDefaultStepSize(100)
	join := newFunc("join", nil)
	join.Core().DeclareInput("data", table.KindTable, true)
	join.Core().DeclareInput("feedback", table.KindTable, false)
	join.Core().DeclareOutput("result", table.KindTable)
	out := table.MustNew("join", table.ColumnSpec{Name: "v", Type: table.Float64})
	require.NoError(t, join.Core().SetOutput("result", out))
	data := NewConsumer(join, "data")
	feedback := NewConsumer(join, "feedback")
	var seenFeedback []int
	join.step = func(_ context.Context, _ int64, b Budget) (StepResult, error) {
		d, err := data.Next(b.StepSize)
		if err != nil {
			return StepResult{}, err
		}
		f, err := feedback.Next(b.StepSize)
		if err != nil {
			return StepResult{}, err
		}
		seenFeedback = append(seenFeedback, f.Created.Len())
		if n := d.Created.Len(); n > 0 {
			if _, err := out.Append(table.Batch{"v": make([]float64, n)}); err != nil {
				return StepResult{}, err
			}
		}
		return StepResult{State: NextState(join), Steps: d.Len() + f.Len()}, nil
	}
	relay := newRelay("relay")
	for _, u := range []Unit{gen, join, relay} {
		require.NoError(t, g.AddUnit(u))
	}
	require.NoError(t, g.Connect("gen", "result", "join", "data"))
	require.NoError(t, g.Connect("join", "result", "relay", "in"))
	require.NoError(t, g.Connect("relay", "result", "join", "feedback", Delayed()))

	s := newTestScheduler(g)
	require.NoError(t, s.Start(context.Background()))

	require.NotEmpty(t, seenFeedback)
	assert.Equal(t, 0, seenFeedback[0], "first pass sees no feedback yet")
	assert.Equal(t, 100, seenFeedback[1], "feedback lags one pass behind")
	assert.Equal(t, StateZombie, join.Core().State())
}

func TestScheduler_DelayedConsumerReadsPreviousPass(t *testing.T) {
	g := NewGraph()
	src := newFunc("src", nil)
	src.Core().DeclareOutput("result", table.KindTable)
	data := table.MustNew("src", table.ColumnSpec{Name: "v", Type: table.Float64})
	require.NoError(t, src.Core().SetOutput("result", data))
	src.step = func(_ context.Context, run int64, _ Budget) (StepResult, error) {
		if run == 1 {
			_, err := data.Append(table.Batch{"v": []float64{1, 2, 3}})
			return StepResult{State: StateReady, Steps: 3}, err
		}
		if err := data.Update(0, map[string]any{"v": 10.0}); err != nil {
			return StepResult{}, err
		}
		err := data.Delete(table.NewIndexSet(2))
		return StepResult{State: StateZombie, Steps: 2}, err
	}

	dst := newFunc("dst", nil)
	dst.Core().DeclareInput("in", table.KindTable, true)
	in := NewConsumer(dst, "in")
	values := map[int64]map[int64]float64{}
	var deleted []int64
	dst.step = func(_ context.Context, run int64, b Budget) (StepResult, error) {
		batch, err := in.Next(b.StepSize)
		if err != nil {
			return StepResult{}, err
		}
		view, err := in.Slot().View()
		if err != nil {
			return StepResult{}, err
		}
		var readErr error
		read := func(i int64) bool {
			v, err := view.Float("v", i)
			if err != nil {
				readErr = err
				return false
			}
			if values[run] == nil {
				values[run] = map[int64]float64{}
			}
			values[run][i] = v
			return true
		}
		batch.Created.Each(read)
		batch.Updated.Each(read)
		deleted = append(deleted, batch.Deleted.Indices()...)
		return StepResult{State: NextState(dst), Steps: batch.Len()}, readErr
	}

	// src is registered first, so it steps before dst within a pass.
	require.NoError(t, g.AddUnit(src))
	require.NoError(t, g.AddUnit(dst))
	require.NoError(t, g.Connect("src", "result", "dst", "in", Delayed()))

	s := newTestScheduler(g)
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, dst.Core().Fault())
	assert.Equal(t, StateZombie, dst.Core().State())
	assert.Equal(t, map[int64]map[int64]float64{
		2: {0: 1, 1: 2, 2: 3},
		3: {0: 10},
	}, values)
	assert.Equal(t, []int64{2}, deleted)
	assert.Equal(t, int64(3), s.RunNumber())
}

func TestScheduler_StepSizeAdapts(t *testing.T) {
	g := NewGraph()
	s := NewScheduler(g, WithQuantum(100*time.Millisecond), WithStepSizeBounds(10, 50), WithLogger(quietLogger()))
	c := NewCore("u", "test")

	assert.Equal(t, DefaultStepSize, s.stepSize(c, 50*time.Millisecond), "no measurement yet")

	s.observe(c, 100, 100*time.Millisecond) // 1,000 rows/s
	assert.Equal(t, 50, s.stepSize(c, 100*time.Millisecond), "capped by upper bound")
	assert.Equal(t, 20, s.stepSize(c, 20*time.Millisecond))
	assert.Equal(t, 10, s.stepSize(c, time.Millisecond), "raised to lower bound")

	fixed := NewScheduler(g, WithQuantum(0), WithLogger(quietLogger()))
	fixed.observe(c, 100, 100*time.Millisecond)
	assert.Equal(t, DefaultStepSize, fixed.stepSize(c, 0))
}

func TestScheduler_Describe(t *testing.T) {
	g := NewGraph()
	gen := newGen("gen", 20, 1)
	gen.Core().SetDefaultStepSize(10)
	sink := newSink("sink", true)
	sink.Core().SetDefaultStepSize(10)
	require.NoError(t, g.AddUnit(gen))
	require.NoError(t, g.AddUnit(sink))
	require.NoError(t, g.Connect("gen", "result", "sink", "in"))

	s := newTestScheduler(g)
	require.NoError(t, s.Start(context.Background()))

	var buf bytes.Buffer
	require.NoError(t, s.Describe(&buf))

	gold := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	gold.Assert(t, "scheduler_describe", buf.Bytes())
}

type qualityUnit struct {
	*funcUnit
	q map[string]float64
}

func (u qualityUnit) Quality() map[string]float64 { return u.q }

func TestStatusOf_DropsNonFiniteQuality(t *testing.T) {
	u := qualityUnit{
		funcUnit: newFunc("q", nil),
		q:        map[string]float64{"max_a": 3, "max_b": math.NaN(), "max_c": math.Inf(1)},
	}

	st := StatusOf(u)

	assert.Equal(t, map[string]float64{"max_a": 3}, st.Quality)
	assert.Len(t, u.q, 3, "the unit's own map is left alone")
	assert.Nil(t, FiniteQuality(nil))
}
