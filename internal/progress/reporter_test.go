package progress

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/progflow/internal/engine"
	"github.com/roach88/progflow/internal/testutil"
	"github.com/roach88/progflow/internal/units"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// manualClock returns a clock function and a setter.
func manualClock() (func() time.Time, func(time.Duration)) {
	var at time.Duration
	return func() time.Time { return testutil.Epoch.Add(at) },
		func(d time.Duration) { at = d }
}

func TestReporter_Throttles(t *testing.T) {
	now, set := manualClock()
	var got []int64
	r := NewReporter(
		WithPeriod(2*time.Second),
		WithClock(now),
		WithSink(func(s Snapshot) { got = append(got, s.Run) }),
	)
	src := testutil.NewSource("src", 100, 1)

	for i := 0; i < 5; i++ {
		set(time.Duration(i) * time.Second)
		r.Observe(src, int64(i+1))
	}

	assert.Equal(t, []int64{1, 3, 5}, got)
	assert.Equal(t, 3, r.Delivered())
	latest, ok := r.Latest("src")
	require.True(t, ok)
	assert.Equal(t, int64(5), latest.Run, "latest is kept even when throttled")
}

func TestReporter_PerUnitThrottle(t *testing.T) {
	now, _ := manualClock()
	count := map[string]int{}
	r := NewReporter(
		WithPeriod(time.Hour),
		WithClock(now),
		WithSink(func(s Snapshot) { count[s.Unit]++ }),
	)
	a := testutil.NewSource("a", 10, 1)
	b := testutil.NewSource("b", 10, 1)
	r.Observe(a, 1)
	r.Observe(b, 1)
	r.Observe(a, 2)

	assert.Equal(t, map[string]int{"a": 1, "b": 1}, count)
}

func TestReporter_FinalStepAlwaysDelivered(t *testing.T) {
	now, _ := manualClock()
	var states []string
	r := NewReporter(
		WithPeriod(time.Hour),
		WithClock(now),
		WithSink(func(s Snapshot) { states = append(states, s.State) }),
	)

	g := engine.NewGraph()
	src := testutil.NewSource("src", 3000, 1)
	require.NoError(t, g.AddUnit(src))
	r.Attach(g)

	s := engine.NewScheduler(g, engine.WithQuantum(0), engine.WithLogger(quiet()))
	require.NoError(t, s.Start(context.Background()))

	assert.Equal(t, []string{"ready", "zombie"}, states)
	latest, _ := r.Latest("src")
	assert.Equal(t, int64(3000), latest.Consumed)
	assert.Equal(t, 100.0, latest.Percent())
}

func TestReporter_QualityHistory(t *testing.T) {
	g := engine.NewGraph()
	src := testutil.NewSource("src", 3000, 1)
	mx := units.NewMax("max", units.AggregateConfig{StepSize: 1000})
	require.NoError(t, g.AddUnit(src))
	require.NoError(t, g.AddUnit(mx))
	require.NoError(t, g.Connect("src", "result", "max", "table"))

	r := NewReporter(WithHistory(2))
	r.Attach(g)
	s := engine.NewScheduler(g, engine.WithQuantum(0), engine.WithLogger(quiet()))
	require.NoError(t, s.Start(context.Background()))

	h := r.History("max")
	require.Len(t, h, 2)
	assert.Equal(t, int64(2), h[0].Run)
	assert.Equal(t, int64(3), h[1].Run)
	want, _ := mx.Result().Get("_1")
	assert.Equal(t, want, h[1].Values["max__1"])
	assert.LessOrEqual(t, h[0].Values["max__1"], h[1].Values["max__1"])

	assert.Empty(t, r.History("src"), "sources report no quality")
}

func TestSnapshot_Percent(t *testing.T) {
	assert.Equal(t, -1.0, Snapshot{Consumed: 5}.Percent())
	assert.Equal(t, 25.0, Snapshot{Consumed: 1, Total: 4}.Percent())
	assert.Equal(t, 100.0, Snapshot{Consumed: 9, Total: 4}.Percent())
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	}))
	LogSink(logger)(Snapshot{
		Unit: "max", Run: 4, State: "blocked", Consumed: 1, Total: 3,
		Quality: map[string]float64{"max_b": 2, "max_a": 1},
	})

	assert.Equal(t,
		"level=INFO msg=progress unit=max run=4 state=blocked consumed=1 total=3 percent=33.3 quality.max_a=1 quality.max_b=2\n",
		buf.String())
}

func TestBarSink(t *testing.T) {
	var buf bytes.Buffer
	sink := BarSink(&buf, 10)
	sink(Snapshot{Unit: "csv", Run: 3, Consumed: 5, Total: 10})
	sink(Snapshot{Unit: "max", Run: 3, Consumed: 5})

	assert.Equal(t, "csv [#####-----]  50.0% run=3\n", buf.String())
}

func TestReporter_AttachCoversUnitsAddedLater(t *testing.T) {
	g := engine.NewGraph()
	require.NoError(t, g.AddUnit(testutil.NewSource("early", 10, 1)))

	r := NewReporter()
	r.Attach(g)

	s := engine.NewScheduler(g, engine.WithQuantum(0), engine.WithLogger(quiet()))
	require.NoError(t, s.Update(context.Background(), func(tx *engine.Tx) error {
		return tx.AddUnit(testutil.NewSource("late", 10, 1))
	}))
	require.NoError(t, s.Start(context.Background()))

	for _, name := range []string{"early", "late"} {
		latest, ok := r.Latest(name)
		require.True(t, ok, name)
		assert.Equal(t, "zombie", latest.State)
	}
}
