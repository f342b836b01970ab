// Package metrics exports scheduler and unit activity as Prometheus
// metrics. A Collector is fed by the engine's after-step observers and
// scheduler hooks; it owns its metric vectors so several schedulers (or
// tests) can register separate collectors on separate registries.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/progflow/internal/engine"
)

const namespace = "progflow"

var allStates = []engine.State{
	engine.StateCreated,
	engine.StateReady,
	engine.StateRunning,
	engine.StateBlocked,
	engine.StateZombie,
	engine.StateTerminated,
}

// Collector holds the metric vectors.
type Collector struct {
	steps        *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	faults       *prometheus.CounterVec
	clamps       *prometheus.CounterVec
	state        *prometheus.GaugeVec
	progress     *prometheus.GaugeVec
	quality      *prometheus.GaugeVec

	passes       prometheus.Counter
	passDuration prometheus.Histogram
	run          prometheus.Gauge

	graph   *engine.Graph
	mu      sync.Mutex
	tracked map[string]struct{}
}

// New creates an unregistered collector.
func New() *Collector {
	return &Collector{
		steps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unit_steps_total",
				Help:      "Records processed by each unit.",
			},
			[]string{"unit"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "unit_step_duration_seconds",
				Help:      "Wall-clock duration of unit steps, in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
			[]string{"unit"},
		),
		faults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unit_faults_total",
				Help:      "Step faults per unit.",
			},
			[]string{"unit"},
		),
		clamps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unit_budget_clamps_total",
				Help:      "Steps whose reported record count exceeded what was available.",
			},
			[]string{"unit"},
		),
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "unit_state",
				Help:      "1 for the unit's current state, 0 for the others.",
			},
			[]string{"unit", "state"},
		),
		progress: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "unit_progress_ratio",
				Help:      "Consumed share of the unit's estimated input.",
			},
			[]string{"unit"},
		),
		quality: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "unit_quality",
				Help:      "Quality metrics reported by units.",
			},
			[]string{"unit", "metric"},
		),
		passes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_passes_total",
			Help:      "Completed scheduling passes.",
		}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_pass_duration_seconds",
			Help:      "Duration of scheduling passes, in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
		run: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_run",
			Help:      "Run number of the last completed pass.",
		}),
		tracked: make(map[string]struct{}),
	}
}

// Register registers every metric with reg.
func (c *Collector) Register(reg prometheus.Registerer) error {
	for _, m := range []prometheus.Collector{
		c.steps, c.stepDuration, c.faults, c.clamps, c.state, c.progress, c.quality,
		c.passes, c.passDuration, c.run,
	} {
		if err := reg.Register(m); err != nil {
			return err
		}
	}
	return nil
}

// Attach registers Observe on every unit of g, including units added after
// the call, and seeds their series so they appear before the first step.
// Units later deleted from g are forgotten at the end of the pass that
// removed them.
func (c *Collector) Attach(g *engine.Graph) {
	c.graph = g
	g.EachUnit(c.track)
}

func (c *Collector) track(u engine.Unit) {
	name := u.Core().Name()
	c.mu.Lock()
	c.tracked[name] = struct{}{}
	c.mu.Unlock()
	c.steps.WithLabelValues(name)
	c.faults.WithLabelValues(name)
	c.setState(name, u.Core().State())
	u.Core().OnAfterStep(c.Observe)
}

// Options returns the scheduler hooks feeding the collector.
func (c *Collector) Options() []engine.Option {
	return []engine.Option{
		engine.WithPassHook(c.Pass),
		engine.WithFaultHook(c.Fault),
		engine.WithBudgetHook(c.Budget),
	}
}

// Observe records a completed step.
func (c *Collector) Observe(u engine.Unit, _ int64) {
	core := u.Core()
	name := core.Name()
	c.steps.WithLabelValues(name).Add(float64(core.LastSteps()))
	c.stepDuration.WithLabelValues(name).Observe(core.LastStepTime().Seconds())
	c.setState(name, core.State())
	if p, ok := u.(engine.ProgressReporter); ok {
		if consumed, total := p.Progress(); total > 0 {
			c.progress.WithLabelValues(name).Set(float64(consumed) / float64(total))
		}
	}
	if q, ok := u.(engine.QualityReporter); ok {
		for k, v := range q.Quality() {
			c.quality.WithLabelValues(name, k).Set(v)
		}
	}
}

// Pass records a completed pass.
func (c *Collector) Pass(p engine.PassStats) {
	c.passes.Inc()
	c.passDuration.Observe(p.Duration.Seconds())
	c.run.Set(float64(p.Run))
	c.sweep()
}

func (c *Collector) sweep() {
	if c.graph == nil {
		return
	}
	c.mu.Lock()
	names := make([]string, 0, len(c.tracked))
	for name := range c.tracked {
		names = append(names, name)
	}
	c.mu.Unlock()

	for _, name := range names {
		if _, ok := c.graph.Unit(name); ok {
			continue
		}
		c.Forget(name)
		c.mu.Lock()
		delete(c.tracked, name)
		c.mu.Unlock()
	}
}

// Fault records a step fault. The unit is a zombie afterwards.
func (c *Collector) Fault(f *engine.StepFault) {
	c.faults.WithLabelValues(f.Unit).Inc()
	c.setState(f.Unit, engine.StateZombie)
}

// Budget records a budget clamp.
func (c *Collector) Budget(v engine.BudgetViolation) {
	c.clamps.WithLabelValues(v.Unit).Inc()
}

// Forget drops every series of a removed unit.
func (c *Collector) Forget(unit string) {
	labels := prometheus.Labels{"unit": unit}
	c.steps.DeletePartialMatch(labels)
	c.stepDuration.DeletePartialMatch(labels)
	c.faults.DeletePartialMatch(labels)
	c.clamps.DeletePartialMatch(labels)
	c.state.DeletePartialMatch(labels)
	c.progress.DeletePartialMatch(labels)
	c.quality.DeletePartialMatch(labels)
}

func (c *Collector) setState(unit string, cur engine.State) {
	for _, s := range allStates {
		v := 0.0
		if s == cur {
			v = 1
		}
		c.state.WithLabelValues(unit, s.String()).Set(v)
	}
}
