package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultQuantum is the wall-clock budget of one scheduling pass.
const DefaultQuantum = 100 * time.Millisecond

// ErrAlreadyRunning is returned by Start when the loop is already active.
var ErrAlreadyRunning = errors.New("scheduler already running")

// PassStats summarizes one completed pass.
type PassStats struct {
	Run      int64
	Runnable int
	Stepped  int
	Steps    int
	Faults   int
	Duration time.Duration
}

// PassHook observes completed passes. It runs on the loop goroutine after
// the pass lock is released.
type PassHook func(PassStats)

// FaultHook observes step faults.
type FaultHook func(*StepFault)

// BudgetHook observes budget clamps.
type BudgetHook func(BudgetViolation)

// Scheduler drives the units of a graph through bounded steps in
// dependency order.
//
// Thread-safety model:
//   - Start(): runs the loop on the calling goroutine; one loop at a time
//   - Stop(), Enqueue(), RunNumber(), Running(): safe from any goroutine,
//     including after-step observers
//   - Update(), Snapshot(), Describe(): safe from any goroutine except the
//     loop itself, since they wait for the current pass to finish
type Scheduler struct {
	graph  *Graph
	logger *slog.Logger

	// run counts passes. It only advances, and only in the loop.
	run atomic.Int64

	quantum  time.Duration
	minStep  int
	maxStep  int
	idleWait bool
	backoff  time.Duration

	passHooks   []PassHook
	faultHooks  []FaultHook
	budgetHooks []BudgetHook

	// passMu serializes passes with transactions and snapshots.
	passMu sync.Mutex
	edits  *editQueue

	running  atomic.Bool
	stopping atomic.Bool

	rates map[*Core]float64 // records per second, smoothed
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithQuantum sets the wall-clock budget of a pass. The budget is divided
// evenly among runnable units and, with measured throughput, turned into a
// step size. Zero disables adaptation: units always get their default step
// size.
func WithQuantum(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.quantum = d
		}
	}
}

// WithLogger sets the logger for the run loop and graph edits.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithIdleWait keeps the loop alive when nothing is runnable, waiting for
// queued edits, Stop, or context cancellation.
func WithIdleWait(v bool) Option {
	return func(s *Scheduler) {
		s.idleWait = v
	}
}

// WithPassHook registers an observer of completed passes.
func WithPassHook(h PassHook) Option {
	return func(s *Scheduler) {
		s.passHooks = append(s.passHooks, h)
	}
}

// WithFaultHook registers an observer of step faults.
func WithFaultHook(h FaultHook) Option {
	return func(s *Scheduler) {
		s.faultHooks = append(s.faultHooks, h)
	}
}

// WithBudgetHook registers an observer of budget clamps.
func WithBudgetHook(h BudgetHook) Option {
	return func(s *Scheduler) {
		s.budgetHooks = append(s.budgetHooks, h)
	}
}

// WithStepSizeBounds bounds adaptive step sizes.
func WithStepSizeBounds(lo, hi int) Option {
	return func(s *Scheduler) {
		if lo > 0 && hi >= lo {
			s.minStep, s.maxStep = lo, hi
		}
	}
}

// NewScheduler creates a scheduler for g.
func NewScheduler(g *Graph, opts ...Option) *Scheduler {
	s := &Scheduler{
		graph:   g,
		logger:  slog.Default(),
		quantum: DefaultQuantum,
		minStep: 1,
		maxStep: 1 << 20,
		backoff: 10 * time.Millisecond,
		edits:   newEditQueue(),
		rates:   make(map[*Core]float64),
	}
	for _, opt := range opts {
		opt(s)
	}
	g.setLogger(s.logger)
	return s
}

// Graph returns the governed graph.
func (s *Scheduler) Graph() *Graph { return s.graph }

// RunNumber returns the number of the last completed pass.
func (s *Scheduler) RunNumber() int64 { return s.run.Load() }

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool { return s.running.Load() }

// Stop asks the loop to end after the pass in progress. A Stop issued while
// the loop is not running makes the next Start return immediately.
// Stop is idempotent.
func (s *Scheduler) Stop() {
	if s.stopping.CompareAndSwap(false, true) {
		s.logger.Info("scheduler stop requested", "run", s.run.Load())
	}
	s.edits.Notify()
}

// Enqueue queues a transaction for the next pass boundary and returns
// without waiting. It is the way to edit the graph from an after-step
// observer. Errors are logged. Edits queued while the loop is stopped are
// applied when it next starts.
func (s *Scheduler) Enqueue(fn Edit) {
	s.edits.Enqueue(pendingEdit{edit: fn})
}

// Update applies a transaction. While the loop runs, Update waits for the
// next pass boundary; otherwise it applies immediately. Update must not be
// called from the loop goroutine; use Enqueue there.
func (s *Scheduler) Update(ctx context.Context, fn Edit) error {
	s.passMu.Lock()
	if !s.running.Load() {
		defer s.passMu.Unlock()
		return s.graph.apply(fn)
	}
	done := make(chan error, 1)
	s.edits.Enqueue(pendingEdit{edit: fn, done: done})
	s.passMu.Unlock()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// applyEdits runs queued transactions in submission order. Caller holds
// passMu.
func (s *Scheduler) applyEdits() {
	for _, p := range s.edits.Drain() {
		err := s.graph.apply(p.edit)
		if err != nil {
			s.logger.Error("graph edit rejected", "run", s.run.Load(), "error", err)
		} else {
			s.logger.Info("graph edit applied", "run", s.run.Load())
		}
		if p.done != nil {
			p.done <- err
		}
	}
}

// Start runs the loop until every unit is done, Stop is called, or ctx is
// cancelled. It validates the graph first and returns wiring errors without
// running a pass. Cancellation returns ctx.Err(); the other endings return
// nil.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	s.passMu.Lock()
	s.applyEdits()
	err := s.graph.Validate()
	if err == nil {
		s.graph.locked.Store(true)
	}
	s.passMu.Unlock()
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("validate graph: %w", err)
	}

	s.logger.Info("scheduler starting",
		"units", s.graph.Len(),
		"quantum", s.quantum,
		"run", s.run.Load(),
	)

	err = s.loop(ctx)

	s.passMu.Lock()
	s.graph.locked.Store(false)
	s.applyEdits()
	s.stopping.Store(false)
	s.running.Store(false)
	s.passMu.Unlock()

	return err
}

func (s *Scheduler) loop(ctx context.Context) error {
	for {
		if s.stopping.Load() {
			s.logger.Info("scheduler stopped", "run", s.run.Load())
			return nil
		}
		if err := ctx.Err(); err != nil {
			s.logger.Info("scheduler stopping: context cancelled", "run", s.run.Load())
			return err
		}

		stats, ran := s.pass(ctx)
		if ran {
			for _, h := range s.passHooks {
				h(stats.PassStats)
			}
			if stats.Steps == 0 && stats.Stepped > 0 && stats.Stepped == stats.polled() {
				s.wait(ctx, s.backoff)
			}
			continue
		}

		if !s.idleWait {
			s.retireBlocked()
			s.logger.Info("scheduler drained", "run", s.run.Load())
			return nil
		}
		s.logger.Debug("scheduler idle", "run", s.run.Load())
		s.wait(ctx, 0)
	}
}

// wait blocks until an edit or Stop arrives, ctx ends, or d elapses when d
// is positive.
func (s *Scheduler) wait(ctx context.Context, d time.Duration) {
	var timeout <-chan time.Time
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case <-ctx.Done():
	case <-s.edits.Wait():
	case <-timeout:
	}
}

// pass runs one scheduling pass. It reports false without advancing the run
// counter when no unit is runnable.
func (s *Scheduler) pass(ctx context.Context) (passResult, bool) {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	s.applyEdits()

	order, units, err := s.snapshotOrder()
	if err != nil {
		// Edits are validated before they commit, so this is a defect.
		s.logger.Error("dependency order unavailable", "error", err)
		return passResult{}, false
	}

	for c := range s.rates {
		if c.State() == StateTerminated {
			delete(s.rates, c)
		}
	}
	s.settle(order, units)

	runnable := 0
	for _, name := range order {
		if s.runnable(units[name]) {
			runnable++
		}
	}
	if runnable == 0 {
		return passResult{}, false
	}

	started := time.Now()
	run := s.run.Add(1)
	res := passResult{PassStats: PassStats{Run: run, Runnable: runnable}}
	slice := time.Duration(0)
	if s.quantum > 0 {
		slice = s.quantum / time.Duration(runnable)
	}

	for _, name := range order {
		u := units[name]
		if !s.runnable(u) {
			continue
		}
		if poll := s.isPoll(u); poll {
			res.poll++
		}
		s.stepUnit(ctx, u, run, slice, &res)
	}

	s.graph.mu.RLock()
	for _, sl := range s.graph.slots {
		sl.seal()
	}
	for _, name := range order {
		for _, out := range units[name].Core().Outputs() {
			if out.value != nil {
				out.value.Changes().Compact()
			}
		}
	}
	s.graph.mu.RUnlock()

	res.Duration = time.Since(started)
	s.logger.Debug("pass complete",
		"run", run,
		"runnable", res.Runnable,
		"stepped", res.Stepped,
		"steps", res.Steps,
		"duration", res.Duration,
	)
	return res, true
}

type passResult struct {
	PassStats
	poll int
}

func (r passResult) polled() int { return r.poll }

func (s *Scheduler) snapshotOrder() ([]string, map[string]Unit, error) {
	s.graph.mu.Lock()
	defer s.graph.mu.Unlock()
	order, err := s.graph.orderLocked()
	if err != nil {
		return nil, nil, err
	}
	units := make(map[string]Unit, len(order))
	for _, n := range order {
		units[n] = s.graph.topo.units[n]
	}
	return order, units, nil
}

// settle retires units that can never run again: units with an unbound
// required input, and blocked units whose producers are all done and whose
// inputs are drained. Visiting in dependency order lets retirement cascade
// in one call.
func (s *Scheduler) settle(order []string, units map[string]Unit) {
	for _, name := range order {
		c := units[name].Core()
		st := c.State()
		if st.Done() {
			continue
		}
		if in := c.unboundRequired(); in != "" {
			c.setFault(fmt.Errorf("input %s: %w", in, ErrUpstreamRemoved))
			c.setState(StateZombie)
			s.logger.Warn("unit retired: required input unbound", "unit", name, "input", in)
			continue
		}
		if st == StateBlocked && len(c.boundSlots()) > 0 && NextState(units[name]) == StateZombie {
			c.setState(StateZombie)
			s.logger.Debug("unit drained", "unit", name, "run", s.run.Load())
		}
	}
}

// retireBlocked turns the units still waiting when the loop drains into
// zombies. Without further edits nothing can feed them again, which is the
// case for units waiting on each other through a delayed edge.
func (s *Scheduler) retireBlocked() {
	s.passMu.Lock()
	defer s.passMu.Unlock()
	for _, u := range s.graph.Units() {
		c := u.Core()
		if c.State() == StateBlocked {
			c.setState(StateZombie)
			s.logger.Debug("unit drained", "unit", c.name, "run", s.run.Load())
		}
	}
}

// runnable reports whether the unit should be stepped now. Blocked units
// with inputs wait for deltas; blocked units without inputs are polled.
func (s *Scheduler) runnable(u Unit) bool {
	c := u.Core()
	switch c.State() {
	case StateCreated, StateReady:
		return true
	case StateBlocked:
		slots := c.boundSlots()
		if len(slots) == 0 {
			return true
		}
		for _, sl := range slots {
			if sl.HasDeltas() {
				return true
			}
		}
	}
	return false
}

func (s *Scheduler) isPoll(u Unit) bool {
	c := u.Core()
	return c.State() == StateBlocked && len(c.boundSlots()) == 0
}

func (s *Scheduler) stepUnit(ctx context.Context, u Unit, run int64, slice time.Duration, res *passResult) {
	c := u.Core()
	budget := Budget{StepSize: s.stepSize(c, slice), Quantum: slice}

	c.delivered = 0
	c.setState(StateRunning)
	started := time.Now()
	out, err := safeStep(ctx, u, run, budget)
	elapsed := time.Since(started)
	c.recordTiming(elapsed)

	if err != nil {
		fault := &StepFault{Unit: c.name, Run: run, Err: err}
		c.setFault(fault)
		c.setState(StateZombie)
		res.Faults++
		s.logger.Error("unit step failed", "unit", c.name, "run", run, "error", err)
		for _, h := range s.faultHooks {
			h(fault)
		}
		return
	}

	steps := s.clamp(c, run, out.Steps, budget)
	next := out.State
	switch next {
	case StateReady, StateBlocked, StateZombie:
	case StateTerminated:
		next = StateZombie
	default:
		next = StateReady
	}
	c.setState(next)
	c.recordStep(run, steps)
	for _, sl := range c.boundSlots() {
		sl.Acknowledge(run)
	}
	s.observe(c, steps, elapsed)

	res.Stepped++
	res.Steps += steps
	s.logger.Debug("unit stepped",
		"unit", c.name,
		"run", run,
		"steps", steps,
		"state", next.String(),
		"step_size", budget.StepSize,
	)

	for _, fn := range c.observers() {
		s.notify(fn, u, run)
	}
}

func safeStep(ctx context.Context, u Unit, run int64, b Budget) (res StepResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return u.Step(ctx, run, b)
}

func (s *Scheduler) notify(fn AfterStepFunc, u Unit, run int64) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("after-step observer panicked", "unit", u.Core().Name(), "run", run, "panic", r)
		}
	}()
	fn(u, run)
}

// clamp bounds a reported step count by what the unit could have processed:
// the records delivered through its inputs, or the step size for sources.
func (s *Scheduler) clamp(c *Core, run int64, reported int, b Budget) int {
	limit := c.delivered
	if len(c.boundSlots()) == 0 {
		limit = b.StepSize
	}
	if reported < 0 {
		reported = 0
	}
	if reported <= limit {
		return reported
	}
	v := BudgetViolation{Unit: c.name, Run: run, Reported: reported, Clamped: limit}
	s.logger.Warn("unit reported more steps than available",
		"unit", c.name,
		"run", run,
		"reported", reported,
		"clamped", limit,
	)
	for _, h := range s.budgetHooks {
		h(v)
	}
	return limit
}

// stepSize turns the unit's share of the quantum into a record count using
// its smoothed throughput. Before any measurement, or without a quantum, the
// unit's default step size is used.
func (s *Scheduler) stepSize(c *Core, slice time.Duration) int {
	rate, ok := s.rates[c]
	if s.quantum == 0 || slice <= 0 || !ok || rate <= 0 {
		return c.DefaultStepSize()
	}
	n := int(rate * slice.Seconds())
	return min(max(n, s.minStep), s.maxStep)
}

func (s *Scheduler) observe(c *Core, steps int, elapsed time.Duration) {
	if steps <= 0 || elapsed <= 0 {
		return
	}
	rate := float64(steps) / elapsed.Seconds()
	if prev, ok := s.rates[c]; ok {
		rate = 0.5*prev + 0.5*rate
	}
	s.rates[c] = rate
}

// DataInputActive reports whether any ingestion unit can still produce.
func (s *Scheduler) DataInputActive() bool {
	for _, u := range s.graph.Units() {
		c := u.Core()
		if c.IsDataInput() && !c.State().Done() {
			return true
		}
	}
	return false
}
