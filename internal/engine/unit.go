package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/progflow/internal/table"
)

// DefaultStepSize is the step size a unit gets before the scheduler has
// measured its throughput.
const DefaultStepSize = 1000

// Unit is the contract every computation actor implements.
//
// Step is the sole mutating entry point. It is invoked by the scheduler from
// the run loop goroutine only, so implementations need no locking for state
// touched exclusively inside Step.
type Unit interface {
	Core() *Core
	Step(ctx context.Context, run int64, budget Budget) (StepResult, error)
}

// Resetter is implemented by units that keep derived state. Reset is called
// before further consumption when an input signals an upstream reset.
type Resetter interface {
	Reset()
}

// QualityReporter is implemented by units with meaningful quality metrics.
// Values are best-effort and may regress between steps.
type QualityReporter interface {
	Quality() map[string]float64
}

// ProgressReporter is implemented by units that can estimate how much of
// their input they have consumed. Either value may be zero when unknown.
type ProgressReporter interface {
	Progress() (consumed, total int64)
}

// DataInput is implemented by ingestion units.
type DataInput interface {
	RowsIngested() int64
}

// Budget bounds the work of a single step.
type Budget struct {
	// StepSize is a soft cap on the number of records to consume.
	StepSize int
	// Quantum is the wall-clock slice granted to the unit this pass.
	// Zero means no time bound.
	Quantum time.Duration
}

// StepResult is what a step returns to the scheduler.
type StepResult struct {
	// State is the next state: Ready, Blocked or Zombie.
	State State
	// Steps is the number of records actually processed.
	Steps int
}

// AfterStepFunc observes a completed step.
type AfterStepFunc func(u Unit, run int64)

// InputDecl is a declared input port.
type InputDecl struct {
	Name     string
	Kind     table.Kind
	Required bool

	slot *Slot
}

// Slot returns the bound slot, or nil.
func (d *InputDecl) Slot() *Slot { return d.slot }

// OutputDecl is a declared output port. One output may feed many slots.
type OutputDecl struct {
	Name string
	Kind table.Kind

	value table.Tracked
	slots []*Slot
}

// Value returns the store currently published on the output, or nil.
func (d *OutputDecl) Value() table.Tracked { return d.value }

// Core holds the bookkeeping shared by every unit: identity, port
// declarations, state, timings and observers. Units embed a *Core and
// return it from Core().
type Core struct {
	name string
	kind string

	inputs  []*InputDecl
	outputs []*OutputDecl

	state   atomic.Int32
	lastRun atomic.Int64

	stepCount  atomic.Int64
	lastSteps  atomic.Int64
	totalSteps atomic.Int64
	lastTime   atomic.Int64 // nanoseconds
	totalTime  atomic.Int64 // nanoseconds

	mu        sync.Mutex
	fault     error
	afterStep []AfterStepFunc

	stepSize  int
	dataInput bool

	// delivered counts records handed to the unit through its input slots
	// during the current step. Touched only by the run loop.
	delivered int
}

// NewCore creates the bookkeeping for a unit named name of the given kind.
func NewCore(name, kind string) *Core {
	return &Core{
		name:     name,
		kind:     kind,
		stepSize: DefaultStepSize,
	}
}

// Name returns the unit's graph-unique name.
func (c *Core) Name() string { return c.name }

// Kind returns the unit's kind label, e.g. "max" or "csv".
func (c *Core) Kind() string { return c.kind }

// DeclareInput declares an input port. Declaring the same name twice panics:
// declarations are static and a duplicate is a programming error.
func (c *Core) DeclareInput(name string, kind table.Kind, required bool) {
	if c.findInput(name) != nil {
		panic(fmt.Sprintf("unit %s: input %q declared twice", c.name, name))
	}
	c.inputs = append(c.inputs, &InputDecl{Name: name, Kind: kind, Required: required})
}

// DeclareOutput declares an output port.
func (c *Core) DeclareOutput(name string, kind table.Kind) {
	if c.findOutput(name) != nil {
		panic(fmt.Sprintf("unit %s: output %q declared twice", c.name, name))
	}
	c.outputs = append(c.outputs, &OutputDecl{Name: name, Kind: kind})
}

// SetOutput publishes a store on an output. Slots bound to the output pick
// the new store up on their next read; replacing a store signals a reset
// downstream.
func (c *Core) SetOutput(name string, v table.Tracked) error {
	out := c.findOutput(name)
	if out == nil {
		return UnknownOutputError(c.name, name)
	}
	if !out.Kind.Accepts(v.Kind()) {
		return InputTypeError(c.name, name, out.Kind, v.Kind())
	}
	out.value = v
	return nil
}

// Output returns the store published on an output, or nil.
func (c *Core) Output(name string) table.Tracked {
	if out := c.findOutput(name); out != nil {
		return out.value
	}
	return nil
}

// NotifyReset tells every slot fed by the output that its store was rebuilt
// from nothing.
func (c *Core) NotifyReset(output string) {
	if out := c.findOutput(output); out != nil {
		for _, s := range out.slots {
			s.NotifyReset()
		}
	}
}

// Input returns the slot bound to an input, or nil.
func (c *Core) Input(name string) *Slot {
	if in := c.findInput(name); in != nil {
		return in.slot
	}
	return nil
}

// Inputs returns the input declarations in declaration order.
func (c *Core) Inputs() []*InputDecl { return c.inputs }

// Outputs returns the output declarations in declaration order.
func (c *Core) Outputs() []*OutputDecl { return c.outputs }

func (c *Core) findInput(name string) *InputDecl {
	for _, in := range c.inputs {
		if in.Name == name {
			return in
		}
	}
	return nil
}

func (c *Core) findOutput(name string) *OutputDecl {
	for _, out := range c.outputs {
		if out.Name == name {
			return out
		}
	}
	return nil
}

// boundSlots returns the slots bound to inputs, in declaration order.
func (c *Core) boundSlots() []*Slot {
	var out []*Slot
	for _, in := range c.inputs {
		if in.slot != nil {
			out = append(out, in.slot)
		}
	}
	return out
}

// unboundRequired returns the first required input without a slot.
func (c *Core) unboundRequired() string {
	for _, in := range c.inputs {
		if in.Required && in.slot == nil {
			return in.Name
		}
	}
	return ""
}

// State returns the current state.
func (c *Core) State() State { return State(c.state.Load()) }

func (c *Core) setState(s State) { c.state.Store(int32(s)) }

// LastRun returns the run number of the unit's last completed step, or 0.
func (c *Core) LastRun() int64 { return c.lastRun.Load() }

// Fault returns the error that turned the unit into a zombie, if any.
func (c *Core) Fault() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fault
}

func (c *Core) setFault(err error) {
	c.mu.Lock()
	c.fault = err
	c.mu.Unlock()
}

// OnAfterStep registers an observer invoked synchronously, in registration
// order, after every completed step. Observers must not edit the graph
// except through Scheduler.Enqueue.
func (c *Core) OnAfterStep(fn AfterStepFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.afterStep = append(c.afterStep, fn)
}

func (c *Core) observers() []AfterStepFunc {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]AfterStepFunc(nil), c.afterStep...)
}

// SetDefaultStepSize sets the step size used before throughput is known.
func (c *Core) SetDefaultStepSize(n int) {
	if n > 0 {
		c.stepSize = n
	}
}

// DefaultStepSize returns the unit's default step size.
func (c *Core) DefaultStepSize() int { return c.stepSize }

// SetDataInput marks the unit as an ingestion source.
func (c *Core) SetDataInput(v bool) { c.dataInput = v }

// IsDataInput reports whether the unit ingests external data.
func (c *Core) IsDataInput() bool { return c.dataInput }

// StepCount returns the number of completed steps.
func (c *Core) StepCount() int64 { return c.stepCount.Load() }

// LastSteps returns the number of records processed by the most recent step.
func (c *Core) LastSteps() int64 { return c.lastSteps.Load() }

// TotalSteps returns the sum of records processed over all steps.
func (c *Core) TotalSteps() int64 { return c.totalSteps.Load() }

// LastStepTime returns the wall-clock duration of the most recent step.
func (c *Core) LastStepTime() time.Duration { return time.Duration(c.lastTime.Load()) }

// TotalStepTime returns the cumulative wall-clock time spent in Step.
func (c *Core) TotalStepTime() time.Duration { return time.Duration(c.totalTime.Load()) }

func (c *Core) recordTiming(d time.Duration) {
	c.lastTime.Store(int64(d))
	c.totalTime.Add(int64(d))
}

func (c *Core) recordStep(run int64, steps int) {
	c.lastRun.Store(run)
	c.stepCount.Add(1)
	c.lastSteps.Store(int64(steps))
	c.totalSteps.Add(int64(steps))
}

var nameCounter atomic.Int64

// GenerateName returns prefix_N with N unique within the process.
func GenerateName(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, nameCounter.Add(1))
}

// ProgressCounter tracks consumed and estimated-total counts, keeping
// consumed within total once the total is known.
type ProgressCounter struct {
	consumed int64
	total    int64
}

// Add records n consumed units.
func (p *ProgressCounter) Add(n int64) {
	p.consumed += n
	if p.total > 0 && p.consumed > p.total {
		p.total = p.consumed
	}
}

// SetTotal sets the estimated total. An estimate below what was already
// consumed is raised to the consumed count.
func (p *ProgressCounter) SetTotal(total int64) {
	if total < p.consumed {
		total = p.consumed
	}
	p.total = total
}

// Reset zeroes the consumed count and keeps the estimate.
func (p *ProgressCounter) Reset() { p.consumed = 0 }

// Progress returns (consumed, total).
func (p *ProgressCounter) Progress() (int64, int64) { return p.consumed, p.total }
