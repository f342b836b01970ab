package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Graph is the mutable set of units and the slots connecting them.
//
// Direct edits are allowed until a scheduler starts running the graph.
// While it runs, edits go through Scheduler.Update or Scheduler.Enqueue,
// which apply them as a transaction between passes.
type Graph struct {
	mu     sync.RWMutex
	topo   *topology
	slots  []*Slot
	logger *slog.Logger

	locked atomic.Bool

	orderCache []string
	orderValid bool

	// orphans are required inputs unbound by deletes in the current
	// commit; retireOrphans settles them once every op has run.
	orphans []orphan

	watchers []func(Unit)
}

type orphan struct {
	consumer *Core
	input    string
	producer string
	output   string
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{topo: newTopology(), logger: slog.Default()}
}

// AddUnit registers a unit under its unique name.
func (g *Graph) AddUnit(u Unit) error {
	if g.locked.Load() {
		return ErrOutsideTransaction
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.topo.checkAdd(u); err != nil {
		return err
	}
	g.addLocked(u)
	return nil
}

// Connect creates a slot from producer.output to consumer.input.
func (g *Graph) Connect(producer, output, consumer, input string, opts ...SlotOption) error {
	if g.locked.Load() {
		return ErrOutsideTransaction
	}
	e := newEdge(producer, output, consumer, input, opts)
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.topo.checkConnect(e); err != nil {
		return err
	}
	g.connectLocked(e)
	return nil
}

// DeleteUnits removes units and every slot touching them. Surviving units
// left without a required input become zombies.
func (g *Graph) DeleteUnits(names ...string) error {
	if g.locked.Load() {
		return ErrOutsideTransaction
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.topo.checkDelete(names); err != nil {
		return err
	}
	g.deleteLocked(names)
	g.retireOrphans()
	return nil
}

// Apply runs fn as a transaction: every operation is validated as it is
// issued and the graph changes only if fn returns nil. Apply fails with
// ErrOutsideTransaction while a scheduler runs the graph.
func (g *Graph) Apply(fn Edit) error {
	if g.locked.Load() {
		return ErrOutsideTransaction
	}
	return g.apply(fn)
}

func (g *Graph) apply(fn Edit) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	tx := &Tx{shadow: g.topo.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	for _, op := range tx.ops {
		op(g)
	}
	g.retireOrphans()
	return nil
}

// retireOrphans turns into zombies the surviving units whose required
// input, unbound by a delete, was not rebound later in the same commit.
func (g *Graph) retireOrphans() {
	for _, o := range g.orphans {
		c := o.consumer
		if c.State().Done() {
			continue
		}
		if in := c.findInput(o.input); in == nil || in.slot != nil {
			continue
		}
		c.setFault(fmt.Errorf("input %s from %s.%s: %w", o.input, o.producer, o.output, ErrUpstreamRemoved))
		c.setState(StateZombie)
		g.logger.Warn("unit lost required input",
			"unit", c.name,
			"input", o.input,
			"producer", o.producer,
		)
	}
	g.orphans = nil
}

func newEdge(producer, output, consumer, input string, opts []SlotOption) edge {
	var cfg slotConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return edge{
		producer: producer,
		output:   output,
		consumer: consumer,
		input:    input,
		delayed:  cfg.delayed,
		columns:  cfg.columns,
	}
}

func (g *Graph) addLocked(u Unit) {
	g.topo.add(u)
	g.orderValid = false
	g.logger.Debug("unit added", "unit", u.Core().Name(), "kind", u.Core().Kind())
	for _, fn := range g.watchers {
		fn(u)
	}
}

// EachUnit calls fn for every unit in the graph now, in registration order,
// and for every unit added later, directly or by a committed transaction.
// fn runs with the graph locked and must not call back into it.
func (g *Graph) EachUnit(fn func(Unit)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, n := range g.topo.names {
		fn(g.topo.units[n])
	}
	g.watchers = append(g.watchers, fn)
}

func (g *Graph) connectLocked(e edge) {
	p := g.topo.units[e.producer].Core()
	c := g.topo.units[e.consumer].Core()
	s := newSlot(p, e.output, c, e.input, slotConfig{columns: e.columns, delayed: e.delayed})
	g.topo.connect(e)
	p.findOutput(e.output).slots = append(p.findOutput(e.output).slots, s)
	c.findInput(e.input).slot = s
	g.slots = append(g.slots, s)
	g.orderValid = false
	g.logger.Debug("slot connected", "slot", s.String(), "delayed", e.delayed)
}

func (g *Graph) deleteLocked(names []string) {
	gone := make(map[string]bool, len(names))
	for _, n := range names {
		gone[n] = true
	}

	kept := g.slots[:0]
	for _, s := range g.slots {
		if !gone[s.producer.name] && !gone[s.consumer.name] {
			kept = append(kept, s)
			continue
		}
		s.close()
		if out := s.producer.findOutput(s.output); out != nil {
			out.slots = removeSlot(out.slots, s)
		}
		in := s.consumer.findInput(s.input)
		if in != nil && in.slot == s {
			in.slot = nil
		}
		if !gone[s.consumer.name] && in != nil && in.Required {
			g.orphans = append(g.orphans, orphan{
				consumer: s.consumer,
				input:    s.input,
				producer: s.producer.name,
				output:   s.output,
			})
		}
	}
	for i := len(kept); i < len(g.slots); i++ {
		g.slots[i] = nil
	}
	g.slots = kept

	for _, n := range names {
		g.topo.units[n].Core().setState(StateTerminated)
	}
	g.topo.remove(names)
	g.orderValid = false
	g.logger.Info("units deleted", "units", names)
}

func removeSlot(list []*Slot, s *Slot) []*Slot {
	for i, x := range list {
		if x == s {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// CollateralRemoval returns, sorted by name, the units that would be left
// with an unsatisfiable required input if the named units were removed,
// transitively. The named units themselves are not included. The graph is
// not modified.
func (g *Graph) CollateralRemoval(names ...string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.topo.checkDelete(names); err != nil {
		return nil, err
	}
	return g.topo.collateral(names), nil
}

// Order returns unit names in dependency order over live edges.
func (g *Graph) Order() ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.orderLocked()
}

func (g *Graph) orderLocked() ([]string, error) {
	if g.orderValid {
		return g.orderCache, nil
	}
	order, err := g.topo.order()
	if err != nil {
		return nil, err
	}
	g.orderCache = order
	g.orderValid = true
	return order, nil
}

// Validate checks that every required input is bound and that live edges
// form no cycle.
func (g *Graph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, n := range g.topo.names {
		c := g.topo.units[n].Core()
		if c.State().Done() {
			continue
		}
		if in := c.unboundRequired(); in != "" {
			return UnboundInputError(n, in)
		}
	}
	if cycle := g.topo.firstCycle(); cycle != nil {
		return CycleError(cycle)
	}
	return nil
}

// Unit returns a unit by name.
func (g *Graph) Unit(name string) (Unit, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	u, ok := g.topo.units[name]
	return u, ok
}

// Units returns the units in registration order.
func (g *Graph) Units() []Unit {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Unit, 0, len(g.topo.names))
	for _, n := range g.topo.names {
		out = append(out, g.topo.units[n])
	}
	return out
}

// Len returns the number of units.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.topo.names)
}

// Slots returns the slots in connection order.
func (g *Graph) Slots() []*Slot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]*Slot(nil), g.slots...)
}

// setLogger is called by the scheduler so graph edits log through the same
// logger as the run loop.
func (g *Graph) setLogger(l *slog.Logger) {
	g.mu.Lock()
	g.logger = l
	g.mu.Unlock()
}
