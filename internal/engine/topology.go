package engine

import (
	"slices"

	"github.com/roach88/progflow/internal/table"
)

// edge is the structural description of a slot.
type edge struct {
	producer string
	output   string
	consumer string
	input    string
	delayed  bool
	columns  []string
}

// topology is the structural part of a graph: unit names and edges. Edits
// are validated against a topology before they touch real slots, which is
// what lets a transaction check every operation up front.
type topology struct {
	units map[string]Unit
	names []string // registration order
	edges []edge
}

func newTopology() *topology {
	return &topology{units: make(map[string]Unit)}
}

func (t *topology) clone() *topology {
	c := &topology{
		units: make(map[string]Unit, len(t.units)),
		names: slices.Clone(t.names),
		edges: slices.Clone(t.edges),
	}
	for k, v := range t.units {
		c.units[k] = v
	}
	return c
}

func (t *topology) checkAdd(u Unit) error {
	name := u.Core().Name()
	if _, ok := t.units[name]; ok {
		return DuplicateNameError(name)
	}
	return nil
}

func (t *topology) add(u Unit) {
	name := u.Core().Name()
	t.units[name] = u
	t.names = append(t.names, name)
}

func (t *topology) boundTo(consumer, input string) (edge, bool) {
	for _, e := range t.edges {
		if e.consumer == consumer && e.input == input {
			return e, true
		}
	}
	return edge{}, false
}

func (t *topology) checkConnect(e edge) error {
	p, ok := t.units[e.producer]
	if !ok {
		return UnknownUnitError(e.producer)
	}
	c, ok := t.units[e.consumer]
	if !ok {
		return UnknownUnitError(e.consumer)
	}
	out := p.Core().findOutput(e.output)
	if out == nil {
		return UnknownOutputError(e.producer, e.output)
	}
	in := c.Core().findInput(e.input)
	if in == nil {
		return UnknownInputError(e.consumer, e.input)
	}
	if prev, ok := t.boundTo(e.consumer, e.input); ok {
		return AlreadyBoundError(e.consumer, e.input, prev.producer+"."+prev.output)
	}
	if out.Kind != table.KindAny && !in.Kind.Accepts(out.Kind) {
		return InputTypeError(e.consumer, e.input, in.Kind, out.Kind)
	}
	if v := out.value; v != nil {
		if !in.Kind.Accepts(v.Kind()) {
			return InputTypeError(e.consumer, e.input, in.Kind, v.Kind())
		}
		if err := checkHint(e, v); err != nil {
			return err
		}
	}
	if !e.delayed {
		probe := &topology{units: t.units, names: t.names, edges: append(slices.Clone(t.edges), e)}
		if cycle := probe.firstCycle(); cycle != nil {
			return CycleError(cycle)
		}
	}
	return nil
}

// checkHint validates a column hint against a published table. Hints on a
// producer that has not published yet are checked on first read.
func checkHint(e edge, v table.Tracked) error {
	t, ok := v.(*table.Table)
	if !ok {
		if len(e.columns) > 0 {
			return InputTypeError(e.consumer, e.input, table.KindTable, v.Kind())
		}
		return nil
	}
	for _, c := range e.columns {
		if !t.HasColumn(c) {
			return UnknownColumnError(e.consumer, e.input, c)
		}
	}
	return nil
}

func (t *topology) connect(e edge) {
	t.edges = append(t.edges, e)
}

func (t *topology) checkDelete(names []string) error {
	for _, n := range names {
		if _, ok := t.units[n]; !ok {
			return UnknownUnitError(n)
		}
	}
	return nil
}

func (t *topology) remove(names []string) {
	gone := make(map[string]bool, len(names))
	for _, n := range names {
		gone[n] = true
		delete(t.units, n)
	}
	t.names = slices.DeleteFunc(t.names, func(n string) bool { return gone[n] })
	t.edges = slices.DeleteFunc(t.edges, func(e edge) bool {
		return gone[e.producer] || gone[e.consumer]
	})
}

// liveAdjacency maps each unit to the consumers it feeds over non-delayed
// edges, in registration order.
func (t *topology) liveAdjacency() map[string][]string {
	adj := make(map[string][]string, len(t.names))
	for _, n := range t.names {
		adj[n] = nil
	}
	for _, e := range t.edges {
		if e.delayed {
			continue
		}
		if !slices.Contains(adj[e.producer], e.consumer) {
			adj[e.producer] = append(adj[e.producer], e.consumer)
		}
	}
	return adj
}

// collateral returns the units that lose every way of satisfying some
// required input once the seeds are gone, transitively. Seeds are not part
// of the result.
func (t *topology) collateral(seeds []string) []string {
	gone := make(map[string]bool, len(seeds))
	for _, s := range seeds {
		gone[s] = true
	}
	var out []string
	for changed := true; changed; {
		changed = false
		for _, n := range t.names {
			if gone[n] {
				continue
			}
			if t.lostRequired(n, gone) {
				gone[n] = true
				out = append(out, n)
				changed = true
			}
		}
	}
	slices.Sort(out)
	return out
}

func (t *topology) lostRequired(name string, gone map[string]bool) bool {
	for _, in := range t.units[name].Core().Inputs() {
		if !in.Required {
			continue
		}
		if e, ok := t.boundTo(name, in.Name); ok && gone[e.producer] {
			return true
		}
	}
	return false
}
