package pipeline

import (
	"fmt"

	"github.com/roach88/progflow/internal/engine"
)

// Build creates every unit of doc with reg and wires the edges into a new
// graph. The first wiring error aborts the build; the returned graph has
// passed Graph.Validate.
func Build(doc *Document, reg *Registry) (*engine.Graph, error) {
	if err := Validate(doc); err != nil {
		return nil, err
	}
	env := Env{Dir: doc.Dir, Stdout: reg.stdout}
	g := engine.NewGraph()

	for _, spec := range doc.Units {
		f, ok := reg.Lookup(spec.Kind)
		if !ok {
			return nil, fmt.Errorf("unit %s: unknown kind %q", spec.Name, spec.Kind)
		}
		u, err := f(spec, env)
		if err != nil {
			return nil, fmt.Errorf("unit %s: %w", spec.Name, err)
		}
		if err := g.AddUnit(u); err != nil {
			return nil, fmt.Errorf("unit %s: %w", spec.Name, err)
		}
	}

	for i, e := range doc.Edges {
		producer, output, err := splitEndpoint(e.From)
		if err != nil {
			return nil, fmt.Errorf("edges[%d]: %w", i, err)
		}
		consumer, input, err := splitEndpoint(e.To)
		if err != nil {
			return nil, fmt.Errorf("edges[%d]: %w", i, err)
		}
		var opts []engine.SlotOption
		if len(e.Columns) > 0 {
			opts = append(opts, engine.WithColumns(e.Columns...))
		}
		if e.Delayed {
			opts = append(opts, engine.Delayed())
		}
		if err := g.Connect(producer, output, consumer, input, opts...); err != nil {
			return nil, fmt.Errorf("edges[%d] %s -> %s: %w", i, e.From, e.To, err)
		}
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}
