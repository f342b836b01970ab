package pipeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/roach88/progflow/internal/engine"
	"github.com/roach88/progflow/internal/units"
)

// Env is what factories may use beyond a unit's own spec.
type Env struct {
	// Dir resolves relative file paths in params.
	Dir string
	// Stdout receives the output of print units.
	Stdout io.Writer
}

// Resolve makes a relative path absolute against Dir.
func (e Env) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || e.Dir == "" {
		return path
	}
	return filepath.Join(e.Dir, path)
}

// Factory creates a unit from its spec.
type Factory func(spec UnitSpec, env Env) (engine.Unit, error)

// Registry maps unit kinds to factories.
type Registry struct {
	factories map[string]Factory
	stdout    io.Writer
}

// NewRegistry returns an empty registry whose print units write to stdout.
func NewRegistry(stdout io.Writer) *Registry {
	if stdout == nil {
		stdout = os.Stdout
	}
	return &Registry{factories: make(map[string]Factory), stdout: stdout}
}

// Register adds or replaces a kind.
func (r *Registry) Register(kind string, f Factory) {
	r.factories[kind] = f
}

// Lookup returns the factory of a kind.
func (r *Registry) Lookup(kind string) (Factory, bool) {
	f, ok := r.factories[kind]
	return f, ok
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DefaultRegistry returns a registry holding the reference units.
func DefaultRegistry(stdout io.Writer) *Registry {
	r := NewRegistry(stdout)
	r.Register("random", func(s UnitSpec, _ Env) (engine.Unit, error) {
		var cfg units.RandomConfig
		if err := DecodeParams(s.Params, &cfg); err != nil {
			return nil, err
		}
		return units.NewRandomTable(s.Name, cfg)
	})
	r.Register("csv", func(s UnitSpec, env Env) (engine.Unit, error) {
		var cfg units.CSVConfig
		if err := DecodeParams(s.Params, &cfg); err != nil {
			return nil, err
		}
		cfg.Path = env.Resolve(cfg.Path)
		return units.NewCSVLoader(s.Name, cfg)
	})
	r.Register("sql", func(s UnitSpec, env Env) (engine.Unit, error) {
		var cfg units.SQLConfig
		if err := DecodeParams(s.Params, &cfg); err != nil {
			return nil, err
		}
		if cfg.DSN != ":memory:" && !strings.HasPrefix(cfg.DSN, "file:") {
			cfg.DSN = env.Resolve(cfg.DSN)
		}
		return units.NewSQLLoader(s.Name, cfg)
	})
	r.Register("max", func(s UnitSpec, _ Env) (engine.Unit, error) {
		var cfg units.AggregateConfig
		if err := DecodeParams(s.Params, &cfg); err != nil {
			return nil, err
		}
		return units.NewMax(s.Name, cfg), nil
	})
	r.Register("min", func(s UnitSpec, _ Env) (engine.Unit, error) {
		var cfg units.AggregateConfig
		if err := DecodeParams(s.Params, &cfg); err != nil {
			return nil, err
		}
		return units.NewMin(s.Name, cfg), nil
	})
	r.Register("constdict", func(s UnitSpec, _ Env) (engine.Unit, error) {
		var cfg units.ConstConfig
		if err := DecodeParams(s.Params, &cfg); err != nil {
			return nil, err
		}
		return units.NewConstDict(s.Name, cfg), nil
	})
	r.Register("sink", func(s UnitSpec, _ Env) (engine.Unit, error) {
		if err := DecodeParams(s.Params, &struct{}{}); err != nil {
			return nil, err
		}
		return units.NewSink(s.Name), nil
	})
	r.Register("print", func(s UnitSpec, env Env) (engine.Unit, error) {
		var cfg units.PrintConfig
		if err := DecodeParams(s.Params, &cfg); err != nil {
			return nil, err
		}
		return units.NewPrint(s.Name, env.Stdout, cfg), nil
	})
	return r
}

// DecodeParams decodes params into out, rejecting unknown keys. Numbers
// convert between integer and float types.
func DecodeParams(params map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(params); err != nil {
		return fmt.Errorf("params: %w", err)
	}
	return nil
}
