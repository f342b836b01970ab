package units

import (
	"context"
	"sort"

	"github.com/roach88/progflow/internal/engine"
	"github.com/roach88/progflow/internal/table"
)

// ConstConfig configures a ConstDict.
type ConstConfig struct {
	Values map[string]float64 `mapstructure:"values"`
}

// ConstDict publishes a fixed Dict on output "result" and retires after its
// first step.
type ConstDict struct {
	core *engine.Core
	d    *table.Dict
}

// NewConstDict creates a constant source. Keys are inserted in sorted order.
func NewConstDict(name string, cfg ConstConfig) *ConstDict {
	if name == "" {
		name = engine.GenerateName("constdict")
	}
	keys := make([]string, 0, len(cfg.Values))
	for k := range cfg.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vals := make([]float64, len(keys))
	for i, k := range keys {
		vals[i] = cfg.Values[k]
	}
	c := &ConstDict{core: engine.NewCore(name, "constdict"), d: table.NewDictFrom(keys, vals)}
	c.core.DeclareOutput("result", table.KindDict)
	if err := c.core.SetOutput("result", c.d); err != nil {
		panic(err)
	}
	return c
}

func (c *ConstDict) Core() *engine.Core { return c.core }

// Dict returns the published values.
func (c *ConstDict) Dict() *table.Dict { return c.d }

func (c *ConstDict) Step(context.Context, int64, engine.Budget) (engine.StepResult, error) {
	return engine.StepResult{State: engine.StateZombie}, nil
}
