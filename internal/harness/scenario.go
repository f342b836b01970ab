package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/progflow/internal/table"
)

// Scenario defines an end-to-end pipeline run and what must hold after it.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Pipeline is the pipeline document path. LoadScenario resolves it
	// relative to the scenario file.
	Pipeline string `yaml:"pipeline"`

	// Edits are applied at pass boundaries while the loop runs.
	Edits []EditStep `yaml:"edits,omitempty"`

	// StopAtRun, when positive, calls Stop from an after-step observer
	// during that run.
	StopAtRun int64 `yaml:"stop_at_run,omitempty"`

	// Assertions validate the final graph.
	Assertions []Assertion `yaml:"assertions"`
}

// EditStep is a graph edit queued after pass AtRun completes.
type EditStep struct {
	AtRun int64 `yaml:"at_run"`

	// Delete removes units. With Collateral set, units left without a
	// required input are removed in the same transaction.
	Delete     []string `yaml:"delete,omitempty"`
	Collateral bool     `yaml:"collateral,omitempty"`

	// AddColumn extends a producer's output table.
	AddColumn *ColumnStep `yaml:"add_column,omitempty"`
}

// ColumnStep adds a column to the table a unit publishes.
type ColumnStep struct {
	Unit   string  `yaml:"unit"`
	Output string  `yaml:"output,omitempty"`
	Name   string  `yaml:"name"`
	Type   string  `yaml:"type,omitempty"`
	Fill   float64 `yaml:"fill,omitempty"`
}

// Assertion validates the final graph or the run.
type Assertion struct {
	// Type selects the check; see the Assert* constants.
	Type string `yaml:"type"`

	// Unit is the unit under test.
	Unit string `yaml:"unit,omitempty"`

	// State is the expected state name (unit_state).
	State string `yaml:"state,omitempty"`

	// Count is the expected run counter (run_count) or records processed
	// (step_count).
	Count int64 `yaml:"count,omitempty"`

	// Expect holds expected dict values (result).
	Expect map[string]float64 `yaml:"expect,omitempty"`

	// Tolerance is the absolute difference allowed by result.
	Tolerance float64 `yaml:"tolerance,omitempty"`

	// Source is the producer folded directly by true_extreme.
	Source string `yaml:"source,omitempty"`

	// Op is "max" or "min" (true_extreme).
	Op string `yaml:"op,omitempty"`

	// Columns lists the columns checked by true_extreme, visible_columns
	// and result_keys.
	Columns []string `yaml:"columns,omitempty"`

	// Input is the consumer input inspected by visible_columns. It
	// defaults to "table".
	Input string `yaml:"input,omitempty"`
}

// Assertion type constants.
const (
	AssertUnitState      = "unit_state"
	AssertRunCount       = "run_count"
	AssertStepCount      = "step_count"
	AssertResult         = "result"
	AssertResultKeys     = "result_keys"
	AssertTrueExtreme    = "true_extreme"
	AssertVisibleColumns = "visible_columns"
	AssertUnitAbsent     = "unit_absent"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected and the pipeline path is resolved against the scenario's
// directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Pipeline != "" && !filepath.IsAbs(scenario.Pipeline) {
		scenario.Pipeline = filepath.Join(filepath.Dir(path), scenario.Pipeline)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Pipeline == "" {
		return fmt.Errorf("pipeline is required")
	}
	if _, err := os.Stat(s.Pipeline); os.IsNotExist(err) {
		return fmt.Errorf("pipeline file not found: %s", s.Pipeline)
	}
	if s.StopAtRun < 0 {
		return fmt.Errorf("stop_at_run must not be negative")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, e := range s.Edits {
		if e.AtRun <= 0 {
			return fmt.Errorf("edits[%d]: at_run must be positive", i)
		}
		if len(e.Delete) == 0 && e.AddColumn == nil {
			return fmt.Errorf("edits[%d]: delete or add_column is required", i)
		}
		if c := e.AddColumn; c != nil {
			if c.Unit == "" || c.Name == "" {
				return fmt.Errorf("edits[%d].add_column: unit and name are required", i)
			}
			if c.Type != "" {
				if _, err := table.ParseType(c.Type); err != nil {
					return fmt.Errorf("edits[%d].add_column: %w", i, err)
				}
			}
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	needUnit := func() error {
		if a.Unit == "" {
			return fmt.Errorf("assertions[%d]: unit is required for %s", index, a.Type)
		}
		return nil
	}

	switch a.Type {
	case AssertUnitState:
		if a.State == "" {
			return fmt.Errorf("assertions[%d]: state is required for unit_state", index)
		}
		return needUnit()
	case AssertRunCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for run_count", index)
		}
	case AssertStepCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for step_count", index)
		}
		return needUnit()
	case AssertResult:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for result", index)
		}
		return needUnit()
	case AssertTrueExtreme:
		if a.Source == "" {
			return fmt.Errorf("assertions[%d]: source is required for true_extreme", index)
		}
		if a.Op != "max" && a.Op != "min" {
			return fmt.Errorf("assertions[%d]: op must be max or min, got %q", index, a.Op)
		}
		if len(a.Columns) == 0 {
			return fmt.Errorf("assertions[%d]: columns are required for true_extreme", index)
		}
		return needUnit()
	case AssertVisibleColumns, AssertResultKeys:
		if len(a.Columns) == 0 {
			return fmt.Errorf("assertions[%d]: columns are required for %s", index, a.Type)
		}
		return needUnit()
	case AssertUnitAbsent:
		return needUnit()
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
