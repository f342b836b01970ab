package harness

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/roach88/progflow/internal/engine"
	"github.com/roach88/progflow/internal/table"
)

// AssertionContext carries what assertions inspect after a run.
type AssertionContext struct {
	Graph *engine.Graph
	Runs  int64
}

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []StepEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	// Only the tail of the trace; long runs produce thousands of steps.
	trace := e.Trace
	if len(trace) > 10 {
		trace = trace[len(trace)-10:]
	}
	if len(trace) > 0 {
		fmt.Fprintf(&buf, "\nLast steps:\n")
		for _, ev := range trace {
			fmt.Fprintf(&buf, "  run %d %s -> %s (%d)\n", ev.Run, ev.Unit, ev.State, ev.Steps)
		}
	}
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, ctx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a, ctx); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion, ctx *AssertionContext) error {
	switch a.Type {
	case AssertUnitState:
		return assertUnitState(result, a, ctx)
	case AssertRunCount:
		return assertRunCount(result, a, ctx)
	case AssertStepCount:
		return assertStepCount(result, a, ctx)
	case AssertResult:
		return assertResult(result, a, ctx)
	case AssertResultKeys:
		return assertResultKeys(result, a, ctx)
	case AssertTrueExtreme:
		return assertTrueExtreme(result, a, ctx)
	case AssertVisibleColumns:
		return assertVisibleColumns(result, a, ctx)
	case AssertUnitAbsent:
		return assertUnitAbsent(result, a, ctx)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func lookup(result *Result, a Assertion, ctx *AssertionContext) (engine.Unit, error) {
	u, ok := ctx.Graph.Unit(a.Unit)
	if !ok {
		return nil, &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("unit %s in the graph", a.Unit),
			Actual:   "unit not found",
			Trace:    result.Trace,
		}
	}
	return u, nil
}

func assertUnitState(result *Result, a Assertion, ctx *AssertionContext) error {
	u, err := lookup(result, a, ctx)
	if err != nil {
		return err
	}
	if got := u.Core().State().String(); got != a.State {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("unit %s in state %s", a.Unit, a.State),
			Actual:   got,
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertRunCount(result *Result, a Assertion, ctx *AssertionContext) error {
	if ctx.Runs != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d runs", a.Count),
			Actual:   fmt.Sprintf("%d runs", ctx.Runs),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertStepCount(result *Result, a Assertion, ctx *AssertionContext) error {
	u, err := lookup(result, a, ctx)
	if err != nil {
		return err
	}
	if got := u.Core().TotalSteps(); got != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("unit %s processed %d records", a.Unit, a.Count),
			Actual:   fmt.Sprintf("%d records", got),
			Trace:    result.Trace,
		}
	}
	return nil
}

// resultDict returns the Dict a unit publishes on "result".
func resultDict(u engine.Unit) (*table.Dict, error) {
	d, ok := u.Core().Output("result").(*table.Dict)
	if !ok {
		return nil, fmt.Errorf("unit %s does not publish a dict on result", u.Core().Name())
	}
	return d, nil
}

func assertResult(result *Result, a Assertion, ctx *AssertionContext) error {
	u, err := lookup(result, a, ctx)
	if err != nil {
		return err
	}
	d, err := resultDict(u)
	if err != nil {
		return err
	}
	got := d.Snapshot()
	for _, k := range sortedKeys(a.Expect) {
		want := a.Expect[k]
		v, ok := got[k]
		if !ok || math.Abs(v-want) > a.Tolerance {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s[%s] = %g (±%g)", a.Unit, k, want, a.Tolerance),
				Actual:   fmt.Sprintf("%v", got),
				Trace:    result.Trace,
			}
		}
	}
	return nil
}

func assertResultKeys(result *Result, a Assertion, ctx *AssertionContext) error {
	u, err := lookup(result, a, ctx)
	if err != nil {
		return err
	}
	d, err := resultDict(u)
	if err != nil {
		return err
	}
	if got := d.Keys(); !slices.Equal(got, a.Columns) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("keys %v", a.Columns),
			Actual:   fmt.Sprintf("keys %v", got),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertTrueExtreme folds the source table directly and compares every
// listed column with the unit's result.
func assertTrueExtreme(result *Result, a Assertion, ctx *AssertionContext) error {
	u, err := lookup(result, a, ctx)
	if err != nil {
		return err
	}
	d, err := resultDict(u)
	if err != nil {
		return err
	}
	src, ok := ctx.Graph.Unit(a.Source)
	if !ok {
		return fmt.Errorf("source unit %s not found", a.Source)
	}
	t, ok := src.Core().Output("result").(*table.Table)
	if !ok {
		return fmt.Errorf("source unit %s does not publish a table", a.Source)
	}

	for _, col := range a.Columns {
		want, err := fold(t, col, a.Op)
		if err != nil {
			return err
		}
		got, ok := d.Get(col)
		if !ok || got != want {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s[%s] = %g (%s over %d rows of %s)", a.Unit, col, want, a.Op, t.Len(), a.Source),
				Actual:   fmt.Sprintf("%g (present=%t)", got, ok),
				Trace:    result.Trace,
			}
		}
	}
	return nil
}

func fold(t *table.Table, col, op string) (float64, error) {
	c, ok := t.Column(col)
	if !ok {
		return 0, fmt.Errorf("source table %s has no column %q", t.Name(), col)
	}
	acc := math.Inf(-1)
	if op == "min" {
		acc = math.Inf(1)
	}
	var ferr error
	t.Live().Each(func(i int64) bool {
		v, ok := c.Float(i)
		if !ok {
			ferr = fmt.Errorf("source column %q is not numeric", col)
			return false
		}
		if math.IsNaN(v) {
			return true
		}
		if op == "min" {
			acc = math.Min(acc, v)
		} else {
			acc = math.Max(acc, v)
		}
		return true
	})
	return acc, ferr
}

func assertVisibleColumns(result *Result, a Assertion, ctx *AssertionContext) error {
	u, err := lookup(result, a, ctx)
	if err != nil {
		return err
	}
	input := a.Input
	if input == "" {
		input = "table"
	}
	slot := u.Core().Input(input)
	if slot == nil {
		return fmt.Errorf("unit %s has no slot on input %s", a.Unit, input)
	}
	v, err := slot.View()
	if err != nil {
		return err
	}
	if v == nil {
		return fmt.Errorf("slot %s has no table yet", slot)
	}
	if got := v.Columns(); !slices.Equal(got, a.Columns) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s sees %v", slot, a.Columns),
			Actual:   fmt.Sprintf("%v", got),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertUnitAbsent(result *Result, a Assertion, ctx *AssertionContext) error {
	if _, ok := ctx.Graph.Unit(a.Unit); ok {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("unit %s removed", a.Unit),
			Actual:   "unit still in the graph",
			Trace:    result.Trace,
		}
	}
	return nil
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
