package pipeline

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/progflow/internal/engine"
	"github.com/roach88/progflow/internal/units"
)

func drain(t *testing.T, g *engine.Graph) {
	t.Helper()
	s := engine.NewScheduler(g,
		engine.WithQuantum(0),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, s.Start(context.Background()))
}

func TestLoad_YAML(t *testing.T) {
	doc, err := Load(filepath.Join("testdata", "max.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "max", doc.Name)
	assert.Equal(t, "testdata", doc.Dir)
	require.Len(t, doc.Units, 3)
	assert.Equal(t, UnitSpec{Name: "max", Kind: "max"}, doc.Units[1])
	assert.Equal(t, []EdgeSpec{
		{From: "random.result", To: "max.table", Columns: []string{"_1", "_2", "_3"}},
		{From: "max.result", To: "print.df"},
	}, doc.Edges)
}

func TestLoad_CUEMatchesYAML(t *testing.T) {
	y, err := Load(filepath.Join("testdata", "max.yaml"))
	require.NoError(t, err)
	c, err := Load(filepath.Join("testdata", "max.cue"))
	require.NoError(t, err)

	assert.Equal(t, y.Name, c.Name)
	assert.Equal(t, y.Description, c.Description)
	assert.Equal(t, y.Edges, c.Edges)
	require.Len(t, c.Units, len(y.Units))
	for i := range y.Units {
		assert.Equal(t, y.Units[i].Name, c.Units[i].Name)
		assert.Equal(t, y.Units[i].Kind, c.Units[i].Kind)
	}

	var ry, rc units.RandomConfig
	require.NoError(t, DecodeParams(y.Units[0].Params, &ry))
	require.NoError(t, DecodeParams(c.Units[0].Params, &rc))
	assert.Equal(t, units.RandomConfig{Columns: 10, Rows: 10000, Seed: 1}, rc)
	assert.Equal(t, ry, rc)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		file string
		want string
	}{
		{"unknown_field.yaml", "field edge not found"},
		{"unknown_field.cue", "unitz"},
		{"missing.yaml", "failed to read pipeline file"},
		{"max.json", "unsupported extension"},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			_, err := Load(filepath.Join("testdata", tt.file))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	doc := &Document{
		Units: []UnitSpec{
			{Name: "a", Kind: "random"},
			{Name: "a", Kind: "max"},
			{Name: "bad name", Kind: "sink"},
			{Name: "k"},
		},
		Edges: []EdgeSpec{
			{From: "a.result", To: "ghost.table"},
			{From: "a", To: "k.inp"},
		},
	}
	err := Validate(doc)
	require.Error(t, err)
	for _, want := range []string{
		"name is required",
		`units[1]: duplicate name "a"`,
		`units[2]: invalid name "bad name"`,
		"units[3]: kind is required",
		`edges[0].to: unknown unit "ghost"`,
		`edges[1].from: endpoint "a" must be unit.port`,
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestParse_EmptyUnits(t *testing.T) {
	_, err := Parse([]byte("name: x\nunits: []\n"), FormatYAML, "inline.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "units list is required")
}

func TestBuild_RunsPipeline(t *testing.T) {
	doc, err := Load(filepath.Join("testdata", "max.yaml"))
	require.NoError(t, err)
	var out bytes.Buffer
	g, err := Build(doc, DefaultRegistry(&out))
	require.NoError(t, err)

	order, err := g.Order()
	require.NoError(t, err)
	assert.Equal(t, []string{"random", "max", "print"}, order)

	drain(t, g)

	u, _ := g.Unit("max")
	mx := u.(*units.Aggregate)
	assert.Equal(t, []string{"_1", "_2", "_3"}, mx.Result().Keys())
	for k, v := range mx.Result().Snapshot() {
		assert.True(t, v > 0.99 && v <= 1, "%s = %v", k, v)
	}
	// One dot per pass in which the maximum moved; the source takes ten.
	require.NotEmpty(t, out.String())
	assert.LessOrEqual(t, len(out.String()), 10)
	assert.Equal(t, strings.Repeat(".", len(out.String())), out.String())
}

func TestBuild_ResolvesRelativePaths(t *testing.T) {
	doc, err := Load(filepath.Join("testdata", "csv.yaml"))
	require.NoError(t, err)
	g, err := Build(doc, DefaultRegistry(io.Discard))
	require.NoError(t, err)

	drain(t, g)

	mxu, _ := g.Unit("max")
	mnu, _ := g.Unit("min")
	assert.Equal(t, map[string]float64{"x": 4, "y": 7.25}, mxu.(*units.Aggregate).Result().Snapshot())
	assert.Equal(t, map[string]float64{"x": -2, "y": -8}, mnu.(*units.Aggregate).Result().Snapshot())
}

func TestBuild_Errors(t *testing.T) {
	reg := DefaultRegistry(io.Discard)
	tests := []struct {
		name  string
		doc   Document
		want  string
		check func(error) bool
	}{
		{
			name: "unknown kind",
			doc:  Document{Name: "x", Units: []UnitSpec{{Name: "a", Kind: "histogram"}}},
			want: `unit a: unknown kind "histogram"`,
		},
		{
			name: "unknown param",
			doc: Document{Name: "x", Units: []UnitSpec{
				{Name: "a", Kind: "random", Params: map[string]any{"colums": 3}},
			}},
			want: "invalid keys: colums",
		},
		{
			name: "factory error",
			doc:  Document{Name: "x", Units: []UnitSpec{{Name: "a", Kind: "random"}}},
			want: "columns must be positive",
		},
		{
			name: "type mismatch",
			doc: Document{Name: "x",
				Units: []UnitSpec{
					{Name: "c", Kind: "constdict", Params: map[string]any{"values": map[string]any{"a": 1}}},
					{Name: "m", Kind: "max"},
				},
				Edges: []EdgeSpec{{From: "c.result", To: "m.table"}},
			},
			check: engine.IsInputTypeError,
		},
		{
			name: "unknown output",
			doc: Document{Name: "x",
				Units: []UnitSpec{
					{Name: "r", Kind: "random", Params: map[string]any{"columns": 1}},
					{Name: "s", Kind: "sink"},
				},
				Edges: []EdgeSpec{{From: "r.table", To: "s.inp"}},
			},
			check: engine.IsUnknownOutput,
		},
		{
			name: "unbound input",
			doc:  Document{Name: "x", Units: []UnitSpec{{Name: "m", Kind: "max"}}},
			check: engine.IsUnboundInput,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Build(&tt.doc, reg)
			require.Error(t, err)
			assert.Nil(t, g)
			if tt.want != "" {
				assert.Contains(t, err.Error(), tt.want)
			}
			if tt.check != nil {
				assert.True(t, tt.check(err), err.Error())
			}
		})
	}
}

func TestDecodeParams(t *testing.T) {
	var cfg units.CSVConfig
	require.NoError(t, DecodeParams(map[string]any{
		"path":      "a.csv",
		"columns":   []any{"x", "y"},
		"step_size": 500.0,
		"no_header": true,
	}, &cfg))
	assert.Equal(t, units.CSVConfig{Path: "a.csv", Columns: []string{"x", "y"}, StepSize: 500, NoHeader: true}, cfg)

	var c units.ConstConfig
	require.NoError(t, DecodeParams(map[string]any{"values": map[string]any{"a": 1, "b": 2.5}}, &c))
	assert.Equal(t, map[string]float64{"a": 1, "b": 2.5}, c.Values)

	require.NoError(t, DecodeParams(nil, &c))
}

func TestRegistry_Kinds(t *testing.T) {
	reg := DefaultRegistry(nil)
	assert.Equal(t, []string{"constdict", "csv", "max", "min", "print", "random", "sink", "sql"}, reg.Kinds())

	reg.Register("custom", func(s UnitSpec, _ Env) (engine.Unit, error) { return units.NewSink(s.Name), nil })
	_, ok := reg.Lookup("custom")
	assert.True(t, ok)
}

func TestEnv_Resolve(t *testing.T) {
	env := Env{Dir: "/data"}
	assert.Equal(t, "/data/a.csv", env.Resolve("a.csv"))
	assert.Equal(t, "/abs/a.csv", env.Resolve("/abs/a.csv"))
	assert.Equal(t, "", env.Resolve(""))
	assert.Equal(t, "a.csv", Env{}.Resolve("a.csv"))
}
