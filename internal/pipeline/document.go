package pipeline

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

// Document is a pipeline definition.
type Document struct {
	Name        string     `yaml:"name" json:"name"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`
	Units       []UnitSpec `yaml:"units" json:"units"`
	Edges       []EdgeSpec `yaml:"edges,omitempty" json:"edges,omitempty"`

	// Dir is the directory relative paths in params resolve against. Load
	// sets it to the document's directory.
	Dir string `yaml:"-" json:"-"`
}

// UnitSpec declares one unit.
type UnitSpec struct {
	Name   string         `yaml:"name" json:"name"`
	Kind   string         `yaml:"kind" json:"kind"`
	Params map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

// EdgeSpec connects a producer output to a consumer input.
type EdgeSpec struct {
	// From is "unit.output".
	From string `yaml:"from" json:"from"`
	// To is "unit.input".
	To string `yaml:"to" json:"to"`
	// Columns restricts the consumer's view of a table output.
	Columns []string `yaml:"columns,omitempty" json:"columns,omitempty"`
	// Delayed makes the consumer see the producer's previous pass.
	Delayed bool `yaml:"delayed,omitempty" json:"delayed,omitempty"`
}

// Format is a document encoding.
type Format string

// Supported formats.
const (
	FormatYAML Format = "yaml"
	FormatCUE  Format = "cue"
)

// FormatOf picks the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".cue":
		return FormatCUE, nil
	}
	return "", fmt.Errorf("pipeline %s: unsupported extension (want .yaml, .yml or .cue)", path)
}

// Load reads and validates a pipeline document.
func Load(path string) (*Document, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file: %w", err)
	}
	doc, err := Parse(data, format, path)
	if err != nil {
		return nil, err
	}
	doc.Dir = filepath.Dir(path)
	return doc, nil
}

// Parse decodes and validates a document. filename is used in messages.
func Parse(data []byte, format Format, filename string) (*Document, error) {
	var (
		doc Document
		err error
	)
	switch format {
	case FormatYAML:
		err = parseYAML(data, &doc)
	case FormatCUE:
		err = parseCUE(data, filename, &doc)
	default:
		err = fmt.Errorf("unknown format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", filename, err)
	}
	if err := Validate(&doc); err != nil {
		return nil, fmt.Errorf("invalid pipeline %s: %w", filename, err)
	}
	return &doc, nil
}

func parseYAML(data []byte, doc *Document) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(doc); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

//go:embed schema.cue
var schemaSource []byte

func parseCUE(data []byte, filename string, doc *Document) error {
	ctx := cuecontext.New()
	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compiling schema: %w", err)
	}
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return fmt.Errorf("failed to parse CUE: %s", cueerrors.Details(err, nil))
	}
	v = schema.LookupPath(cue.ParsePath("#Pipeline")).Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema: %s", strings.TrimSpace(cueerrors.Details(err, nil)))
	}
	if err := v.Decode(doc); err != nil {
		return fmt.Errorf("decoding CUE: %w", err)
	}
	return nil
}

var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// Validate checks the document's structure: required fields, unit name
// syntax and uniqueness, and that edges reference declared units. Every
// problem found is reported.
func Validate(doc *Document) error {
	var errs []error
	if doc.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if len(doc.Units) == 0 {
		errs = append(errs, errors.New("units list is required and must be non-empty"))
	}
	seen := make(map[string]bool, len(doc.Units))
	for i, u := range doc.Units {
		switch {
		case u.Name == "":
			errs = append(errs, fmt.Errorf("units[%d]: name is required", i))
		case !namePattern.MatchString(u.Name):
			errs = append(errs, fmt.Errorf("units[%d]: invalid name %q", i, u.Name))
		case seen[u.Name]:
			errs = append(errs, fmt.Errorf("units[%d]: duplicate name %q", i, u.Name))
		}
		seen[u.Name] = true
		if u.Kind == "" {
			errs = append(errs, fmt.Errorf("units[%d]: kind is required", i))
		}
	}
	for i, e := range doc.Edges {
		for _, end := range []struct{ field, value string }{{"from", e.From}, {"to", e.To}} {
			unit, _, err := splitEndpoint(end.value)
			if err != nil {
				errs = append(errs, fmt.Errorf("edges[%d].%s: %w", i, end.field, err))
				continue
			}
			if !seen[unit] {
				errs = append(errs, fmt.Errorf("edges[%d].%s: unknown unit %q", i, end.field, unit))
			}
		}
	}
	return errors.Join(errs...)
}

// splitEndpoint splits "unit.port".
func splitEndpoint(s string) (unit, port string, err error) {
	unit, port, ok := strings.Cut(s, ".")
	if !ok || unit == "" || port == "" {
		return "", "", fmt.Errorf("endpoint %q must be unit.port", s)
	}
	return unit, port, nil
}
