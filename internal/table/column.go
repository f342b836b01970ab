package table

import (
	"fmt"
	"slices"
)

// Type is the value type of a column.
type Type int

const (
	// Float64 columns hold float64 values.
	Float64 Type = iota + 1
	// Int64 columns hold int64 values.
	Int64
	// String columns hold string values.
	String
)

func (t Type) String() string {
	switch t {
	case Float64:
		return "float64"
	case Int64:
		return "int64"
	case String:
		return "string"
	default:
		return "unknown"
	}
}

// ParseType maps a type name back to a Type.
func ParseType(s string) (Type, error) {
	switch s {
	case "float64", "float", "double":
		return Float64, nil
	case "int64", "int":
		return Int64, nil
	case "string", "str":
		return String, nil
	}
	return 0, fmt.Errorf("unknown column type %q", s)
}

// ColumnSpec names and types a column.
type ColumnSpec struct {
	Name string
	Type Type
}

// Column is read access to one column of a Table. Indices are row indices,
// which double as physical positions because indices are never reused.
type Column interface {
	Name() string
	Type() Type
	Len() int
	Value(idx int64) any
	// Float returns the value as a float64 when the column is numeric.
	Float(idx int64) (float64, bool)
}

type column[T float64 | int64 | string] struct {
	name string
	typ  Type
	data []T
}

func newColumn(spec ColumnSpec) (mutableColumn, error) {
	switch spec.Type {
	case Float64:
		return &column[float64]{name: spec.Name, typ: Float64}, nil
	case Int64:
		return &column[int64]{name: spec.Name, typ: Int64}, nil
	case String:
		return &column[string]{name: spec.Name, typ: String}, nil
	}
	return nil, fmt.Errorf("column %q: unsupported type %v", spec.Name, spec.Type)
}

func (c *column[T]) Name() string { return c.name }
func (c *column[T]) Type() Type   { return c.typ }
func (c *column[T]) Len() int     { return len(c.data) }

func (c *column[T]) Value(idx int64) any {
	return c.data[idx]
}

func (c *column[T]) Float(idx int64) (float64, bool) {
	switch v := any(c.data[idx]).(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// batchLen returns the number of values in v, or an error when v is not a
// slice of this column's type.
func (c *column[T]) batchLen(v any) (int, error) {
	vals, ok := v.([]T)
	if !ok {
		return 0, fmt.Errorf("column %q: expected []%v, got %T", c.name, c.typ, v)
	}
	return len(vals), nil
}

func (c *column[T]) appendBatch(v any) {
	c.data = append(c.data, v.([]T)...)
}

func (c *column[T]) fill(n int, v any) error {
	var zero T
	val := zero
	if v != nil {
		tv, ok := v.(T)
		if !ok {
			return fmt.Errorf("column %q: fill value %T is not %v", c.name, v, c.typ)
		}
		val = tv
	}
	for i := 0; i < n; i++ {
		c.data = append(c.data, val)
	}
	return nil
}

func (c *column[T]) check(v any) error {
	if _, ok := v.(T); !ok {
		return fmt.Errorf("column %q: value %T is not %v", c.name, v, c.typ)
	}
	return nil
}

func (c *column[T]) set(idx int64, v any) {
	c.data[idx] = v.(T)
}

func (c *column[T]) clone() mutableColumn {
	return &column[T]{name: c.name, typ: c.typ, data: slices.Clone(c.data)}
}

// mutableColumn is the write side used by Table.
type mutableColumn interface {
	Column
	batchLen(v any) (int, error)
	appendBatch(v any)
	fill(n int, v any) error
	check(v any) error
	set(idx int64, v any)
	clone() mutableColumn
}
