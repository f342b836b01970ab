package table

import (
	"errors"
	"fmt"
)

// ErrNotLive is returned when an operation targets a deleted or unknown index.
var ErrNotLive = errors.New("row index is not live")

// Batch is a set of rows to append, keyed by column name. Every value is a
// slice of the column's Go type ([]float64, []int64 or []string) and all
// slices have the same length.
type Batch map[string]any

// Table is an ordered, indexed, typed columnar store with a change log.
type Table struct {
	name    string
	cols    []mutableColumn
	byName  map[string]int
	live    *IndexSet
	size    int64
	changes *Changes
}

// New creates an empty table with the given columns.
func New(name string, schema ...ColumnSpec) (*Table, error) {
	t := &Table{
		name:    name,
		byName:  make(map[string]int, len(schema)),
		live:    NewIndexSet(),
		changes: newChanges(),
	}
	for _, spec := range schema {
		if err := t.addColumn(spec); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// MustNew is like New but panics on error. Intended for tests and fixed schemas.
func MustNew(name string, schema ...ColumnSpec) *Table {
	t, err := New(name, schema...)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Table) addColumn(spec ColumnSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("table %s: empty column name", t.name)
	}
	if _, exists := t.byName[spec.Name]; exists {
		return fmt.Errorf("table %s: duplicate column %q", t.name, spec.Name)
	}
	col, err := newColumn(spec)
	if err != nil {
		return fmt.Errorf("table %s: %w", t.name, err)
	}
	t.byName[spec.Name] = len(t.cols)
	t.cols = append(t.cols, col)
	return nil
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Kind implements Tracked.
func (t *Table) Kind() Kind { return KindTable }

// Changes implements Tracked.
func (t *Table) Changes() *Changes { return t.changes }

// Live implements Tracked. The returned set must not be modified.
func (t *Table) Live() *IndexSet { return t.live }

// Len returns the number of live rows.
func (t *Table) Len() int { return t.live.Len() }

// Size returns the number of indices ever assigned, which is also the next
// index Append will hand out.
func (t *Table) Size() int64 { return t.size }

// Columns returns the column names in declaration order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.cols))
	for i, c := range t.cols {
		out[i] = c.Name()
	}
	return out
}

// Schema returns the column specs in declaration order.
func (t *Table) Schema() []ColumnSpec {
	out := make([]ColumnSpec, len(t.cols))
	for i, c := range t.cols {
		out[i] = ColumnSpec{Name: c.Name(), Type: c.Type()}
	}
	return out
}

// HasColumn reports whether name is a column of t.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.byName[name]
	return ok
}

// Column returns the named column.
func (t *Table) Column(name string) (Column, bool) {
	i, ok := t.byName[name]
	if !ok {
		return nil, false
	}
	return t.cols[i], true
}

// Value returns the value at (column, idx).
func (t *Table) Value(column string, idx int64) (any, error) {
	col, ok := t.Column(column)
	if !ok {
		return nil, fmt.Errorf("table %s: unknown column %q", t.name, column)
	}
	if !t.live.Contains(idx) {
		return nil, fmt.Errorf("table %s: index %d: %w", t.name, idx, ErrNotLive)
	}
	return col.Value(idx), nil
}

// AddColumn appends a new column; existing rows receive fill (or the zero
// value when fill is nil) so all columns keep equal length.
func (t *Table) AddColumn(spec ColumnSpec, fill any) error {
	if err := t.addColumn(spec); err != nil {
		return err
	}
	col := t.cols[len(t.cols)-1]
	if err := col.fill(int(t.size), fill); err != nil {
		t.cols = t.cols[:len(t.cols)-1]
		delete(t.byName, spec.Name)
		return err
	}
	return nil
}

// Append adds rows and returns the indices assigned to them. The batch must
// provide every column with slices of equal length; nothing is written when
// validation fails.
func (t *Table) Append(batch Batch) (*IndexSet, error) {
	if len(batch) != len(t.cols) {
		return nil, fmt.Errorf("table %s: batch has %d columns, table has %d", t.name, len(batch), len(t.cols))
	}
	n := -1
	for _, col := range t.cols {
		v, ok := batch[col.Name()]
		if !ok {
			return nil, fmt.Errorf("table %s: batch missing column %q", t.name, col.Name())
		}
		l, err := col.batchLen(v)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", t.name, err)
		}
		if n >= 0 && l != n {
			return nil, fmt.Errorf("table %s: column %q has %d values, expected %d", t.name, col.Name(), l, n)
		}
		n = l
	}
	if n <= 0 {
		return NewIndexSet(), nil
	}
	for _, col := range t.cols {
		col.appendBatch(batch[col.Name()])
	}
	created := RangeSet(t.size, t.size+int64(n))
	t.size += int64(n)
	t.live.Union(created)
	t.changes.record(OpCreate, created)
	return created, nil
}

// Update overwrites column values of a live row in place.
func (t *Table) Update(idx int64, values map[string]any) error {
	if !t.live.Contains(idx) {
		return fmt.Errorf("table %s: update %d: %w", t.name, idx, ErrNotLive)
	}
	for name, v := range values {
		i, ok := t.byName[name]
		if !ok {
			return fmt.Errorf("table %s: unknown column %q", t.name, name)
		}
		if err := t.cols[i].check(v); err != nil {
			return fmt.Errorf("table %s: %w", t.name, err)
		}
	}
	for name, v := range values {
		t.cols[t.byName[name]].set(idx, v)
	}
	t.changes.record(OpUpdate, NewIndexSet(idx))
	return nil
}

// Delete removes live rows. Indices stay reserved and are never handed out
// again. Deleting an index that is not live fails without side effects.
func (t *Table) Delete(indices *IndexSet) error {
	var bad int64 = -1
	indices.Each(func(i int64) bool {
		if !t.live.Contains(i) {
			bad = i
			return false
		}
		return true
	})
	if bad >= 0 {
		return fmt.Errorf("table %s: delete %d: %w", t.name, bad, ErrNotLive)
	}
	t.live.Difference(indices)
	t.changes.record(OpDelete, indices)
	return nil
}

// Truncate removes every live row and records a reset, telling readers the
// table is being rebuilt from nothing.
func (t *Table) Truncate() {
	t.live.Clear()
	t.changes.record(OpReset, nil)
}

// Clone returns a copy of the table's schema, rows and live set. The copy
// starts with an empty change log and shares nothing with t.
func (t *Table) Clone() *Table {
	c := &Table{
		name:    t.name,
		cols:    make([]mutableColumn, len(t.cols)),
		byName:  make(map[string]int, len(t.byName)),
		live:    t.live.Clone(),
		size:    t.size,
		changes: newChanges(),
	}
	for i, col := range t.cols {
		c.cols[i] = col.clone()
	}
	for k, v := range t.byName {
		c.byName[k] = v
	}
	return c
}

// Compact trims the change log; see Changes.Compact.
func (t *Table) Compact() int {
	return t.changes.Compact()
}
