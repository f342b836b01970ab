package table

import "fmt"

// View is read access to a table restricted to a fixed set of columns.
// A view created without columns follows the table's schema as it evolves.
type View struct {
	t    *Table
	cols []string
}

// View returns a view over the named columns. Every name must exist.
func (t *Table) View(columns ...string) (*View, error) {
	for _, c := range columns {
		if !t.HasColumn(c) {
			return nil, fmt.Errorf("table %s: unknown column %q", t.name, c)
		}
	}
	cols := append([]string(nil), columns...)
	return &View{t: t, cols: cols}, nil
}

// Table returns the underlying table.
func (v *View) Table() *Table { return v.t }

// Restricted reports whether the view is limited to a fixed column set.
func (v *View) Restricted() bool { return len(v.cols) > 0 }

// Columns returns the visible column names.
func (v *View) Columns() []string {
	if len(v.cols) == 0 {
		return v.t.Columns()
	}
	return append([]string(nil), v.cols...)
}

// Column returns a visible column.
func (v *View) Column(name string) (Column, bool) {
	if len(v.cols) > 0 && !contains(v.cols, name) {
		return nil, false
	}
	return v.t.Column(name)
}

// Live returns the table's live indices.
func (v *View) Live() *IndexSet { return v.t.Live() }

// Len returns the number of live rows.
func (v *View) Len() int { return v.t.Len() }

// Float returns a numeric value of a visible column.
func (v *View) Float(column string, idx int64) (float64, error) {
	col, ok := v.Column(column)
	if !ok {
		return 0, fmt.Errorf("view of %s: column %q not visible", v.t.name, column)
	}
	if !v.t.live.Contains(idx) {
		return 0, fmt.Errorf("view of %s: index %d: %w", v.t.name, idx, ErrNotLive)
	}
	f, ok := col.Float(idx)
	if !ok {
		return 0, fmt.Errorf("view of %s: column %q is %v, not numeric", v.t.name, column, col.Type())
	}
	return f, nil
}

// NumericColumns returns the visible columns with a numeric type.
func (v *View) NumericColumns() []string {
	var out []string
	for _, name := range v.Columns() {
		col, _ := v.t.Column(name)
		if col.Type() == Float64 || col.Type() == Int64 {
			out = append(out, name)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
