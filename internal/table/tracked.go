package table

// Kind classifies the stores a unit output may carry.
type Kind int

const (
	// KindAny accepts any store. Only meaningful in input declarations.
	KindAny Kind = iota
	// KindTable is a *Table.
	KindTable
	// KindDict is a *Dict.
	KindDict
)

func (k Kind) String() string {
	switch k {
	case KindAny:
		return "any"
	case KindTable:
		return "table"
	case KindDict:
		return "dict"
	default:
		return "unknown"
	}
}

// Accepts reports whether an input declared as k can read a store of kind o.
func (k Kind) Accepts(o Kind) bool {
	return k == KindAny || k == o
}

// Tracked is a store with a change log that slots can follow.
type Tracked interface {
	Kind() Kind
	Changes() *Changes
	// Live returns the currently live indices. Callers must not modify it.
	Live() *IndexSet
}

// Copy returns a detached copy of v. Stores other than *Table and *Dict are
// returned as is.
func Copy(v Tracked) Tracked {
	switch s := v.(type) {
	case *Table:
		return s.Clone()
	case *Dict:
		return s.Clone()
	}
	return v
}
