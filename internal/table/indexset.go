package table

import (
	"fmt"
	"strings"

	"github.com/willf/bitset"
)

// IndexSet is a set of row indices backed by a bitset.
//
// Iteration is always in ascending index order, which is what prefix
// consumption of created rows relies on. The zero value is not usable; use
// NewIndexSet or RangeSet.
type IndexSet struct {
	bits *bitset.BitSet
}

// NewIndexSet returns a set holding the given indices.
func NewIndexSet(indices ...int64) *IndexSet {
	s := &IndexSet{bits: bitset.New(0)}
	for _, i := range indices {
		s.Add(i)
	}
	return s
}

// RangeSet returns the set [lo, hi).
func RangeSet(lo, hi int64) *IndexSet {
	s := NewIndexSet()
	s.AddRange(lo, hi)
	return s
}

// Add inserts i. Negative indices are ignored.
func (s *IndexSet) Add(i int64) {
	if i < 0 {
		return
	}
	s.bits.Set(uint(i))
}

// AddRange inserts every index in [lo, hi).
func (s *IndexSet) AddRange(lo, hi int64) {
	for i := lo; i < hi; i++ {
		s.Add(i)
	}
}

// Remove deletes i from the set.
func (s *IndexSet) Remove(i int64) {
	if i < 0 {
		return
	}
	s.bits.Clear(uint(i))
}

// Contains reports whether i is in the set.
func (s *IndexSet) Contains(i int64) bool {
	if s == nil || i < 0 {
		return false
	}
	return s.bits.Test(uint(i))
}

// Len returns the number of indices in the set.
func (s *IndexSet) Len() int {
	if s == nil {
		return 0
	}
	return int(s.bits.Count())
}

// Empty reports whether the set has no indices.
func (s *IndexSet) Empty() bool {
	return s == nil || s.bits.None()
}

// Clone returns an independent copy.
func (s *IndexSet) Clone() *IndexSet {
	if s == nil {
		return NewIndexSet()
	}
	return &IndexSet{bits: s.bits.Clone()}
}

// Union adds every index of o to s.
func (s *IndexSet) Union(o *IndexSet) {
	if o == nil {
		return
	}
	s.bits.InPlaceUnion(o.bits)
}

// Difference removes every index of o from s.
func (s *IndexSet) Difference(o *IndexSet) {
	if o == nil {
		return
	}
	s.bits.InPlaceDifference(o.bits)
}

// Intersect keeps only the indices also present in o.
func (s *IndexSet) Intersect(o *IndexSet) {
	if o == nil {
		s.Clear()
		return
	}
	s.bits.InPlaceIntersection(o.bits)
}

// Clear removes every index.
func (s *IndexSet) Clear() {
	s.bits.ClearAll()
}

// Equal reports whether both sets hold the same indices.
func (s *IndexSet) Equal(o *IndexSet) bool {
	if s.Empty() || o.Empty() {
		return s.Empty() && o.Empty()
	}
	if s.Len() != o.Len() {
		return false
	}
	equal := true
	s.Each(func(i int64) bool {
		if !o.Contains(i) {
			equal = false
		}
		return equal
	})
	return equal
}

// Each calls fn for every index in ascending order until fn returns false.
func (s *IndexSet) Each(fn func(i int64) bool) {
	if s == nil {
		return
	}
	for i, ok := s.bits.NextSet(0); ok; i, ok = s.bits.NextSet(i + 1) {
		if !fn(int64(i)) {
			return
		}
	}
}

// Indices returns the indices in ascending order.
func (s *IndexSet) Indices() []int64 {
	out := make([]int64, 0, s.Len())
	s.Each(func(i int64) bool {
		out = append(out, i)
		return true
	})
	return out
}

// PopPrefix removes up to n of the smallest indices and returns them.
// A non-positive n pops nothing.
func (s *IndexSet) PopPrefix(n int) *IndexSet {
	out := NewIndexSet()
	if n <= 0 {
		return out
	}
	taken := 0
	s.Each(func(i int64) bool {
		out.Add(i)
		taken++
		return taken < n
	})
	s.Difference(out)
	return out
}

// String renders the set as compact ranges, e.g. "[0-9 12 15-16]".
func (s *IndexSet) String() string {
	var b strings.Builder
	b.WriteByte('[')
	start, prev := int64(-1), int64(-1)
	flush := func() {
		if start < 0 {
			return
		}
		if b.Len() > 1 {
			b.WriteByte(' ')
		}
		if start == prev {
			fmt.Fprintf(&b, "%d", start)
		} else {
			fmt.Fprintf(&b, "%d-%d", start, prev)
		}
	}
	s.Each(func(i int64) bool {
		if prev >= 0 && i == prev+1 {
			prev = i
			return true
		}
		flush()
		start, prev = i, i
		return true
	})
	flush()
	b.WriteByte(']')
	return b.String()
}
