package table

import (
	"maps"
	"math"
	"slices"
)

// Dict is a keyed store of float64 values. Each key owns a stable index so
// readers see new keys as created rows and value changes as updates.
type Dict struct {
	keys    []string
	index   map[string]int64
	values  []float64
	live    *IndexSet
	changes *Changes
}

// NewDict returns an empty Dict.
func NewDict() *Dict {
	return &Dict{
		index:   make(map[string]int64),
		live:    NewIndexSet(),
		changes: newChanges(),
	}
}

// NewDictFrom returns a Dict holding the given keys and values in key order.
func NewDictFrom(keys []string, values []float64) *Dict {
	d := NewDict()
	for i, k := range keys {
		d.Set(k, values[i])
	}
	return d
}

// Kind implements Tracked.
func (d *Dict) Kind() Kind { return KindDict }

// Changes implements Tracked.
func (d *Dict) Changes() *Changes { return d.changes }

// Live implements Tracked.
func (d *Dict) Live() *IndexSet { return d.live }

// Len returns the number of keys.
func (d *Dict) Len() int { return len(d.keys) }

// Keys returns the keys in insertion order.
func (d *Dict) Keys() []string {
	return append([]string(nil), d.keys...)
}

// Get returns the value of key.
func (d *Dict) Get(key string) (float64, bool) {
	i, ok := d.index[key]
	if !ok {
		return 0, false
	}
	return d.values[i], true
}

// KeyAt returns the key owning index idx.
func (d *Dict) KeyAt(idx int64) (string, bool) {
	if idx < 0 || idx >= int64(len(d.keys)) {
		return "", false
	}
	return d.keys[idx], true
}

// Set stores v under key, recording a create for new keys and an update when
// the value changes. NaN is stored as is and compares unequal to everything,
// so setting NaN always records an update.
func (d *Dict) Set(key string, v float64) {
	i, ok := d.index[key]
	if !ok {
		i = int64(len(d.keys))
		d.index[key] = i
		d.keys = append(d.keys, key)
		d.values = append(d.values, v)
		d.live.Add(i)
		d.changes.record(OpCreate, NewIndexSet(i))
		return
	}
	if d.values[i] == v {
		return
	}
	d.values[i] = v
	d.changes.record(OpUpdate, NewIndexSet(i))
}

// Fill sets every key to v.
func (d *Dict) Fill(v float64) {
	updated := NewIndexSet()
	for i := range d.values {
		if d.values[i] != v || math.IsNaN(v) {
			d.values[i] = v
			updated.Add(int64(i))
		}
	}
	d.changes.record(OpUpdate, updated)
}

// Snapshot returns a copy of the contents.
func (d *Dict) Snapshot() map[string]float64 {
	out := make(map[string]float64, len(d.keys))
	for i, k := range d.keys {
		out[k] = d.values[i]
	}
	return out
}

// Clone returns a copy of the keys and values with an empty change log.
func (d *Dict) Clone() *Dict {
	c := &Dict{
		keys:    slices.Clone(d.keys),
		index:   maps.Clone(d.index),
		values:  slices.Clone(d.values),
		live:    d.live.Clone(),
		changes: newChanges(),
	}
	return c
}

// Compact trims the change log; see Changes.Compact.
func (d *Dict) Compact() int {
	return d.changes.Compact()
}
