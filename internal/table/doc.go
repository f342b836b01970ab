// Package table implements the record stores that flow between units.
//
// A Table is an ordered, typed, columnar store whose rows are addressed by
// stable int64 indices. Indices are assigned in strictly increasing order and
// are never reused within a Table's lifetime, even after deletion. A Dict is a
// keyed store of float64 values used for small summary outputs (a maximum per
// column, a bound per key) and shares the same index and change-log machinery.
//
// Both stores record every mutation in a Changes log. Readers (slots in the
// engine package) register a Cursor and fold log entries into their own
// created/updated/deleted sets, so several consumers can read the same store
// with independent acknowledgment state. Compact drops log entries that every
// registered cursor has already folded.
//
// Stores are not safe for concurrent mutation. They are owned by exactly one
// unit and mutated only from that unit's step, which the scheduler runs on a
// single goroutine.
package table
