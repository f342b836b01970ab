package engine

import (
	"fmt"

	"github.com/roach88/progflow/internal/table"
)

// Delta is the set of changes a slot exposes since the consumer's last
// acknowledgment. The three index sets are disjoint.
type Delta struct {
	Created *table.IndexSet
	Updated *table.IndexSet
	Deleted *table.IndexSet
	// Reset is set when the producer rebuilt its store; the consumer must
	// discard derived state before consuming.
	Reset bool
}

// Empty reports whether the delta carries nothing.
func (d Delta) Empty() bool {
	return !d.Reset && d.Created.Empty() && d.Updated.Empty() && d.Deleted.Empty()
}

// Slot is the typed, change-tracked connection from a producer's output to
// a consumer's input.
//
// A slot follows the producer's store through its own cursor on the store's
// change log, so consumers sharing a producer never disturb each other.
// Indices appear in Created once and leave it only by being consumed, by a
// delete before delivery, or by a reset.
type Slot struct {
	producer *Core
	output   string
	consumer *Core
	input    string
	columns  []string
	delayed  bool

	bound  table.Tracked
	cursor *table.Cursor
	sealed int64 // highest visible sequence on delayed slots

	// frozen is the copy of bound taken at the last seal; delayed slots
	// read values and liveness from it.
	frozen      table.Tracked
	frozenSeq   int64
	frozenWidth int

	created *table.IndexSet
	updated *table.IndexSet
	deleted *table.IndexSet
	reset   bool

	lastAck int64
	view    *table.View
	err     error
	closed  bool
}

// SlotOption configures a slot at connect time.
type SlotOption func(*slotConfig)

type slotConfig struct {
	columns []string
	delayed bool
}

// WithColumns restricts the consumer to a subset of the producer's columns.
func WithColumns(columns ...string) SlotOption {
	return func(c *slotConfig) {
		c.columns = append([]string(nil), columns...)
	}
}

// Delayed marks the edge as delayed: the consumer sees the producer's
// changes and values as of the previous completed pass. Delayed edges are ignored by
// the dependency order, which is how cycles are allowed.
func Delayed() SlotOption {
	return func(c *slotConfig) {
		c.delayed = true
	}
}

func newSlot(producer *Core, output string, consumer *Core, input string, cfg slotConfig) *Slot {
	return &Slot{
		producer: producer,
		output:   output,
		consumer: consumer,
		input:    input,
		columns:  cfg.columns,
		delayed:  cfg.delayed,
		created:  table.NewIndexSet(),
		updated:  table.NewIndexSet(),
		deleted:  table.NewIndexSet(),
	}
}

// String returns "producer.output -> consumer.input".
func (s *Slot) String() string {
	return fmt.Sprintf("%s.%s -> %s.%s", s.producer.name, s.output, s.consumer.name, s.input)
}

// Producer returns the producing unit's name and output.
func (s *Slot) Producer() (unit, output string) { return s.producer.name, s.output }

// Consumer returns the consuming unit's name and input.
func (s *Slot) Consumer() (unit, input string) { return s.consumer.name, s.input }

// Columns returns the column hint, or nil when unrestricted.
func (s *Slot) Columns() []string { return append([]string(nil), s.columns...) }

// Delayed reports whether the slot is a delayed edge.
func (s *Slot) Delayed() bool { return s.delayed }

// LastAck returns the run number of the consumer's last acknowledgment.
func (s *Slot) LastAck() int64 { return s.lastAck }

// Err returns the type error found when binding the producer's store.
func (s *Slot) Err() error {
	s.fetch()
	return s.err
}

// ProducerDone reports whether the producer can no longer change what the
// slot exposes. A delayed slot is not done while the producer has changes
// that were not sealed yet.
func (s *Slot) ProducerDone() bool {
	if !s.producer.State().Done() {
		return false
	}
	if !s.delayed || s.closed {
		return true
	}
	v := s.producer.Output(s.output)
	return v == nil || (v == s.bound && v.Changes().Seq() <= s.sealed)
}

func (s *Slot) bind(v table.Tracked) {
	if s.cursor != nil {
		s.cursor.Close()
	}
	rebind := s.bound != nil
	s.bound = v
	s.frozen = nil
	s.view = nil
	s.err = nil
	if !s.consumerKind().Accepts(v.Kind()) {
		s.err = InputTypeError(s.consumer.name, s.input, s.consumerKind(), v.Kind())
	}
	s.cursor = v.Changes().Register()
	s.sealed = s.cursor.Pos()
	s.created = v.Live().Clone()
	s.updated.Clear()
	s.deleted.Clear()
	s.reset = rebind
}

func (s *Slot) consumerKind() table.Kind {
	if in := s.consumer.findInput(s.input); in != nil {
		return in.Kind
	}
	return table.KindAny
}

// fetch folds the producer's new log entries into the buffered delta sets.
func (s *Slot) fetch() {
	if s.closed {
		return
	}
	v := s.producer.Output(s.output)
	if v == nil {
		return
	}
	if v != s.bound {
		// Delayed slots pick up a new store only when sealed.
		if s.delayed {
			return
		}
		s.bind(v)
	}
	limit := int64(-1)
	if s.delayed {
		limit = s.sealed
	}
	for _, ch := range s.cursor.Pending(limit) {
		s.apply(ch)
		s.cursor.Advance(ch.Seq)
	}
}

func (s *Slot) apply(ch table.Change) {
	switch ch.Op {
	case table.OpCreate:
		s.created.Union(ch.Indices)
	case table.OpUpdate:
		fresh := ch.Indices.Clone()
		fresh.Difference(s.created)
		s.updated.Union(fresh)
	case table.OpDelete:
		// Indices still pending creation were never seen by the consumer.
		seen := ch.Indices.Clone()
		seen.Difference(s.created)
		s.created.Difference(ch.Indices)
		s.updated.Difference(seen)
		s.deleted.Union(seen)
	case table.OpReset:
		s.created.Clear()
		s.updated.Clear()
		s.deleted.Clear()
		s.reset = true
	}
}

// seal makes the producer's current changes visible on a delayed slot.
// The scheduler seals delayed slots at the end of every pass.
func (s *Slot) seal() {
	if !s.delayed || s.closed {
		return
	}
	v := s.producer.Output(s.output)
	if v == nil {
		return
	}
	if v != s.bound {
		s.bind(v)
	}
	s.sealed = v.Changes().Seq()
	s.freeze(v)
}

// freeze copies the producer's store unless the last copy is still current.
// Column additions are not logged, so the table width is compared as well.
func (s *Slot) freeze(v table.Tracked) {
	width := 0
	if t, ok := v.(*table.Table); ok {
		width = len(t.Columns())
	}
	if s.frozen != nil && s.frozenSeq == s.sealed && s.frozenWidth == width {
		return
	}
	s.frozen = table.Copy(v)
	s.frozenSeq = s.sealed
	s.frozenWidth = width
	s.view = nil
}

// store returns what the consumer reads: the producer's store, or on a
// delayed slot the copy taken when it was last sealed.
func (s *Slot) store() table.Tracked {
	if s.delayed {
		return s.frozen
	}
	return s.bound
}

// Deltas returns copies of the buffered delta sets. It does not change
// acknowledgment state, so repeated calls without consumption return the
// same sets.
func (s *Slot) Deltas() Delta {
	s.fetch()
	return Delta{
		Created: s.created.Clone(),
		Updated: s.updated.Clone(),
		Deleted: s.deleted.Clone(),
		Reset:   s.reset,
	}
}

// DeltasSince returns the deltas accumulated after run. The slot retains
// only the window since its last acknowledgment, so asking for an earlier
// run fails.
func (s *Slot) DeltasSince(run int64) (Delta, error) {
	if run < s.lastAck {
		return Delta{}, fmt.Errorf("slot %s: run %d precedes last acknowledgment %d", s, run, s.lastAck)
	}
	return s.Deltas(), nil
}

// HasDeltas reports whether anything is waiting for the consumer.
func (s *Slot) HasDeltas() bool {
	s.fetch()
	return s.reset || !s.created.Empty() || !s.updated.Empty() || !s.deleted.Empty()
}

// HasCreated reports whether created indices are waiting.
func (s *Slot) HasCreated() bool {
	s.fetch()
	return !s.created.Empty()
}

// Consume delivers up to n of the smallest pending created indices. Each
// index is delivered once; the rest stay buffered for later steps.
func (s *Slot) Consume(n int) *table.IndexSet {
	s.fetch()
	out := s.created.PopPrefix(n)
	s.consumer.delivered += out.Len()
	return out
}

// ConsumeStrict is Consume that reports a *PartialUpdateError when fewer
// than n indices were available. The delivered prefix is valid either way.
func (s *Slot) ConsumeStrict(n int) (*table.IndexSet, error) {
	out := s.Consume(n)
	if out.Len() < n {
		return out, &PartialUpdateError{Requested: n, Delivered: out.Len()}
	}
	return out, nil
}

// DrainUpdated delivers and clears the pending updated indices.
func (s *Slot) DrainUpdated() *table.IndexSet {
	s.fetch()
	out := s.updated
	s.updated = table.NewIndexSet()
	s.consumer.delivered += out.Len()
	return out
}

// DrainDeleted delivers and clears the pending deleted indices.
func (s *Slot) DrainDeleted() *table.IndexSet {
	s.fetch()
	out := s.deleted
	s.deleted = table.NewIndexSet()
	s.consumer.delivered += out.Len()
	return out
}

// NotifyReset discards the buffered deltas and marks everything live in the
// store the slot reads as created. On a delayed slot that is the sealed
// copy; later producer changes stay pending.
func (s *Slot) NotifyReset() {
	if s.closed {
		return
	}
	s.fetch()
	s.updated.Clear()
	s.deleted.Clear()
	s.reset = true
	st := s.store()
	if st == nil {
		s.created.Clear()
		return
	}
	s.created = st.Live().Clone()
	if s.delayed {
		s.cursor.Advance(s.sealed)
		return
	}
	s.cursor.Advance(st.Changes().Seq())
}

// ResetPending reports whether a reset has not been handled yet.
func (s *Slot) ResetPending() bool {
	s.fetch()
	return s.reset
}

// ClearReset marks the pending reset as handled.
func (s *Slot) ClearReset() { s.reset = false }

// Acknowledge records that the consumer has processed the slot up to run.
func (s *Slot) Acknowledge(run int64) {
	if run > s.lastAck {
		s.lastAck = run
	}
}

// Data returns the producer's store as seen by the slot, or nil before the
// producer has published one.
func (s *Slot) Data() table.Tracked {
	s.fetch()
	return s.store()
}

// Table returns the producer's store as a table.
func (s *Slot) Table() (*table.Table, error) {
	s.fetch()
	if s.err != nil {
		return nil, s.err
	}
	st := s.store()
	if st == nil {
		return nil, nil
	}
	t, ok := st.(*table.Table)
	if !ok {
		return nil, InputTypeError(s.consumer.name, s.input, table.KindTable, st.Kind())
	}
	return t, nil
}

// Dict returns the producer's store as a dict.
func (s *Slot) Dict() (*table.Dict, error) {
	s.fetch()
	if s.err != nil {
		return nil, s.err
	}
	st := s.store()
	if st == nil {
		return nil, nil
	}
	d, ok := st.(*table.Dict)
	if !ok {
		return nil, InputTypeError(s.consumer.name, s.input, table.KindDict, st.Kind())
	}
	return d, nil
}

// View returns the producer's table restricted to the slot's column hint.
// It returns nil before the producer has published a table.
func (s *Slot) View() (*table.View, error) {
	t, err := s.Table()
	if err != nil || t == nil {
		return nil, err
	}
	if s.view != nil {
		return s.view, nil
	}
	for _, c := range s.columns {
		if !t.HasColumn(c) {
			return nil, UnknownColumnError(s.consumer.name, s.input, c)
		}
	}
	v, err := t.View(s.columns...)
	if err != nil {
		return nil, err
	}
	s.view = v
	return v, nil
}

func (s *Slot) close() {
	if s.closed {
		return
	}
	s.closed = true
	if s.cursor != nil {
		s.cursor.Close()
	}
	s.frozen = nil
	s.view = nil
	s.created.Clear()
	s.updated.Clear()
	s.deleted.Clear()
	s.reset = false
}
