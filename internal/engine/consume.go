package engine

import "github.com/roach88/progflow/internal/table"

// Batch is what one bounded consumption call delivers.
type Batch struct {
	Created *table.IndexSet
	Updated *table.IndexSet
	Deleted *table.IndexSet
	// Reset is set when the unit's derived state was discarded before this
	// batch; Created then starts from the beginning of the producer's store.
	Reset bool
}

// Len returns the number of indices delivered.
func (b Batch) Len() int {
	return b.Created.Len() + b.Updated.Len() + b.Deleted.Len()
}

// Consumer is the bounded-consumption helper unit steps delegate to. It
// handles resets, drains updates and deletes, and takes a prefix of the
// created set.
type Consumer struct {
	unit          Unit
	input         string
	resetOnChange bool
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// ResetOnChange makes any update or delete trigger a full reset. Units whose
// derived state cannot be corrected incrementally, such as a running
// maximum, use it.
func ResetOnChange() ConsumerOption {
	return func(c *Consumer) {
		c.resetOnChange = true
	}
}

// NewConsumer creates a consumer for one input of u.
func NewConsumer(u Unit, input string, opts ...ConsumerOption) *Consumer {
	c := &Consumer{unit: u, input: input}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Slot returns the slot currently bound to the input, or nil.
func (c *Consumer) Slot() *Slot {
	return c.unit.Core().Input(c.input)
}

// Next delivers up to n created indices plus every pending update and
// delete. When a reset is pending the unit's Reset method runs first.
func (c *Consumer) Next(n int) (Batch, error) {
	s := c.Slot()
	if s == nil {
		return Batch{}, UnboundInputError(c.unit.Core().Name(), c.input)
	}
	if err := s.Err(); err != nil {
		return Batch{}, err
	}

	if c.resetOnChange && (!s.updated.Empty() || !s.deleted.Empty()) {
		s.NotifyReset()
	}

	var b Batch
	if s.ResetPending() {
		if r, ok := c.unit.(Resetter); ok {
			r.Reset()
		}
		s.ClearReset()
		b.Reset = true
	}
	b.Updated = s.DrainUpdated()
	b.Deleted = s.DrainDeleted()
	b.Created = s.Consume(n)
	return b, nil
}

// NextState returns the state the unit should report after consuming.
func (c *Consumer) NextState() State {
	return NextState(c.unit)
}

// NextState derives a unit's next state from its bound inputs: Ready while
// any input has pending deltas, Zombie once every producer is done and
// drained, Blocked otherwise. A unit without bound inputs is Ready.
func NextState(u Unit) State {
	slots := u.Core().boundSlots()
	if len(slots) == 0 {
		return StateReady
	}
	done := true
	for _, s := range slots {
		if s.HasDeltas() {
			return StateReady
		}
		if !s.ProducerDone() {
			done = false
		}
	}
	if done {
		return StateZombie
	}
	return StateBlocked
}
