package table

// Op identifies the kind of mutation recorded in a change log entry.
type Op int

const (
	// OpCreate records newly appended indices.
	OpCreate Op = iota + 1
	// OpUpdate records in-place value changes.
	OpUpdate
	// OpDelete records removed indices.
	OpDelete
	// OpReset records that the store was emptied and is being rebuilt.
	OpReset
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Change is one entry of a change log.
type Change struct {
	Seq     int64
	Op      Op
	Indices *IndexSet
}

// Changes is the append-only mutation log of a store.
//
// Entries are stamped with a store-local sequence number. Each registered
// Cursor remembers the last sequence number it folded; Compact discards the
// prefix of the log that every cursor has passed.
type Changes struct {
	log     []Change
	seq     int64
	readers map[int]*Cursor
	nextID  int
}

func newChanges() *Changes {
	return &Changes{readers: make(map[int]*Cursor)}
}

// Seq returns the sequence number of the most recent entry.
func (c *Changes) Seq() int64 {
	return c.seq
}

// Len returns the number of retained entries.
func (c *Changes) Len() int {
	return len(c.log)
}

// Readers returns the number of registered cursors.
func (c *Changes) Readers() int {
	return len(c.readers)
}

func (c *Changes) record(op Op, indices *IndexSet) {
	if op != OpReset && indices.Empty() {
		return
	}
	c.seq++
	c.log = append(c.log, Change{Seq: c.seq, Op: op, Indices: indices.Clone()})
}

// Register creates a cursor positioned at the current end of the log.
// Callers that need the existing content seed it from the store's live set.
func (c *Changes) Register() *Cursor {
	cur := &Cursor{changes: c, id: c.nextID, pos: c.seq}
	c.readers[cur.id] = cur
	c.nextID++
	return cur
}

// Compact drops entries folded by every registered cursor and returns the
// number of entries dropped. With no readers the whole log is dropped.
func (c *Changes) Compact() int {
	low := c.seq
	for _, r := range c.readers {
		if r.pos < low {
			low = r.pos
		}
	}
	n := 0
	for n < len(c.log) && c.log[n].Seq <= low {
		n++
	}
	if n == 0 {
		return 0
	}
	c.log[0] = Change{}
	c.log = append(c.log[:0:0], c.log[n:]...)
	return n
}

// Cursor is a reader's position in a Changes log.
type Cursor struct {
	changes *Changes
	id      int
	pos     int64
	closed  bool
}

// Pos returns the sequence number of the last folded entry.
func (cur *Cursor) Pos() int64 {
	return cur.pos
}

// Pending returns the entries after the cursor position up to and including
// seq limit. A negative limit means no upper bound. Pending does not move the
// cursor.
func (cur *Cursor) Pending(limit int64) []Change {
	if cur.closed {
		return nil
	}
	var out []Change
	for _, ch := range cur.changes.log {
		if ch.Seq <= cur.pos {
			continue
		}
		if limit >= 0 && ch.Seq > limit {
			break
		}
		out = append(out, ch)
	}
	return out
}

// Advance moves the cursor to seq. Moving backwards is ignored.
func (cur *Cursor) Advance(seq int64) {
	if seq > cur.pos {
		cur.pos = seq
	}
}

// Close unregisters the cursor so it no longer holds back compaction.
func (cur *Cursor) Close() {
	if cur.closed {
		return
	}
	cur.closed = true
	delete(cur.changes.readers, cur.id)
}
