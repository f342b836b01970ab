package engine

import "sync"

// Edit is a graph mutation applied inside a transaction at a pass boundary.
type Edit func(tx *Tx) error

// pendingEdit pairs an edit with the channel that receives its outcome.
type pendingEdit struct {
	edit Edit
	done chan error // nil for fire-and-forget edits
}

// editQueue is a thread-safe FIFO of graph edits submitted from outside the
// run loop.
//
// The queue is unbounded. The signal channel (buffered, size 1) coalesces
// wakeups so the idle scheduler can wait with select alongside ctx.Done().
type editQueue struct {
	mu     sync.Mutex
	edits  []pendingEdit
	signal chan struct{}
}

func newEditQueue() *editQueue {
	return &editQueue{
		edits:  make([]pendingEdit, 0, 8),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an edit to the back of the queue.
func (q *editQueue) Enqueue(e pendingEdit) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.edits = append(q.edits, e)
	q.notifyLocked()
}

// Drain removes and returns every queued edit in submission order.
func (q *editQueue) Drain() []pendingEdit {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.edits) == 0 {
		return nil
	}
	out := q.edits
	q.edits = make([]pendingEdit, 0, 8)
	return out
}

// Notify wakes a waiter without queuing anything.
func (q *editQueue) Notify() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.notifyLocked()
}

func (q *editQueue) notifyLocked() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Wait returns a channel that signals when edits may be available.
func (q *editQueue) Wait() <-chan struct{} {
	return q.signal
}
