package notify

import "sync"

// Queue is a FIFO of pending changes.
//
// Producers call [Queue.Push] while holding their own lock and
// [Queue.Flush] after releasing it. Flush is re-entrant: if a flush is
// already running (on this goroutine, from inside a listener, or on another
// goroutine) the call returns immediately and the running flusher drains
// whatever was pushed in the meantime. Listeners therefore always observe
// changes in push order, one pass after the other.
type Queue struct {
	sink Notifier

	mu       sync.Mutex
	pending  []Change
	flushing bool
}

// NewQueue returns a [Queue] that delivers to sink. A nil sink discards.
func NewQueue(sink Notifier) *Queue {
	if sink == nil {
		sink = Discard
	}
	return &Queue{sink: sink}
}

// Push appends changes to the queue without delivering them.
func (q *Queue) Push(changes ...Change) {
	if len(changes) == 0 {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, changes...)
	q.mu.Unlock()
}

// Pending returns the number of undelivered changes.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Flush delivers pending changes until the queue is empty.
func (q *Queue) Flush() {
	q.mu.Lock()
	if q.flushing {
		q.mu.Unlock()
		return
	}
	q.flushing = true
	q.mu.Unlock()

	done := false
	defer func() {
		// A panicking listener must not wedge the queue.
		if !done {
			q.mu.Lock()
			q.flushing = false
			q.mu.Unlock()
		}
	}()

	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			// Cleared under the same lock as the emptiness check so a
			// concurrent Push+Flush can never be stranded.
			q.flushing = false
			q.pending = nil
			q.mu.Unlock()
			done = true
			return
		}
		c := q.pending[0]
		q.pending[0] = Change{}
		q.pending = q.pending[1:]
		q.mu.Unlock()

		q.sink.Notify(c)
	}
}
