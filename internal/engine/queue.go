package engine

import (
	"sync"

	"github.com/roach88/tandem/internal/ir"
)

// EventType distinguishes the events processed by the loop.
type EventType int

const (
	// EventTypeCommand runs a closure on the loop goroutine.
	EventTypeCommand EventType = iota + 1
	// EventTypeChange carries a push event from the subscription.
	EventTypeChange
	// EventTypeDropped reports that a subscription ended.
	EventTypeDropped
)

// Event is one unit of work for the single-writer loop.
//
// Epoch tags change and drop events with the bind they belong to; the loop
// drops events from any other epoch.
type Event[R any] struct {
	Type    EventType
	Epoch   int64
	Command func()
	Done    chan struct{}
	Change  *ir.ChangeEvent[R]
	Err     error
}

// eventQueue is an unbounded FIFO safe for concurrent producers.
//
// Push handlers enqueue from gateway goroutines and must never block, hence
// no capacity limit. The signal channel lets Run wait with a context.
type eventQueue[R any] struct {
	mu     sync.Mutex
	events []Event[R]
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue[R any]() *eventQueue[R] {
	return &eventQueue[R]{
		events: make([]Event[R], 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends an event. Returns false once the queue is closed.
func (q *eventQueue[R]) Enqueue(e Event[R]) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, e)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue pops the front event without blocking.
func (q *eventQueue[R]) TryDequeue() (Event[R], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event[R]{}, false
	}
	e := q.events[0]
	// Clear the slot so the backing array does not pin the payload.
	q.events[0] = Event[R]{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait returns a channel signalled when events may be available. It is
// closed when the queue closes.
func (q *eventQueue[R]) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued events.
func (q *eventQueue[R]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close stops accepting events and wakes the waiter.
func (q *eventQueue[R]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Closed reports whether Close was called.
func (q *eventQueue[R]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
