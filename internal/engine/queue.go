package engine

import (
	"encoding/json"
	"sync"

	"github.com/roach88/retrosync/internal/ir"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventTypeAction is an action to reduce into state as-is.
	EventTypeAction EventType = iota + 1
	// EventTypePresenceState is a full presence_state payload.
	EventTypePresenceState
	// EventTypePresenceDiff is a presence_diff payload.
	EventTypePresenceDiff
)

func (t EventType) String() string {
	switch t {
	case EventTypeAction:
		return "action"
	case EventTypePresenceState:
		return "presence_state"
	case EventTypePresenceDiff:
		return "presence_diff"
	default:
		return "unknown"
	}
}

// Event is one unit of work for the dispatch loop.
type Event struct {
	Type    EventType
	Action  *ir.Action
	Payload json.RawMessage
}

// ActionEvent wraps an action.
func ActionEvent(a ir.Action) Event {
	return Event{Type: EventTypeAction, Action: &a}
}

// PresenceStateEvent wraps a presence_state payload.
func PresenceStateEvent(payload json.RawMessage) Event {
	return Event{Type: EventTypePresenceState, Payload: payload}
}

// PresenceDiffEvent wraps a presence_diff payload.
func PresenceDiffEvent(payload json.RawMessage) Event {
	return Event{Type: EventTypePresenceDiff, Payload: payload}
}

// eventQueue is an unbounded, thread-safe FIFO.
//
// Transport handlers enqueue from the socket's receive goroutine and must
// never block, hence no capacity limit. The signal channel lets Run wait
// on the queue and a context at the same time.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends an event. Returns false once the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	// A buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue pops the front event without blocking.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}

	e := q.events[0]
	// Release the payload for GC; the backing array outlives the slice head.
	q.events[0] = Event{}

	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that fires when events may be available.
// It is closed when the queue closes.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Closed reports whether Close has been called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close rejects further events and wakes any waiter.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
