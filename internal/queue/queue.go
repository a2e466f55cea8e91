// Package queue carries normalized sequencer events from the listener
// goroutine to the consumer.
//
// The queue is a bounded ring. When it is full the oldest event is dropped
// and the queue is flagged as overflowed; the consumer reacts to the flag by
// discarding what it drained and re-enumerating the hardware, since a full
// refresh subsumes every lost event.
package queue

import (
	"sync"

	"patchbay/internal/domain"
)

// DefaultCapacity is used when a queue is created with a non-positive capacity
const DefaultCapacity = 1024

// Stats reports queue counters
type Stats struct {
	Capacity  int    `json:"capacity"`
	Pending   int    `json:"pending"`
	Pushed    uint64 `json:"pushed"`
	Dropped   uint64 `json:"dropped"`
	Overflows uint64 `json:"overflows"`
}

// Queue is a bounded FIFO of events. It is safe for one producer and any
// number of consumers.
type Queue struct {
	mu       sync.Mutex
	buf      []domain.Event
	head     int
	size     int
	overflow bool

	pushed    uint64
	dropped   uint64
	overflows uint64

	ready chan struct{}
}

// New creates a queue holding at most capacity events
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		buf:   make([]domain.Event, capacity),
		ready: make(chan struct{}, 1),
	}
}

// Push appends an event. When the queue is full the oldest event is dropped
// and the overflow flag is raised. It reports whether nothing was dropped.
func (q *Queue) Push(ev domain.Event) bool {
	q.mu.Lock()
	ok := true
	if q.size == len(q.buf) {
		q.buf[q.head] = domain.Event{}
		q.head = (q.head + 1) % len(q.buf)
		q.size--
		q.dropped++
		q.raiseLocked()
		ok = false
	}
	q.buf[(q.head+q.size)%len(q.buf)] = ev
	q.size++
	q.pushed++
	q.mu.Unlock()

	q.signal()
	return ok
}

// MarkOverflow flags the queue as overflowed without dropping anything.
// The listener calls it when the kernel reports its own buffer overrun.
func (q *Queue) MarkOverflow() {
	q.mu.Lock()
	q.raiseLocked()
	q.mu.Unlock()

	q.signal()
}

func (q *Queue) raiseLocked() {
	if !q.overflow {
		q.overflows++
	}
	q.overflow = true
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Drain removes and returns every queued event in arrival order together
// with the overflow flag, then clears both.
func (q *Queue) Drain() ([]domain.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	events := make([]domain.Event, q.size)
	for i := range events {
		idx := (q.head + i) % len(q.buf)
		events[i] = q.buf[idx]
		q.buf[idx] = domain.Event{}
	}
	overflow := q.overflow

	q.head = 0
	q.size = 0
	q.overflow = false
	return events, overflow
}

// Reset discards queued events and the overflow flag
func (q *Queue) Reset() {
	q.Drain()
}

// Len returns the number of queued events
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Ready is signalled after every push or overflow. A single pending signal
// may stand for many events; receivers should Drain.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// Stats returns a snapshot of the queue counters
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Capacity:  len(q.buf),
		Pending:   q.size,
		Pushed:    q.pushed,
		Dropped:   q.dropped,
		Overflows: q.overflows,
	}
}
