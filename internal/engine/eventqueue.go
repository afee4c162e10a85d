package engine

import (
	"fmt"

	"github.com/efreitasn/perpmatch/internal/domain"
)

// OverflowPolicy decides what a push into a full event queue does.
type OverflowPolicy uint8

const (
	// OverflowReject fails the operation that produced the events.
	OverflowReject OverflowPolicy = iota
	// OverflowEvict drops the oldest unconsumed event. Consumers see the
	// drop as a gap between their cursor and the queue head.
	OverflowEvict
)

func (p OverflowPolicy) String() string {
	if p == OverflowEvict {
		return "evict"
	}
	return "reject"
}

// ParseOverflowPolicy parses "reject" or "evict".
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch s {
	case "reject", "":
		return OverflowReject, nil
	case "evict":
		return OverflowEvict, nil
	}
	return 0, fmt.Errorf("unknown overflow policy %q, must be one of: reject, evict", s)
}

// EventQueue is a fixed-capacity ring of events. Every pushed event gets
// the next sequence number; head is the sequence of the oldest retained
// event and next the sequence the next push will get, so the queue holds
// exactly the events in [head, next).
type EventQueue struct {
	buf    []domain.Event
	head   uint64
	next   uint64
	policy OverflowPolicy
}

// NewEventQueue creates an empty queue.
func NewEventQueue(capacity int, policy OverflowPolicy) *EventQueue {
	return &EventQueue{
		buf:    make([]domain.Event, capacity),
		policy: policy,
	}
}

// Len returns the number of retained events.
func (q *EventQueue) Len() int {
	return int(q.next - q.head)
}

// Cap returns the ring size.
func (q *EventQueue) Cap() int {
	return len(q.buf)
}

// Free returns how many events can be pushed without overflowing.
func (q *EventQueue) Free() int {
	return q.Cap() - q.Len()
}

// Head returns the sequence of the oldest retained event.
func (q *EventQueue) Head() uint64 {
	return q.head
}

// Next returns the sequence the next pushed event will receive.
func (q *EventQueue) Next() uint64 {
	return q.next
}

// Policy returns the overflow policy.
func (q *EventQueue) Policy() OverflowPolicy {
	return q.policy
}

// CanAccept reports whether n events can be pushed under the queue's
// policy without failing.
func (q *EventQueue) CanAccept(n int) bool {
	if q.policy == OverflowEvict {
		return q.Cap() > 0
	}
	return n <= q.Free()
}

// Push appends an event, assigning its sequence number.
func (q *EventQueue) Push(e domain.Event) (uint64, error) {
	if q.Cap() == 0 {
		return 0, domain.ErrEventQueueFull
	}
	if q.Free() == 0 {
		if q.policy == OverflowReject {
			return 0, domain.ErrEventQueueFull
		}
		q.buf[q.head%uint64(q.Cap())] = domain.Event{}
		q.head++
	}
	seq := q.next
	e.Seq = seq
	q.buf[seq%uint64(q.Cap())] = e
	q.next++
	return seq, nil
}

// Read returns up to max events starting at sequence from, together with
// the sequence to read from next. If events before the head were evicted
// the retained events are still returned along with a *domain.GapError.
// Reading does not consume; call Ack.
func (q *EventQueue) Read(from uint64, max int) ([]domain.Event, uint64, error) {
	var gap error
	if from < q.head {
		gap = &domain.GapError{From: from, Head: q.head}
		from = q.head
	}
	if from > q.next {
		from = q.next
	}
	n := int(q.next - from)
	if max >= 0 && n > max {
		n = max
	}
	events := make([]domain.Event, 0, n)
	for seq := from; seq < from+uint64(n); seq++ {
		events = append(events, q.buf[seq%uint64(q.Cap())])
	}
	return events, from + uint64(n), gap
}

// Ack releases every event with a sequence below upTo.
func (q *EventQueue) Ack(upTo uint64) int {
	if upTo > q.next {
		upTo = q.next
	}
	released := 0
	for q.head < upTo {
		q.buf[q.head%uint64(q.Cap())] = domain.Event{}
		q.head++
		released++
	}
	return released
}
