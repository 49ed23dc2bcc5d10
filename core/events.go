package core

// EventQueueSize is the capacity of the interrupt-to-main-loop queue.
const EventQueueSize = 32

// Event is a unit of deferred work posted by an interrupt handler and
// consumed by the cooperative main loop.
type Event struct {
	Kind uint8
	Arg  uint32
	Data [8]byte
}

// EventQueue is a fixed ring shared between interrupt handlers (producers)
// and the main loop (single consumer).
type EventQueue struct {
	ring     [EventQueueSize]Event
	head     uint8 // next pop
	tail     uint8 // next push
	count    uint8
	overflow uint32
}

// Post appends ev. It returns false and counts an overflow when the ring
// is full; the event is dropped, never overwritten.
func (q *EventQueue) Post(ev Event) bool {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	if q.count == EventQueueSize {
		q.overflow++
		return false
	}
	q.ring[q.tail] = ev
	q.tail = (q.tail + 1) % EventQueueSize
	q.count++
	return true
}

// Pop removes the oldest event.
func (q *EventQueue) Pop() (Event, bool) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	if q.count == 0 {
		return Event{}, false
	}
	ev := q.ring[q.head]
	q.ring[q.head] = Event{}
	q.head = (q.head + 1) % EventQueueSize
	q.count--
	return ev, true
}

// Len returns the number of queued events.
func (q *EventQueue) Len() int {
	return int(q.count)
}

// Overflows returns the number of dropped events since the last Reset.
func (q *EventQueue) Overflows() uint32 {
	return q.overflow
}

// Reset empties the queue.
func (q *EventQueue) Reset() {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	*q = EventQueue{}
}
