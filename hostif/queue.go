package hostif

// ReportQueueSize is the number of C2H reports held for the host link.
const ReportQueueSize = 16

// ReportQueue is a fixed FIFO of C2H reports. When it is full the newest
// report is dropped and counted; queued reports are never overwritten.
type ReportQueue struct {
	ring  [ReportQueueSize]Frame
	head  uint8
	count uint8
	drops uint32
	seq   uint8 // report buffer slot of the next push
}

// Push appends f and returns the report buffer slot it was given.
func (q *ReportQueue) Push(f Frame) (uint8, bool) {
	if q.count == ReportQueueSize {
		q.drops++
		return 0, false
	}
	q.ring[(q.head+q.count)%ReportQueueSize] = f
	q.count++
	slot := q.seq
	q.seq++
	return slot, true
}

// Pop removes the oldest report.
func (q *ReportQueue) Pop() (Frame, bool) {
	if q.count == 0 {
		return Frame{}, false
	}
	f := q.ring[q.head]
	q.head = (q.head + 1) % ReportQueueSize
	q.count--
	return f, true
}

// Len returns the number of queued reports.
func (q *ReportQueue) Len() int { return int(q.count) }

// Drops returns the number of reports lost to a full queue.
func (q *ReportQueue) Drops() uint32 { return q.drops }

// Reset empties the queue.
func (q *ReportQueue) Reset() { *q = ReportQueue{} }
