package protocol

// InputBuffer is the receive side the transport parses from.
type InputBuffer interface {
	Data() []byte
	Available() int
	Pop(n int)
}

// OutputBuffer is the send side the transport encodes into. Update
// patches the length byte once the payload is known.
type OutputBuffer interface {
	Output(data []byte)
	CurPosition() int
	Update(pos int, val byte)
	DataSince(pos int) []byte
}

// SliceInputBuffer reads from a fixed slice (host side and tests).
type SliceInputBuffer struct {
	data []byte
}

func NewSliceInputBuffer(data []byte) *SliceInputBuffer {
	return &SliceInputBuffer{data: data}
}

func (s *SliceInputBuffer) Data() []byte   { return s.data }
func (s *SliceInputBuffer) Available() int { return len(s.data) }

func (s *SliceInputBuffer) Pop(n int) {
	s.data = s.data[min(n, len(s.data)):]
}

// ScratchOutput collects outgoing messages until the UART takes them.
// Output past the end is dropped and remembered.
type ScratchOutput struct {
	buf      [MessageMax]byte
	pos      int
	overflow bool
}

func NewScratchOutput() *ScratchOutput {
	return &ScratchOutput{}
}

func (s *ScratchOutput) Output(data []byte) {
	n := copy(s.buf[s.pos:], data)
	s.pos += n
	if n < len(data) {
		s.overflow = true
	}
}

func (s *ScratchOutput) CurPosition() int { return s.pos }

func (s *ScratchOutput) Update(pos int, val byte) {
	if pos < s.pos {
		s.buf[pos] = val
	}
}

func (s *ScratchOutput) DataSince(pos int) []byte {
	if pos > s.pos {
		return nil
	}
	return s.buf[pos:s.pos]
}

// Result returns everything written since Reset.
func (s *ScratchOutput) Result() []byte { return s.buf[:s.pos] }

// Overflowed reports whether any output was dropped since Reset.
func (s *ScratchOutput) Overflowed() bool { return s.overflow }

func (s *ScratchOutput) Reset() {
	s.pos = 0
	s.overflow = false
}

// RxBuffer holds received UART bytes. Data stays contiguous: Pop moves
// the unread tail to the front instead of wrapping, so parsing never
// copies or allocates.
type RxBuffer struct {
	buf []byte
	n   int
}

// NewRxBuffer allocates the buffer once, at start-up.
func NewRxBuffer(capacity int) *RxBuffer {
	return &RxBuffer{buf: make([]byte, capacity)}
}

// Write appends as much of data as fits and returns the count.
func (r *RxBuffer) Write(data []byte) int {
	n := copy(r.buf[r.n:], data)
	r.n += n
	return n
}

func (r *RxBuffer) Data() []byte   { return r.buf[:r.n] }
func (r *RxBuffer) Available() int { return r.n }
func (r *RxBuffer) Free() int      { return len(r.buf) - r.n }
func (r *RxBuffer) Empty() bool    { return r.n == 0 }

func (r *RxBuffer) Pop(n int) {
	n = min(n, r.n)
	copy(r.buf, r.buf[n:r.n])
	r.n -= n
}

func (r *RxBuffer) Reset() { r.n = 0 }
