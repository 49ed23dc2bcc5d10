package firmware

import (
	"wlfw/hostif"
	"wlfw/protocol"
)

// Link carries H2C records from the host UART into the context and sends
// queued C2H reports back.
type Link struct {
	ctx   *Context
	in    *protocol.RxBuffer
	out   *protocol.ScratchOutput
	tr    *protocol.Transport
	write func([]byte) (int, error)

	rxDrops  uint32
	txErrors uint32
	batch    [protocol.MaxRecords]hostif.Frame
}

// NewLink binds ctx to a UART writer.
func NewLink(ctx *Context, write func([]byte) (int, error)) *Link {
	l := &Link{
		ctx:   ctx,
		in:    protocol.NewRxBuffer(256),
		out:   protocol.NewScratchOutput(),
		write: write,
	}
	l.tr = protocol.NewTransport(l.out, ctx.HostCommand)
	l.tr.SetFlushCallback(l.writeOut)
	l.tr.SetResetCallback(func() {
		l.out.Reset()
		ctx.Announce()
	})
	return l
}

// Feed queues received UART bytes. Bytes that do not fit are dropped and
// the host resends after its ACK timeout.
func (l *Link) Feed(b []byte) int {
	n := l.in.Write(b)
	if n < len(b) {
		l.rxDrops += uint32(len(b) - n)
	}
	return n
}

// Poll parses pending input and sends pending reports. Call it from the
// main loop around Step.
func (l *Link) Poll() {
	if l.in.Available() > 0 {
		l.tr.Receive(l.in)
	}
	l.Flush()
}

// Flush sends every queued report.
func (l *Link) Flush() {
	for {
		n := 0
		for n < len(l.batch) {
			f, ok := l.ctx.PopReport()
			if !ok {
				break
			}
			l.batch[n] = f
			n++
		}
		if n == 0 {
			break
		}
		l.tr.SendRecords(l.batch[:n]...)
		l.writeOut()
	}
}

func (l *Link) writeOut() {
	data := l.out.Result()
	if len(data) == 0 {
		return
	}
	if _, err := l.write(data); err != nil {
		l.txErrors++
	}
	l.out.Reset()
}

// Reset drops buffered bytes in both directions and restarts the sequence.
func (l *Link) Reset() {
	l.in.Reset()
	l.out.Reset()
	l.tr.Reset()
}

// Stats returns dropped input bytes, failed writes and rejected messages.
func (l *Link) Stats() (rxDrops, txErrors, badMessages uint32) {
	return l.rxDrops, l.txErrors, l.tr.BadMessages()
}
