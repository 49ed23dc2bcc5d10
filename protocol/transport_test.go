package protocol

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wlfw/hostif"
)

func message(seq byte, payload []byte) []byte {
	msg := []byte{byte(MessageLengthMin + len(payload)), seq}
	msg = append(msg, payload...)
	crc := CRC16(msg)
	return append(msg, byte(crc>>8), byte(crc), MessageValueSync)
}

func recordBytes(recs ...hostif.Frame) []byte {
	var out []byte
	for _, r := range recs {
		out = append(out, r[:]...)
	}
	return out
}

type fwEnd struct {
	out    *ScratchOutput
	tr     *Transport
	got    []hostif.Frame
	resets int
}

func newFwEnd() *fwEnd {
	e := &fwEnd{out: NewScratchOutput()}
	e.tr = NewTransport(e.out, func(rec hostif.Frame) { e.got = append(e.got, rec) })
	e.tr.SetResetCallback(func() { e.resets++ })
	return e
}

func (e *fwEnd) feed(b []byte) []byte {
	e.out.Reset()
	e.tr.Receive(NewSliceInputBuffer(b))
	return append([]byte(nil), e.out.Result()...)
}

var (
	leakOn = hostif.LookupSpec(hostif.OpLeakAP).MustEncode(1)
	psOn   = hostif.LookupSpec(hostif.OpPowerMode).MustEncode(1)
	echoOK = hostif.Report(hostif.RptModeEcho, uint32(hostif.OpLeakAP), hostif.StatusOK)
)

func TestTransportDeliversRecords(t *testing.T) {
	e := newFwEnd()
	out := e.feed(message(MessageDest, recordBytes(leakOn, psOn)))

	require.Equal(t, []hostif.Frame{leakOn, psOn}, e.got)
	require.Equal(t, message(MessageDest|1, nil), out)
}

func TestTransportNaksUnexpectedSequence(t *testing.T) {
	e := newFwEnd()
	out := e.feed(message(MessageDest|2, recordBytes(leakOn)))
	require.Empty(t, e.got)
	require.Equal(t, message(MessageDest, nil), out)

	// A repeat of an already accepted message is not run twice.
	e.feed(message(MessageDest, recordBytes(leakOn)))
	e.feed(message(MessageDest|1, recordBytes(psOn)))
	out = e.feed(message(MessageDest|1, recordBytes(psOn)))
	require.Len(t, e.got, 2)
	require.Zero(t, e.resets)
	require.Equal(t, message(MessageDest|2, nil), out)
}

func TestTransportHostRestart(t *testing.T) {
	e := newFwEnd()
	e.feed(message(MessageDest, recordBytes(leakOn)))
	e.feed(message(MessageDest|1, recordBytes(psOn)))
	require.Zero(t, e.resets)

	out := e.feed(message(MessageDest, recordBytes(psOn)))
	require.Equal(t, 1, e.resets)
	require.Len(t, e.got, 3)
	require.Equal(t, message(MessageDest|1, nil), out)
}

func TestTransportRejectsPartialRecord(t *testing.T) {
	e := newFwEnd()
	out := e.feed(message(MessageDest, []byte{1, 2, 3, 4, 5}))
	require.Empty(t, e.got)
	require.Equal(t, uint32(1), e.tr.BadMessages())
	require.Equal(t, message(MessageDest, nil), out)
}

func TestTransportResyncsAfterCorruption(t *testing.T) {
	e := newFwEnd()
	bad := message(MessageDest, recordBytes(leakOn))
	bad[3] ^= 0xff
	in := append(bad, message(MessageDest, recordBytes(psOn))...)

	out := e.feed(in)
	require.Equal(t, []hostif.Frame{psOn}, e.got)
	require.Equal(t, uint32(1), e.tr.BadMessages())
	// Resync ACK, then the ACK for the good message.
	require.Equal(t, append(message(MessageDest, nil), message(MessageDest|1, nil)...), out)
}

func TestTransportWaitsForCompleteMessage(t *testing.T) {
	e := newFwEnd()
	msg := message(MessageDest, recordBytes(leakOn))
	fifo := NewRxBuffer(128)

	fifo.Write(msg[:6])
	e.tr.Receive(fifo)
	require.Empty(t, e.got)
	require.Equal(t, 6, fifo.Available())

	fifo.Write(msg[6:])
	e.tr.Receive(fifo)
	require.Equal(t, []hostif.Frame{leakOn}, e.got)
	require.True(t, fifo.Empty())
}

func TestSendRecordsSplitsMessages(t *testing.T) {
	e := newFwEnd()
	recs := make([]hostif.Frame, MaxRecords+2)
	for i := range recs {
		recs[i] = hostif.Report(hostif.RptCounter, uint32(i), uint32(i*10))
	}
	e.tr.SendRecords(recs...)

	want := append(message(MessageDest, recordBytes(recs[:MaxRecords]...)),
		message(MessageDest, recordBytes(recs[MaxRecords:]...))...)
	require.Equal(t, want, e.out.Result())
}

// mcu runs a firmware transport on one end of a pipe.
type mcu struct {
	conn net.Conn
	out  *ScratchOutput
	tr   *Transport
	in   *RxBuffer
	got  chan hostif.Frame
}

func newMCU(conn net.Conn) *mcu {
	m := &mcu{
		conn: conn,
		out:  NewScratchOutput(),
		in:   NewRxBuffer(256),
		got:  make(chan hostif.Frame, 16),
	}
	m.tr = NewTransport(m.out, func(rec hostif.Frame) {
		m.got <- rec
		m.tr.SendRecords(hostif.Report(hostif.RptModeEcho, uint32(rec.Op()), hostif.StatusOK))
	})
	m.tr.SetFlushCallback(m.flush)
	return m
}

func (m *mcu) flush() {
	if m.out.CurPosition() > 0 {
		m.conn.Write(m.out.Result())
		m.out.Reset()
	}
}

func (m *mcu) run() {
	buf := make([]byte, 64)
	for {
		n, err := m.conn.Read(buf)
		if err != nil {
			return
		}
		m.in.Write(buf[:n])
		m.tr.Receive(m.in)
	}
}

func TestHostTransportRoundTrip(t *testing.T) {
	hostEnd, fwConn := net.Pipe()
	m := newMCU(fwConn)
	go m.run()
	defer fwConn.Close()

	host := NewHostTransport(hostEnd)
	defer host.Close()

	seen := make(chan hostif.Frame, 4)
	host.SetResponseHandler(func(rec hostif.Frame) { seen <- rec })

	require.NoError(t, host.SendRecords(leakOn))
	require.Equal(t, leakOn, <-m.got)
	require.Equal(t, uint8(MessageDest|1), host.CurrentSequence())

	resp, err := host.ReceiveResponse(time.Second)
	require.NoError(t, err)
	recs, err := resp.Records()
	require.NoError(t, err)
	require.Equal(t, []hostif.Frame{echoOK}, recs)
	require.Equal(t, echoOK, <-seen)

	require.NoError(t, host.SendRecords(psOn))
	require.Equal(t, psOn, <-m.got)
	require.Equal(t, uint8(MessageDest|2), host.CurrentSequence())
}

func TestHostTransportLimits(t *testing.T) {
	hostEnd, other := net.Pipe()
	defer other.Close()
	host := NewHostTransport(hostEnd)
	defer host.Close()

	require.ErrorIs(t, host.SendRecords(), ErrNoRecords)
	require.ErrorIs(t, host.SendRecords(make([]hostif.Frame, MaxRecords+1)...), ErrTooMany)
}

func TestHostTransportAckTimeout(t *testing.T) {
	hostEnd, other := net.Pipe()
	defer other.Close()
	go func() {
		buf := make([]byte, 64)
		for {
			if _, err := other.Read(buf); err != nil {
				return
			}
		}
	}()
	host := NewHostTransport(hostEnd)

	err := host.SendRecordsWithTimeout(20*time.Millisecond, leakOn)
	require.Error(t, err)
	require.Equal(t, uint8(MessageDest), host.CurrentSequence())
	require.NoError(t, host.Close())

	_, err = host.ReceiveResponse(time.Second)
	require.ErrorIs(t, err, ErrStopped)
}
