package firmware

import (
	"testing"

	"github.com/stretchr/testify/require"

	"wlfw/hostif"
	"wlfw/protocol"
)

func linkMessage(seq byte, recs ...hostif.Frame) []byte {
	msg := []byte{0, seq}
	for _, r := range recs {
		msg = append(msg, r[:]...)
	}
	msg[0] = byte(len(msg) + protocol.MessageTrailerSize)
	crc := protocol.CRC16(msg)
	return append(msg, byte(crc>>8), byte(crc), protocol.MessageValueSync)
}

type wire struct{ data []byte }

func (w *wire) write(b []byte) (int, error) {
	w.data = append(w.data, b...)
	return len(b), nil
}

// messages splits captured output into (seq, records) pairs.
func (w *wire) messages(t *testing.T) (seqs []byte, recs [][]hostif.Frame) {
	t.Helper()
	data := w.data
	for len(data) > 0 {
		n := int(data[0])
		require.GreaterOrEqual(t, len(data), n)
		require.Equal(t, byte(protocol.MessageValueSync), data[n-1])
		payload := data[protocol.MessageHeaderSize : n-protocol.MessageTrailerSize]
		require.Zero(t, len(payload)%protocol.RecordSize)
		var rs []hostif.Frame
		for len(payload) > 0 {
			var f hostif.Frame
			copy(f[:], payload)
			rs = append(rs, f)
			payload = payload[protocol.RecordSize:]
		}
		seqs = append(seqs, data[1])
		recs = append(recs, rs)
		data = data[n:]
	}
	w.data = nil
	return seqs, recs
}

func TestLinkCarriesCommandsAndReports(t *testing.T) {
	r := newRig(t)
	w := &wire{}
	l := NewLink(r.ctx, w.write)

	leak := hostif.LookupSpec(hostif.OpLeakAP).MustEncode(0)
	psd := hostif.LookupSpec(hostif.OpPSDMode).MustEncode(3)
	l.Feed(linkMessage(protocol.MessageDest, leak, psd))
	l.Poll()

	seqs, recs := w.messages(t)
	require.Equal(t, []byte{protocol.MessageDest | 1}, seqs)
	require.Empty(t, recs[0])

	r.ctx.Step()
	l.Poll()
	_, recs = w.messages(t)
	require.Len(t, recs, 1)
	require.Equal(t, []hostif.Frame{
		hostif.Report(hostif.RptModeEcho, uint32(hostif.OpLeakAP), hostif.StatusOK),
		hostif.Report(hostif.RptModeEcho, uint32(hostif.OpPSDMode), hostif.StatusOK),
	}, recs[0])
	require.Equal(t, uint8(3), r.file.PSDMode())
}

func TestLinkBatchesReports(t *testing.T) {
	r := newRig(t)
	w := &wire{}
	l := NewLink(r.ctx, w.write)

	l.Feed(linkMessage(protocol.MessageDest,
		hostif.LookupSpec(hostif.OpCounters).MustEncode(uint32(hostif.CountersRead), 0xff)))
	l.Poll()
	r.ctx.Step()
	w.data = nil
	l.Flush()

	_, recs := w.messages(t)
	total := 0
	for _, rs := range recs {
		require.LessOrEqual(t, len(rs), protocol.MaxRecords)
		total += len(rs)
	}
	// One report per counter plus the echo.
	require.Equal(t, 15, total)
}

func TestLinkHostRestartAnnounces(t *testing.T) {
	r := newRig(t)
	w := &wire{}
	l := NewLink(r.ctx, w.write)

	nop := hostif.LookupSpec(hostif.OpLeakAP).MustEncode(1)
	l.Feed(linkMessage(protocol.MessageDest, nop))
	l.Feed(linkMessage(protocol.MessageDest|1, nop))
	l.Poll()
	r.ctx.Step()
	l.Poll()
	w.data = nil

	l.Feed(linkMessage(protocol.MessageDest, nop))
	l.Poll()
	_, recs := w.messages(t)

	var ops []hostif.Opcode
	for _, rs := range recs {
		for _, f := range rs {
			ops = append(ops, f.Op())
		}
	}
	require.Contains(t, ops, hostif.RptPatchStatus)
}

func TestLinkFeedOverflow(t *testing.T) {
	r := newRig(t)
	l := NewLink(r.ctx, (&wire{}).write)
	n := l.Feed(make([]byte, 300))
	require.Equal(t, 256, n)
	rx, tx, _ := l.Stats()
	require.Equal(t, uint32(44), rx)
	require.Zero(t, tx)
}
