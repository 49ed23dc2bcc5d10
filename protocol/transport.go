package protocol

import (
	"sync/atomic"

	"wlfw/hostif"
)

const (
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64
	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1
	MessageValueSync   = 0x7E
	MessageDest        = 0x10
)

// RecordHandler receives one H2C record.
type RecordHandler func(rec hostif.Frame)

// Transport is the firmware end of the host link. It parses host messages,
// hands each record to the handler and answers with ACK/NAK.
type Transport struct {
	isSynchronized uint32 // atomic bool
	nextSequence   uint32 // expected host sequence, also used for replies

	output        OutputBuffer
	handler       RecordHandler
	resetCallback func()
	flushCallback func()

	badMessages uint32
}

// NewTransport creates a synchronized transport expecting sequence 0x10.
func NewTransport(output OutputBuffer, handler RecordHandler) *Transport {
	return &Transport{
		isSynchronized: 1,
		nextSequence:   MessageDest,
		output:         output,
		handler:        handler,
	}
}

// Receive consumes every complete message in input.
func (t *Transport) Receive(input InputBuffer) {
	data := input.Data()

	for len(data) > 0 {
		if !t.getSynchronized() {
			syncPos := -1
			for i, b := range data {
				if b == MessageValueSync {
					syncPos = i
					break
				}
			}

			if syncPos >= 0 {
				data = data[syncPos+1:]
				t.setSynchronized(true)
				t.encodeAckNak()
			} else {
				data = nil
			}
			continue
		}

		if data[0] == MessageValueSync {
			data = data[1:]
			continue
		}
		if len(data) < MessageLengthMin {
			break
		}

		msgLen := int(data[MessagePositionLen])
		if msgLen < MessageLengthMin || msgLen > MessageLengthMax {
			t.desync()
			continue
		}
		seq := data[MessagePositionSeq]
		if seq&^MessageSeqMask != MessageDest {
			t.desync()
			continue
		}
		if len(data) < msgLen {
			break
		}
		if data[msgLen-MessageTrailerSync] != MessageValueSync {
			t.desync()
			continue
		}
		frameCRC := uint16(data[msgLen-MessageTrailerCRC])<<8 |
			uint16(data[msgLen-MessageTrailerCRC+1])
		if frameCRC != CRC16(data[:msgLen-MessageTrailerSize]) {
			t.desync()
			continue
		}

		payload := data[MessageHeaderSize : msgLen-MessageTrailerSize]
		data = data[msgLen:]

		// Sequence back at 0x10 means the host restarted.
		expectedSeq := uint8(atomic.LoadUint32(&t.nextSequence))
		if seq == MessageDest && expectedSeq != MessageDest {
			atomic.StoreUint32(&t.nextSequence, MessageDest)
			expectedSeq = MessageDest
			if t.resetCallback != nil {
				t.resetCallback()
			}
		}

		// A repeated or skipped sequence is not processed; the reply
		// still carries the expected one and acts as a NAK.
		if seq == expectedSeq {
			if len(payload)%RecordSize != 0 {
				atomic.AddUint32(&t.badMessages, 1)
			} else {
				nextSeq := ((seq + 1) & MessageSeqMask) | MessageDest
				atomic.StoreUint32(&t.nextSequence, uint32(nextSeq))
				t.parseRecords(payload)
			}
		}
		t.encodeAckNak()
	}

	consumed := input.Available() - len(data)
	if consumed > 0 {
		input.Pop(consumed)
	}
}

func (t *Transport) desync() {
	atomic.AddUint32(&t.badMessages, 1)
	t.setSynchronized(false)
}

// parseRecords hands every record to the handler. A panicking handler
// drops the link back to resync.
func (t *Transport) parseRecords(payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			t.setSynchronized(false)
		}
	}()

	for len(payload) >= RecordSize {
		var rec hostif.Frame
		copy(rec[:], payload[:RecordSize])
		payload = payload[RecordSize:]
		if t.handler != nil {
			t.handler(rec)
		}
	}
}

// encodeAckNak sends the expected sequence and flushes immediately; the
// host waits for it before sending the next message.
func (t *Transport) encodeAckNak() {
	ns := uint8(atomic.LoadUint32(&t.nextSequence))
	crc := CRC16([]byte{MessageLengthMin, ns})

	t.output.Output([]byte{
		MessageLengthMin,
		ns,
		uint8(crc >> 8),
		uint8(crc),
		MessageValueSync,
	})

	if t.flushCallback != nil {
		t.flushCallback()
	}
}

// EncodeFrame writes one message whose payload is produced by frameData.
func (t *Transport) EncodeFrame(frameData func(output OutputBuffer)) {
	cursor := t.output.CurPosition()

	seq := uint8(atomic.LoadUint32(&t.nextSequence))
	t.output.Output([]byte{0, seq})

	frameData(t.output)

	changed := len(t.output.DataSince(cursor))
	t.output.Update(cursor, uint8(changed+MessageTrailerSize))

	crc := CRC16(t.output.DataSince(cursor))
	t.output.Output([]byte{
		uint8(crc >> 8),
		uint8(crc),
		MessageValueSync,
	})
}

// SendRecords writes C2H records, MaxRecords per message.
func (t *Transport) SendRecords(recs ...hostif.Frame) {
	for len(recs) > 0 {
		n := min(len(recs), MaxRecords)
		batch := recs[:n]
		t.EncodeFrame(func(out OutputBuffer) { putRecords(out, batch) })
		recs = recs[n:]
	}
}

// BadMessages counts messages dropped for framing, CRC or alignment.
func (t *Transport) BadMessages() uint32 {
	return atomic.LoadUint32(&t.badMessages)
}

// Reset restores the power-on link state.
func (t *Transport) Reset() {
	atomic.StoreUint32(&t.isSynchronized, 1)
	atomic.StoreUint32(&t.nextSequence, MessageDest)

	if t.resetCallback != nil {
		t.resetCallback()
	}
}

// SetResetCallback is called when the host restarts its sequence.
func (t *Transport) SetResetCallback(callback func()) {
	t.resetCallback = callback
}

// SetFlushCallback pushes buffered output to the UART.
func (t *Transport) SetFlushCallback(callback func()) {
	t.flushCallback = callback
}

func (t *Transport) getSynchronized() bool {
	return atomic.LoadUint32(&t.isSynchronized) != 0
}

func (t *Transport) setSynchronized(val bool) {
	if val {
		atomic.StoreUint32(&t.isSynchronized, 1)
	} else {
		atomic.StoreUint32(&t.isSynchronized, 0)
	}
}
