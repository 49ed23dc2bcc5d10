package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"wlfw/hostif"
)

// DefaultAckTimeout bounds the wait for the firmware's ACK.
const DefaultAckTimeout = 2 * time.Second

var (
	ErrNak     = errors.New("protocol: message refused")
	ErrStopped = errors.New("protocol: transport stopped")
)

// ResponseHandler is called from the read loop for every C2H record.
type ResponseHandler func(rec hostif.Frame)

// HostTransport is the host end of the link: it sends H2C records, waits
// for the ACK and collects C2H reports.
type HostTransport struct {
	port io.ReadWriteCloser

	currentSeq     uint32 // 0x10-0x1F
	isSynchronized uint32

	inputBuffer  *RxBuffer
	outputBuffer *bytes.Buffer

	ackChan      chan *Message
	responseChan chan *Message

	handlerMu       sync.RWMutex
	responseHandler ResponseHandler

	writeMutex sync.Mutex
	readMutex  sync.Mutex
	sendMutex  sync.Mutex

	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
}

// Message is one parsed link message.
type Message struct {
	Length   uint8
	Sequence uint8
	Payload  []byte
	CRC      uint16
}

// Records splits the payload into C2H records.
func (m *Message) Records() ([]hostif.Frame, error) {
	return splitRecords(m.Payload)
}

// NewHostTransport starts the read loop on port.
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	t := &HostTransport{
		port:         port,
		currentSeq:   MessageDest,
		inputBuffer:  NewRxBuffer(512),
		outputBuffer: bytes.NewBuffer(make([]byte, 0, MessageLengthMax)),
		ackChan:      make(chan *Message, 1),
		responseChan: make(chan *Message, 16),
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
	atomic.StoreUint32(&t.isSynchronized, 1)

	go t.readLoop()

	return t
}

// SendRecords sends H2C records in one message and waits for the ACK.
func (t *HostTransport) SendRecords(recs ...hostif.Frame) error {
	return t.SendRecordsWithTimeout(DefaultAckTimeout, recs...)
}

// SendRecordsWithTimeout is SendRecords with a custom ACK timeout.
func (t *HostTransport) SendRecordsWithTimeout(timeout time.Duration, recs ...hostif.Frame) error {
	t.sendMutex.Lock()
	defer t.sendMutex.Unlock()

	msg, err := t.buildMessage(recs)
	if err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}
	for len(t.ackChan) > 0 {
		<-t.ackChan
	}
	if err := t.writeMessage(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := t.waitForAck(timeout); err != nil {
		return fmt.Errorf("seq 0x%02x: %w", msg[MessagePositionSeq], err)
	}
	return nil
}

// buildMessage frames recs with the current sequence.
func (t *HostTransport) buildMessage(recs []hostif.Frame) ([]byte, error) {
	if len(recs) == 0 {
		return nil, ErrNoRecords
	}
	if len(recs) > MaxRecords {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrTooMany, len(recs), MaxRecords)
	}

	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()

	t.outputBuffer.Reset()
	seq := uint8(atomic.LoadUint32(&t.currentSeq))
	t.outputBuffer.Write([]byte{0, seq})

	scratch := NewScratchOutput()
	putRecords(scratch, recs)
	payload := scratch.Result()
	t.outputBuffer.Write(payload)

	data := t.outputBuffer.Bytes()
	data[MessagePositionLen] = uint8(MessageHeaderSize + len(payload) + MessageTrailerSize)

	crc := CRC16(data[:MessageHeaderSize+len(payload)])
	t.outputBuffer.Write([]byte{uint8(crc >> 8), uint8(crc), MessageValueSync})

	msg := make([]byte, t.outputBuffer.Len())
	copy(msg, t.outputBuffer.Bytes())
	return msg, nil
}

func (t *HostTransport) writeMessage(msg []byte) error {
	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()

	n, err := t.port.Write(msg)
	if err != nil {
		return err
	}
	if n != len(msg) {
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(msg))
	}
	return nil
}

// waitForAck expects the firmware to name the next sequence. Anything
// else is a NAK; the firmware's sequence is adopted so a resend lines up.
func (t *HostTransport) waitForAck(timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ack := <-t.ackChan:
		cur := uint8(atomic.LoadUint32(&t.currentSeq))
		nextSeq := ((cur + 1) & MessageSeqMask) | MessageDest
		if ack.Sequence != nextSeq {
			if ack.Sequence&^MessageSeqMask == MessageDest {
				atomic.StoreUint32(&t.currentSeq, uint32(ack.Sequence))
			}
			return fmt.Errorf("%w: firmware expects 0x%02x", ErrNak, ack.Sequence)
		}
		atomic.StoreUint32(&t.currentSeq, uint32(nextSeq))
		return nil

	case <-timer.C:
		return fmt.Errorf("ACK timeout after %v", timeout)

	case <-t.stopChan:
		return ErrStopped
	}
}

// ReceiveResponse returns the next report message.
func (t *HostTransport) ReceiveResponse(timeout time.Duration) (*Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-t.responseChan:
		return resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("response timeout after %v", timeout)
	case <-t.stopChan:
		return nil, ErrStopped
	}
}

// SetResponseHandler installs a callback run for every C2H record.
func (t *HostTransport) SetResponseHandler(handler ResponseHandler) {
	t.handlerMu.Lock()
	t.responseHandler = handler
	t.handlerMu.Unlock()
}

func (t *HostTransport) readLoop() {
	defer close(t.doneChan)

	buffer := make([]byte, 256)
	for {
		select {
		case <-t.stopChan:
			return
		default:
		}

		n, err := t.port.Read(buffer)
		if n > 0 {
			t.processMessages(buffer[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func (t *HostTransport) processMessages(in []byte) {
	t.readMutex.Lock()
	defer t.readMutex.Unlock()

	t.inputBuffer.Write(in)
	data := t.inputBuffer.Data()

	for len(data) > 0 {
		if !t.getSynchronized() {
			syncPos := bytes.IndexByte(data, MessageValueSync)
			if syncPos >= 0 {
				data = data[syncPos+1:]
				t.setSynchronized(true)
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
			t.setSynchronized(false)
			continue
		}
		if len(data) < msgLen {
			break
		}
		if data[msgLen-MessageTrailerSync] != MessageValueSync {
			t.setSynchronized(false)
			continue
		}
		frameCRC := uint16(data[msgLen-MessageTrailerCRC])<<8 |
			uint16(data[msgLen-MessageTrailerCRC+1])
		if frameCRC != CRC16(data[:msgLen-MessageTrailerSize]) {
			t.setSynchronized(false)
			continue
		}

		payload := make([]byte, msgLen-MessageHeaderSize-MessageTrailerSize)
		copy(payload, data[MessageHeaderSize:msgLen-MessageTrailerSize])
		msg := &Message{
			Length:   data[MessagePositionLen],
			Sequence: data[MessagePositionSeq],
			Payload:  payload,
			CRC:      frameCRC,
		}
		data = data[msgLen:]

		t.dispatchMessage(msg)
	}

	consumed := t.inputBuffer.Available() - len(data)
	if consumed > 0 {
		t.inputBuffer.Pop(consumed)
	}
}

// dispatchMessage routes ACKs and reports. When the report channel is
// full the oldest message is dropped.
func (t *HostTransport) dispatchMessage(msg *Message) {
	if len(msg.Payload) == 0 {
		select {
		case t.ackChan <- msg:
		default:
		}
		return
	}

	t.handlerMu.RLock()
	h := t.responseHandler
	t.handlerMu.RUnlock()
	if h != nil {
		if recs, err := msg.Records(); err == nil {
			for _, rec := range recs {
				h(rec)
			}
		}
	}

	for {
		select {
		case t.responseChan <- msg:
			return
		default:
		}
		select {
		case <-t.responseChan:
		default:
		}
	}
}

// Close stops the read loop and closes the port.
func (t *HostTransport) Close() error {
	var err error
	t.stopOnce.Do(func() {
		close(t.stopChan)
		if t.port != nil {
			err = t.port.Close()
		}
		<-t.doneChan
	})
	return err
}

// Reset drops pending input and restarts the sequence at 0x10, which the
// firmware treats as a host restart.
func (t *HostTransport) Reset() {
	atomic.StoreUint32(&t.isSynchronized, 1)
	atomic.StoreUint32(&t.currentSeq, MessageDest)

	for len(t.ackChan) > 0 {
		<-t.ackChan
	}
	for len(t.responseChan) > 0 {
		<-t.responseChan
	}

	t.readMutex.Lock()
	if t.inputBuffer.Available() > 0 {
		t.inputBuffer.Pop(t.inputBuffer.Available())
	}
	t.readMutex.Unlock()
}

func (t *HostTransport) getSynchronized() bool {
	return atomic.LoadUint32(&t.isSynchronized) != 0
}

func (t *HostTransport) setSynchronized(val bool) {
	if val {
		atomic.StoreUint32(&t.isSynchronized, 1)
	} else {
		atomic.StoreUint32(&t.isSynchronized, 0)
	}
}

// CurrentSequence returns the sequence of the next message.
func (t *HostTransport) CurrentSequence() uint8 {
	return uint8(atomic.LoadUint32(&t.currentSeq))
}
