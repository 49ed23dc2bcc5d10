// Package protocol frames H2C commands and C2H reports on the host UART.
//
// A message is <len><seq><records><crc16 hi><crc16 lo><0x7e>. The payload
// holds zero or more fixed hostif records; an empty payload is an ACK, or
// a NAK when its sequence is not the one the sender expects next.
package protocol

import (
	"errors"

	"wlfw/hostif"
)

const (
	MessageMax = 256 // scratch capacity, several messages

	// RecordSize is the width of one H2C/C2H record on the wire.
	RecordSize = hostif.FrameSize

	// MaxRecords is how many records fit in one message.
	MaxRecords = (MessageLengthMax - MessageLengthMin) / RecordSize

	// Message sequence masks
	MessageSeqMask  = 0x0F
	MessageSeqShift = 4
)

var (
	ErrRecordAlign = errors.New("protocol: payload is not a whole number of records")
	ErrTooMany     = errors.New("protocol: too many records for one message")
	ErrNoRecords   = errors.New("protocol: empty message")
)

// putRecords appends recs to out.
func putRecords(out OutputBuffer, recs []hostif.Frame) {
	for i := range recs {
		out.Output(recs[i][:])
	}
}

// splitRecords cuts a message payload into records.
func splitRecords(payload []byte) ([]hostif.Frame, error) {
	if len(payload)%RecordSize != 0 {
		return nil, ErrRecordAlign
	}
	recs := make([]hostif.Frame, len(payload)/RecordSize)
	for i := range recs {
		copy(recs[i][:], payload[i*RecordSize:])
	}
	return recs, nil
}
