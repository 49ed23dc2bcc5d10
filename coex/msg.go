package coex

import (
	"encoding/binary"

	"wlfw/mailbox"
)

// MsgID is byte 0 of a mailbox frame.
type MsgID uint8

// WL to BT.
const (
	MsgSlot      MsgID = 0x01 // owner, length
	MsgLoopback  MsgID = 0x02 // seq, pattern
	MsgPageScan  MsgID = 0x03 // page-scan interval
	MsgTableSync MsgID = 0x04 // table, mode
)

// BT to WL.
const (
	MsgBTEarlyRelease MsgID = 0x81 // used length
	MsgBTRetry        MsgID = 0x82 // retry count of the last BT slot
	MsgBTCalibration  MsgID = 0x83 // start flag
	MsgBTRoleChange   MsgID = 0x84 // start flag
	MsgBTPan          MsgID = 0x85 // on flag
	MsgLoopbackReply  MsgID = 0x86 // seq, pattern
)

var le = binary.LittleEndian

func slotFrame(o Owner, length uint32) (f mailbox.Frame) {
	f[0] = byte(MsgSlot)
	f[1] = byte(o)
	le.PutUint32(f[2:6], length)
	return f
}

func loopbackFrame(id MsgID, seq uint8, pattern uint32) (f mailbox.Frame) {
	f[0] = byte(id)
	f[1] = seq
	le.PutUint32(f[2:6], pattern)
	return f
}

// EarlyReleaseFrame is sent by BT when it finishes its slot early.
func EarlyReleaseFrame(used uint32) (f mailbox.Frame) {
	f[0] = byte(MsgBTEarlyRelease)
	le.PutUint32(f[2:6], used)
	return f
}

// RetryFrame reports the retries of the BT slot that just ended.
func RetryFrame(retries uint8) (f mailbox.Frame) {
	f[0] = byte(MsgBTRetry)
	f[1] = retries
	return f
}

// FlagFrame carries a BT start/stop style notification.
func FlagFrame(id MsgID, on bool) (f mailbox.Frame) {
	f[0] = byte(id)
	if on {
		f[1] = 1
	}
	return f
}

// LoopbackReply is the BT echo of a loopback frame.
func LoopbackReply(req mailbox.Frame) mailbox.Frame {
	return loopbackFrame(MsgLoopbackReply, req[1], le.Uint32(req[2:6]))
}
