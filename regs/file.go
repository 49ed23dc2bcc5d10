package regs

import (
	"encoding/binary"
	"errors"
)

// Register offsets inside their windows.
const (
	// MAC
	RegPSCtrl   = 0x000
	RegTxPause  = 0x004
	RegCoexCtrl = 0x008
	RegTxQueue  = 0x00C
	RegTSF      = 0x010
	RegNullTx   = 0x014
	RegBcnStat  = 0x018 // bit 0: beacon received since last clear
	RegBcnTSF   = 0x01C // RX timestamp of that beacon

	// BB
	RegLNAConstraint = 0x000
	RegPSDMode       = 0x004

	// RF-A / RF-B
	RegRFPower  = 0x000
	RegRFStatus = 0x004

	// Mailbox: one 8-byte data slot and a control word per direction,
	// then the two scoreboard words.
	RegMboxWLData   = 0x00
	RegMboxWLCtrl   = 0x08
	RegMboxBTData   = 0x10
	RegMboxBTCtrl   = 0x18
	RegScoreboardWL = 0x20
	RegScoreboardBT = 0x24

	reportSlotSize = 8
	reportSlots    = 16
)

var le = binary.LittleEndian

// ErrNullBusy is returned by SendNull while the previous frame is in
// flight or its status has not been consumed.
var ErrNullBusy = errors.New("regs: null-data engine busy")

// Direction selects one half of the mailbox.
type Direction uint8

const (
	WLToBT Direction = iota
	BTToWL
)

func (d Direction) String() string {
	switch d {
	case WLToBT:
		return "wl->bt"
	case BTToWL:
		return "bt->wl"
	}
	return "dir?"
}

// File is the typed view of the register windows over a Bus.
type File struct {
	bus    Bus
	layout Layout
}

// NewFile binds a layout to a bus.
func NewFile(bus Bus, layout Layout) *File {
	return &File{bus: bus, layout: layout}
}

// Layout returns the window map in use.
func (f *File) Layout() Layout { return f.layout }

// Bus returns the underlying bus.
func (f *File) Bus() Bus { return f.bus }

func (f *File) read(w Window, off uint32) uint32 {
	return f.bus.Read32(w.Addr(off))
}

func (f *File) write(w Window, off, val uint32) {
	f.bus.Write32(w.Addr(off), val)
}

func (f *File) PSCtrl() PSCtrl { return PSCtrl(f.read(f.layout.MAC, RegPSCtrl)) }

func (f *File) SetPSCtrl(v PSCtrl) { f.write(f.layout.MAC, RegPSCtrl, uint32(v)) }

func (f *File) TxPause() TxPause { return TxPause(f.read(f.layout.MAC, RegTxPause)) }

func (f *File) SetTxPause(v TxPause) { f.write(f.layout.MAC, RegTxPause, uint32(v)) }

func (f *File) CoexCtrl() CoexCtrl { return CoexCtrl(f.read(f.layout.MAC, RegCoexCtrl)) }

func (f *File) SetCoexCtrl(v CoexCtrl) { f.write(f.layout.MAC, RegCoexCtrl, uint32(v)) }

// TxQueue reads the transmit queue status.
func (f *File) TxQueue() TxQueue { return TxQueue(f.read(f.layout.MAC, RegTxQueue)) }

// TSF reads the low word of the timing synchronisation function counter.
func (f *File) TSF() uint32 { return f.read(f.layout.MAC, RegTSF) }

func (f *File) SetLNAConstraint(v uint8) { f.write(f.layout.BB, RegLNAConstraint, uint32(v)) }

func (f *File) LNAConstraint() uint8 { return uint8(f.read(f.layout.BB, RegLNAConstraint)) }

func (f *File) SetPSDMode(v uint8) { f.write(f.layout.BB, RegPSDMode, uint32(v)) }

func (f *File) PSDMode() uint8 { return uint8(f.read(f.layout.BB, RegPSDMode)) }

// SendNull queues the null-data frame with the PM bit set to pm.
func (f *File) SendNull(pm bool) error {
	if n := f.NullTx(); n.Busy() || n.Done() {
		return ErrNullBusy
	}
	f.write(f.layout.MAC, RegNullTx, uint32(MakeNullTx(pm)))
	return nil
}

// NullTx reads the null-data control word.
func (f *File) NullTx() NullTx { return NullTx(f.read(f.layout.MAC, RegNullTx)) }

// AckNullTx clears the done bit after the status was consumed.
func (f *File) AckNullTx() { f.write(f.layout.MAC, RegNullTx, 0) }

// BeaconRx returns the timestamp of a beacon received since the last
// call, and clears the latch.
func (f *File) BeaconRx() (uint32, bool) {
	if f.read(f.layout.MAC, RegBcnStat)&1 == 0 {
		return 0, false
	}
	ts := f.read(f.layout.MAC, RegBcnTSF)
	f.write(f.layout.MAC, RegBcnStat, 0)
	return ts, true
}

// SetRFPower switches both RF paths.
func (f *File) SetRFPower(on bool) {
	var v uint32
	if on {
		v = 1
	}
	f.write(f.layout.RFA, RegRFPower, v)
	f.write(f.layout.RFB, RegRFPower, v)
}

// RFStatus reports the status of path A, which gates path B.
func (f *File) RFStatus() RFStatus { return RFStatus(f.read(f.layout.RFA, RegRFStatus)) }

func mboxOffsets(d Direction) (data, ctrl uint32) {
	if d == WLToBT {
		return RegMboxWLData, RegMboxWLCtrl
	}
	return RegMboxBTData, RegMboxBTCtrl
}

// MailboxData reads the 8-byte slot of direction d.
func (f *File) MailboxData(d Direction) (p [8]byte) {
	data, _ := mboxOffsets(d)
	lo := f.read(f.layout.Mailbox, data)
	hi := f.read(f.layout.Mailbox, data+4)
	le.PutUint32(p[0:4], lo)
	le.PutUint32(p[4:8], hi)
	return p
}

// SetMailboxData writes the 8-byte slot of direction d.
func (f *File) SetMailboxData(d Direction, p [8]byte) {
	data, _ := mboxOffsets(d)
	f.write(f.layout.Mailbox, data, le.Uint32(p[0:4]))
	f.write(f.layout.Mailbox, data+4, le.Uint32(p[4:8]))
}

func (f *File) MailboxCtrl(d Direction) MailboxCtrl {
	_, ctrl := mboxOffsets(d)
	return MailboxCtrl(f.read(f.layout.Mailbox, ctrl))
}

func (f *File) SetMailboxCtrl(d Direction, v MailboxCtrl) {
	_, ctrl := mboxOffsets(d)
	f.write(f.layout.Mailbox, ctrl, uint32(v))
}

// Scoreboard reads the status word published by side d.
func (f *File) Scoreboard(d Direction) Scoreboard {
	if d == WLToBT {
		return Scoreboard(f.read(f.layout.Mailbox, RegScoreboardWL))
	}
	return Scoreboard(f.read(f.layout.Mailbox, RegScoreboardBT))
}

// SetScoreboard publishes the WL status word.
func (f *File) SetScoreboard(v Scoreboard) {
	f.write(f.layout.Mailbox, RegScoreboardWL, uint32(v))
}

// WriteReport mirrors a C2H record into slot n of the report buffer.
func (f *File) WriteReport(n uint8, rec [8]byte) {
	off := uint32(n%reportSlots) * reportSlotSize
	f.write(f.layout.ReportBuf, off, le.Uint32(rec[0:4]))
	f.write(f.layout.ReportBuf, off+4, le.Uint32(rec[4:8]))
}

// ReadReport reads back slot n of the report buffer.
func (f *File) ReadReport(n uint8) (rec [8]byte) {
	off := uint32(n%reportSlots) * reportSlotSize
	le.PutUint32(rec[0:4], f.read(f.layout.ReportBuf, off))
	le.PutUint32(rec[4:8], f.read(f.layout.ReportBuf, off+4))
	return rec
}

// ReportSlots is the number of records the report buffer holds.
const ReportSlots = reportSlots
