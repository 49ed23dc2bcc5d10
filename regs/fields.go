package regs

// MailboxCtrl is the per-direction mailbox control register.
type MailboxCtrl uint32

const (
	MailboxReady     MailboxCtrl = 1 << 0
	MailboxIRQEnable MailboxCtrl = 1 << 1
)

func (c MailboxCtrl) Ready() bool { return c&MailboxReady != 0 }
func (c MailboxCtrl) IRQEnabled() bool { return c&MailboxIRQEnable != 0 }

// PSCtrl is the MAC power-state control register: bits 0..2 hold the
// power state code, bit 4 the RF power enable and bit 5 register
// retention.
type PSCtrl uint32

const (
	psStateMask PSCtrl = 0x7
	psRFOn      PSCtrl = 1 << 4
	psRetained  PSCtrl = 1 << 5
)

// MakePSCtrl composes a PSCtrl value.
func MakePSCtrl(state uint8, rfOn, retained bool) PSCtrl {
	v := PSCtrl(state) & psStateMask
	if rfOn {
		v |= psRFOn
	}
	if retained {
		v |= psRetained
	}
	return v
}

func (p PSCtrl) State() uint8 { return uint8(p & psStateMask) }
func (p PSCtrl) RFOn() bool { return p&psRFOn != 0 }
func (p PSCtrl) Retained() bool { return p&psRetained != 0 }

// TxPause is the MAC transmit-pause register: bit 0 pauses every WL
// transmit queue, bits 8..15 carry the reason code for diagnostics.
type TxPause uint32

// MakeTxPause composes a TxPause value.
func MakeTxPause(paused bool, reason uint8) TxPause {
	v := TxPause(reason) << 8
	if paused {
		v |= 1
	}
	return v
}

func (t TxPause) Paused() bool { return t&1 != 0 }
func (t TxPause) Reason() uint8 { return uint8(t >> 8) }

// TxQueue is the read-only transmit queue status: bits 0..15 frames
// enqueued, bit 16 a frame in flight on the air.
type TxQueue uint32

const txInFlight TxQueue = 1 << 16

func MakeTxQueue(queued uint16, inFlight bool) TxQueue {
	v := TxQueue(queued)
	if inFlight {
		v |= txInFlight
	}
	return v
}

func (q TxQueue) Queued() uint16 { return uint16(q) }
func (q TxQueue) InFlight() bool { return q&txInFlight != 0 }
func (q TxQueue) Empty() bool { return q.Queued() == 0 && !q.InFlight() }

// CoexCtrl is the coexistence arbiter control register: bits 0..1 select
// the priority table, bits 4..5 the slot owner and bit 8 routes the shared
// antenna to BT.
type CoexCtrl uint32

const coexAntBT CoexCtrl = 1 << 8

func MakeCoexCtrl(table, owner uint8, antennaBT bool) CoexCtrl {
	v := CoexCtrl(table&0x3) | CoexCtrl(owner&0x3)<<4
	if antennaBT {
		v |= coexAntBT
	}
	return v
}

func (c CoexCtrl) Table() uint8 { return uint8(c & 0x3) }
func (c CoexCtrl) Owner() uint8 { return uint8(c>>4) & 0x3 }
func (c CoexCtrl) AntennaBT() bool { return c&coexAntBT != 0 }

// Scoreboard is the WL status word shared with the BT firmware.
type Scoreboard uint32

const (
	SBWLOn Scoreboard = 1 << iota
	SBActive
	SBScan
	SBConnected
	SBUnderLPS
	SBBusy
)

// With sets or clears flag.
func (s Scoreboard) With(flag Scoreboard, on bool) Scoreboard {
	if on {
		return s | flag
	}
	return s &^ flag
}

func (s Scoreboard) Has(flag Scoreboard) bool { return s&flag != 0 }

// RFStatus is the RF front-end status register.
type RFStatus uint32

const (
	RFStable  RFStatus = 1 << 0
	RFPowered RFStatus = 1 << 1
)

func (s RFStatus) Stable() bool { return s&RFStable != 0 }
func (s RFStatus) Powered() bool { return s&RFPowered != 0 }

// NullTx is the null-data transmit control word. Firmware sets start and
// the PM bit; the MAC clears start and sets done, plus acked when the AP
// acknowledged.
type NullTx uint32

const (
	NullStart NullTx = 1 << 0
	NullPM    NullTx = 1 << 1
	NullDone  NullTx = 1 << 8
	NullAcked NullTx = 1 << 9
)

func MakeNullTx(pm bool) NullTx {
	v := NullStart
	if pm {
		v |= NullPM
	}
	return v
}

func (n NullTx) Busy() bool  { return n&NullStart != 0 }
func (n NullTx) Done() bool  { return n&NullDone != 0 }
func (n NullTx) Acked() bool { return n&NullAcked != 0 }
