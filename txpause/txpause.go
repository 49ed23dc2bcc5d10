// Package txpause keeps the transmit-pause ledger: at most one reason
// pauses WL transmission at a time, and only the subsystem that set a
// reason may clear it. Reasons set while another holds the pause wait
// and take over, in reason order, when the holder clears.
package txpause

import (
	"errors"

	"wlfw/core"
	"wlfw/regs"
)

var (
	// ErrPauseHeld is returned when another reason already holds the
	// pause. The request is kept and becomes active once the holder clears.
	ErrPauseHeld = errors.New("txpause: held by another reason")
	// ErrNotOwner is returned when a subsystem names a reason it does not own.
	ErrNotOwner = errors.New("txpause: reason not owned by caller")
)

// Owner is a subsystem allowed to pause transmission.
type Owner uint8

const (
	OwnerPower Owner = iota
	OwnerCoex
	OwnerHost
)

func (o Owner) String() string {
	switch o {
	case OwnerPower:
		return "power"
	case OwnerCoex:
		return "coex"
	case OwnerHost:
		return "host"
	}
	return "owner?"
}

// Reason is the closed set of pause causes.
type Reason uint8

const (
	ReasonNone         Reason = iota
	ReasonNullAnnounce        // waiting for the doze announce ack
	ReasonScan                // off-channel scan
	ReasonBTSlot              // BT owns the front-end
	ReasonCalibration         // BT calibration in progress
	ReasonHostOverride        // forced by an H2C command

	NumReasons
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonNullAnnounce:
		return "null_announce"
	case ReasonScan:
		return "scan"
	case ReasonBTSlot:
		return "bt_slot"
	case ReasonCalibration:
		return "calibration"
	case ReasonHostOverride:
		return "host_override"
	}
	return "reason?"
}

// Owner returns the only subsystem that may set or clear r.
func (r Reason) Owner() Owner {
	switch r {
	case ReasonNullAnnounce, ReasonScan:
		return OwnerPower
	case ReasonBTSlot, ReasonCalibration:
		return OwnerCoex
	case ReasonHostOverride:
		return OwnerHost
	}
	panic("txpause: no owner for " + r.String())
}

// Ledger mirrors the TX pause register.
type Ledger struct {
	regs   *regs.File
	diag   *core.Diagnostics
	clock  core.Clock
	active Reason
	wanted uint8 // bit per reason set and not yet cleared, active included
}

// New returns an empty ledger. Call Reset before use to sync the register.
func New(file *regs.File, diag *core.Diagnostics, clock core.Clock) *Ledger {
	return &Ledger{regs: file, diag: diag, clock: clock}
}

// Reset releases any pause.
func (l *Ledger) Reset() {
	l.active = ReasonNone
	l.wanted = 0
	l.regs.SetTxPause(regs.MakeTxPause(false, 0))
}

// Active returns the reason holding the pause.
func (l *Ledger) Active() (Reason, bool) {
	return l.active, l.active != ReasonNone
}

// Paused reports whether transmission is paused for any reason.
func (l *Ledger) Paused() bool { return l.active != ReasonNone }

// Pending reports whether r was set and waits behind the active reason.
func (l *Ledger) Pending(r Reason) bool {
	return r != l.active && l.wanted&bit(r) != 0
}

func bit(r Reason) uint8 { return 1 << r }

func valid(owner Owner, r Reason) bool {
	return r != ReasonNone && r < NumReasons && r.Owner() == owner
}

// Set pauses transmission for r on behalf of owner. Setting the reason
// that is already active is a no-op. While another reason holds the
// pause r is recorded and ErrPauseHeld returned; TX stays paused either
// way.
func (l *Ledger) Set(owner Owner, r Reason) error {
	if !valid(owner, r) {
		return ErrNotOwner
	}
	l.wanted |= bit(r)
	switch l.active {
	case r:
		return nil
	case ReasonNone:
	default:
		return ErrPauseHeld
	}
	l.activate(owner, r)
	return nil
}

func (l *Ledger) activate(owner Owner, r Reason) {
	l.active = r
	l.regs.SetTxPause(regs.MakeTxPause(true, uint8(r)))
	l.diag.Trace(core.TraceTxPause, uint8(owner), l.clock.Now(), uint32(r), 1)
}

// Clear withdraws r. When r held the pause the next waiting reason takes
// it over, otherwise transmission resumes. Clearing a reason that was
// never set is a no-op while nothing is paused and refused otherwise.
func (l *Ledger) Clear(owner Owner, r Reason) error {
	if !valid(owner, r) {
		return ErrNotOwner
	}
	if l.active != r {
		if l.wanted&bit(r) != 0 {
			l.wanted &^= bit(r)
			return nil
		}
		if l.active == ReasonNone {
			return nil
		}
		return ErrNotOwner
	}
	l.wanted &^= bit(r)
	for next := ReasonNone + 1; next < NumReasons; next++ {
		if l.wanted&bit(next) != 0 {
			l.activate(next.Owner(), next)
			return nil
		}
	}
	l.active = ReasonNone
	l.regs.SetTxPause(regs.MakeTxPause(false, uint8(r)))
	l.diag.Trace(core.TraceTxPause, uint8(owner), l.clock.Now(), uint32(r), 0)
	return nil
}

// Release withdraws every reason owner set, active or waiting.
func (l *Ledger) Release(owner Owner) {
	for r := ReasonNone + 1; r < NumReasons; r++ {
		if r.Owner() == owner && l.wanted&bit(r) != 0 {
			_ = l.Clear(owner, r)
		}
	}
}

// Verify checks the register against the ledger and raises a fault if
// they disagree.
func (l *Ledger) Verify() bool {
	reg := l.regs.TxPause()
	want := l.active != ReasonNone
	if reg.Paused() == want && (!want || reg.Reason() == uint8(l.active)) {
		return true
	}
	l.diag.Fault(core.FaultLedgerCorrupt, l.clock.Now(), uint32(reg))
	return false
}
