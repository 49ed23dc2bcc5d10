// Package mailbox implements the fixed-width, interrupt-signalled channel
// between the WL and BT firmware. Each direction holds one 8-byte frame
// and a ready bit; the sender may post again only after the receiver has
// drained the previous frame. There is no queue and no retry.
package mailbox

import (
	"errors"

	"wlfw/core"
	"wlfw/regs"
)

// FrameSize is the payload width of one direction.
const FrameSize = 8

// Frame is one mailbox message. Byte 0 carries the message id by
// convention of the users of the channel.
type Frame [FrameSize]byte

var (
	// ErrBusy is returned by Post while the previous frame is undrained.
	ErrBusy = errors.New("mailbox: peer busy")
	// ErrTimeout is passed to the outcome hook when the watchdog expires.
	ErrTimeout = errors.New("mailbox: frame not drained")
)

// Outcome reports the fate of a posted frame: err is nil when the peer
// drained it, ErrTimeout when the watchdog withdrew it.
type Outcome func(f Frame, err error)

// Endpoint is one side of the mailbox.
type Endpoint struct {
	regs *regs.File
	tx   regs.Direction
	rx   regs.Direction

	irq     *core.IRQController
	timers  *core.TimerBank
	diag    *core.Diagnostics
	clock   core.Clock
	timeout uint32

	inFlight bool
	last     Frame
	outcome  Outcome
	drained  func()
}

// Config wires an endpoint. Timers, IRQ and Diag may be nil for a peer
// model that has no watchdog.
type Config struct {
	Regs    *regs.File
	TX      regs.Direction
	IRQ     *core.IRQController
	Timers  *core.TimerBank
	Diag    *core.Diagnostics
	Clock   core.Clock
	Timeout uint32 // µs the peer has to drain a frame
}

// New creates an endpoint and claims the mailbox watchdog timer.
func New(cfg Config) *Endpoint {
	e := &Endpoint{
		regs:    cfg.Regs,
		tx:      cfg.TX,
		rx:      regs.BTToWL,
		irq:     cfg.IRQ,
		timers:  cfg.Timers,
		diag:    cfg.Diag,
		clock:   cfg.Clock,
		timeout: cfg.Timeout,
	}
	if cfg.TX == regs.BTToWL {
		e.rx = regs.WLToBT
	}
	if e.diag == nil {
		e.diag = &core.Diagnostics{}
	}
	if e.timers != nil {
		e.timers.Assign(core.TimerMailboxWatchdog, e.watchdog)
	}
	return e
}

// SetOutcome installs the hook told about every posted frame exactly once.
func (e *Endpoint) SetOutcome(fn Outcome) { e.outcome = fn }

// SetDrainNotify installs a hook run after Receive clears the ready bit.
// On hardware the clear raises the sender's TX-done interrupt; host
// models use the hook to connect two endpoints.
func (e *Endpoint) SetDrainNotify(fn func()) { e.drained = fn }

func (e *Endpoint) mask() core.IRQ {
	if e.irq == nil {
		return 0
	}
	return e.irq.Mask(core.IRQMailboxTxDone)
}

func (e *Endpoint) unmask(prev core.IRQ) {
	if e.irq != nil {
		e.irq.Restore(prev)
	}
}

// Init enables the receive interrupt and clears both ready bits.
func (e *Endpoint) Init() {
	e.regs.SetMailboxCtrl(e.tx, 0)
	e.regs.SetMailboxCtrl(e.rx, regs.MailboxIRQEnable)
	e.inFlight = false
	if e.timers != nil {
		e.timers.Disarm(core.TimerMailboxWatchdog)
	}
}

// Post writes f and sets the ready bit. It never blocks: a frame still
// waiting for the peer makes it return ErrBusy.
func (e *Endpoint) Post(f Frame) error {
	prev := e.mask()
	defer e.unmask(prev)

	if e.inFlight || e.regs.MailboxCtrl(e.tx).Ready() {
		e.diag.Inc(core.CtrMailboxBusy)
		return ErrBusy
	}
	e.regs.SetMailboxData(e.tx, f)
	e.regs.SetMailboxCtrl(e.tx, regs.MailboxReady|regs.MailboxIRQEnable)
	e.last = f
	e.inFlight = true
	if e.timers != nil {
		e.timers.Arm(core.TimerMailboxWatchdog, e.clock.Now()+e.timeout)
	}
	return nil
}

// InFlight reports whether a posted frame awaits its outcome.
func (e *Endpoint) InFlight() bool { return e.inFlight }

// OnTxDrained is the TX-done interrupt: the peer cleared the ready bit.
func (e *Endpoint) OnTxDrained() {
	if !e.inFlight {
		return
	}
	if e.regs.MailboxCtrl(e.tx).Ready() {
		var now uint32
		if e.clock != nil {
			now = e.clock.Now()
		}
		e.diag.Fault(core.FaultMailboxState, now, uint32(e.tx))
		return
	}
	e.finish(nil)
}

func (e *Endpoint) finish(err error) {
	e.inFlight = false
	if e.timers != nil {
		e.timers.Disarm(core.TimerMailboxWatchdog)
	}
	if err == nil {
		e.diag.Inc(core.CtrMailboxDelivered)
	} else {
		e.diag.Inc(core.CtrMailboxTimeout)
	}
	if e.outcome != nil {
		e.outcome(e.last, err)
	}
}

func (e *Endpoint) watchdog(t *core.Timer) uint8 {
	prev := e.mask()
	defer e.unmask(prev)

	if !e.inFlight {
		return core.SF_DONE
	}
	ctrl := e.regs.MailboxCtrl(e.tx)
	if !ctrl.Ready() {
		// Drained but the TX-done interrupt was lost.
		e.finish(nil)
		return core.SF_DONE
	}
	e.regs.SetMailboxCtrl(e.tx, ctrl&^regs.MailboxReady)
	e.finish(ErrTimeout)
	return core.SF_DONE
}

// Receive takes the inbound frame if one is ready. The ready bit is
// cleared exactly once per frame.
func (e *Endpoint) Receive() (Frame, bool) {
	ctrl := e.regs.MailboxCtrl(e.rx)
	if !ctrl.Ready() {
		return Frame{}, false
	}
	f := Frame(e.regs.MailboxData(e.rx))
	e.regs.SetMailboxCtrl(e.rx, ctrl&^regs.MailboxReady)
	if e.drained != nil {
		e.drained()
	}
	return f, true
}
