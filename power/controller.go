package power

import (
	"errors"

	"wlfw/beacon"
	"wlfw/calib"
	"wlfw/core"
	"wlfw/regs"
	"wlfw/txpause"
)

// NullSender transmits the null-data frame that announces doze (pm set)
// or wake (pm clear) to the AP. The acknowledgement arrives later as
// EvNullAck or EvNullFail.
type NullSender interface {
	SendNull(pm bool) error
}

// TxQueue reports whether nothing is enqueued or in flight.
type TxQueue interface {
	Empty() bool
}

// PermitQuery tells whether a voluntary power transition is allowed now.
type PermitQuery interface {
	PowerTransitionPermitted() bool
}

// LeakQuery asks the coexistence scheduler for a receive opportunity
// while the co-radio owns the front-end.
type LeakQuery interface {
	RequestLeak() bool
}

// ErrTable is returned by New when the built-in table is malformed.
var ErrTable = errors.New("power: transition table invalid")

// masked are the interrupt sources that feed the state machine.
const masked = core.IRQBeaconRx | core.IRQBeaconEarly | core.IRQBeaconTimeout |
	core.IRQTimerCompare | core.IRQHostCmd

const followDepth = 8

// Config wires a controller.
type Config struct {
	Calib   calib.Power
	Regs    *regs.File
	Timers  *core.TimerBank
	IRQ     *core.IRQController
	Diag    *core.Diagnostics
	Clock   core.Clock
	Ledger  *txpause.Ledger
	Tracker *beacon.Tracker
	Null    NullSender
	TxQueue TxQueue
	Permit  PermitQuery
	Leak    LeakQuery
	Notify  func(Notice)
}

// Controller owns the power state. It is mutated only inside Handle.
type Controller struct {
	cfg     calib.Power
	table   *Table
	file    *regs.File
	timers  *core.TimerBank
	irq     *core.IRQController
	diag    *core.Diagnostics
	clock   core.Clock
	ledger  *txpause.Ledger
	tracker *beacon.Tracker
	null    NullSender
	txq     TxQueue
	permit  PermitQuery
	leak    LeakQuery
	notify  func(Notice)

	state      State
	from       State // state before the running transition
	retries    uint8
	associated bool
	deferred   EventKind
	hasDefer   bool
	awaiting   bool // beacon timeout armed, RF stays up until it resolves

	emptyPolls     uint8
	emptyThreshold uint8

	busy    bool
	follow  [followDepth]Event
	nfollow int
	notices [followDepth]Notice
	nnotice int
}

// New creates the controller and claims the beacon, drift and budget
// timers. Call Reset before use.
func New(cfg Config) (*Controller, error) {
	if defaultTableErr != nil {
		return nil, ErrTable
	}
	c := &Controller{
		cfg:            cfg.Calib,
		table:          defaultTable,
		file:           cfg.Regs,
		timers:         cfg.Timers,
		irq:            cfg.IRQ,
		diag:           cfg.Diag,
		clock:          cfg.Clock,
		ledger:         cfg.Ledger,
		tracker:        cfg.Tracker,
		null:           cfg.Null,
		txq:            cfg.TxQueue,
		permit:         cfg.Permit,
		leak:           cfg.Leak,
		notify:         cfg.Notify,
		emptyThreshold: 1,
	}
	if c.txq == nil {
		c.txq = RegTxQueue{File: cfg.Regs}
	}
	c.timers.Assign(core.TimerBeaconEarly, c.onBeaconEarly)
	c.timers.Assign(core.TimerBeaconTimeout, c.onBeaconTimeout)
	c.timers.Assign(core.TimerDriftCorrect, c.onDriftCorrect)
	c.timers.Assign(core.TimerPowerBudget, c.onBudget)
	return c, nil
}

// Reset puts the radio in Active with every owned timer disarmed.
func (c *Controller) Reset() {
	c.disarmAll()
	c.state = StateActive
	c.retries = 0
	c.associated = false
	c.hasDefer = false
	c.awaiting = false
	c.emptyPolls = 0
	c.nfollow = 0
	c.nnotice = 0
	c.busy = false
	c.apply()
}

// State returns the current power state.
func (c *Controller) State() State { return c.state }

// Associated reports whether the station believes it is connected.
func (c *Controller) Associated() bool { return c.associated }

// SetEmptyThreshold sets how many consecutive empty TX queue polls
// count as drained.
func (c *Controller) SetEmptyThreshold(n uint8) {
	if n == 0 {
		n = 1
	}
	c.emptyThreshold = n
}

// Handle runs ev and every follow-up it causes to completion. Calls made
// from inside a transition are queued behind it.
func (c *Controller) Handle(ev Event) {
	if c.busy {
		c.enqueue(ev)
		return
	}
	var prev core.IRQ
	if c.irq != nil {
		prev = c.irq.Mask(masked)
	}
	c.busy = true
	c.step(ev)
	for i := 0; i < c.nfollow; i++ {
		c.step(c.follow[i])
	}
	c.nfollow = 0
	c.busy = false
	if c.irq != nil {
		c.irq.Restore(prev)
	}
	c.flushNotices()
}

func (c *Controller) enqueue(ev Event) {
	if c.nfollow == followDepth {
		c.diag.Inc(core.CtrEventOverflow)
		return
	}
	c.follow[c.nfollow] = ev
	c.nfollow++
}

// resolve turns raw events whose outcome depends on a guard into the
// derived event the table is keyed on.
func (c *Controller) resolve(ev Event) Event {
	switch ev.Kind {
	case EvNullFail:
		if c.state == StateActiveNull && c.retries >= c.cfg.NullRetryLimit {
			ev.Kind = EvNullGiveUp
		}
	case EvTxQueueEmpty:
		if c.awaiting || !c.txq.Empty() {
			ev.Kind = EvTxPending
		}
	case EvBeaconMiss:
		if c.state == StateRFOnRetain || c.state == StateRFOnRetainNull {
			if _, lost := c.tracker.OnMiss(); lost {
				ev.Kind = EvBeaconLoss
			}
		}
	case EvBudgetExpired:
		if c.file.RFStatus().Stable() {
			ev.Kind = EvRFStable
		}
	}
	return ev
}

func (c *Controller) step(ev Event) {
	ev = c.resolve(ev)
	cl := c.table.lookup(c.state, ev.Kind)
	if cl.gated && c.permit != nil && !c.permit.PowerTransitionPermitted() {
		c.deferred = ev.Kind
		c.hasDefer = true
		return
	}

	from := c.state
	c.from = from
	c.state = cl.to
	if cl.act != nil {
		cl.act(c, ev)
	}
	if c.state == from {
		return
	}
	c.apply()
	c.diag.Trace(core.TraceTransition, uint8(ev.Kind), c.now(), uint32(from), uint32(c.state))
	c.emit(Notice{Kind: NoticeStateChange, From: from, To: c.state})
	if c.state == StateRFOnRetainNull {
		c.enqueue(Event{Kind: EvSleep})
	}
}

func (c *Controller) emit(n Notice) {
	if c.nnotice < followDepth {
		c.notices[c.nnotice] = n
		c.nnotice++
	}
}

func (c *Controller) flushNotices() {
	n := c.nnotice
	c.nnotice = 0
	if c.notify == nil {
		return
	}
	for i := 0; i < n; i++ {
		c.notify(c.notices[i])
	}
}

func (c *Controller) now() uint32 { return c.clock.Now() }

// apply writes the control register for the current state and reads it
// back. A register that does not follow is a hardware fault.
func (c *Controller) apply() {
	want := regs.MakePSCtrl(uint8(c.state), c.state.RFOn(), c.state.Retained())
	c.file.SetPSCtrl(want)
	c.file.SetRFPower(c.state.RFOn())
	if got := c.file.PSCtrl(); got != want {
		c.diag.Fault(core.FaultStateMismatch, c.now(), uint32(got)<<16|uint32(want))
	}
}

// PollTxQueue is called from the main loop. After the configured number
// of consecutive empty polls in RFOnRetain it raises EvTxQueueEmpty; no
// poll counts while a beacon is awaited. Traffic queued while the radio
// dozes raises EvTxPending.
func (c *Controller) PollTxQueue() {
	switch c.state {
	case StateOff, StateRFOnRetainNull:
		c.emptyPolls = 0
		if !c.txq.Empty() {
			c.Handle(Event{Kind: EvTxPending})
		}
		return
	case StateRFOnRetain:
	default:
		c.emptyPolls = 0
		return
	}
	if c.awaiting || !c.txq.Empty() {
		c.emptyPolls = 0
		return
	}
	c.emptyPolls++
	if c.emptyPolls >= c.emptyThreshold {
		c.emptyPolls = 0
		c.Handle(Event{Kind: EvTxQueueEmpty})
	}
}

// UrgentWake brings the radio up from Off or from the doze announce for
// work that needs the MAC now. Other states ignore it.
func (c *Controller) UrgentWake() {
	c.Handle(Event{Kind: EvUrgentWake})
}

// RegTxQueue reads the drain state from the MAC TX queue status register.
type RegTxQueue struct {
	File *regs.File
}

func (q RegTxQueue) Empty() bool { return q.File.TxQueue().Empty() }
