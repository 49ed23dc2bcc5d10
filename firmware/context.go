// Package firmware owns the co-processor's single context: it builds
// every subsystem from the calibration, routes interrupts into the event
// queue and drains that queue from the cooperative main loop.
package firmware

import (
	"context"
	"log/slog"

	"wlfw/beacon"
	"wlfw/calib"
	"wlfw/coex"
	"wlfw/core"
	"wlfw/hostif"
	"wlfw/mailbox"
	"wlfw/power"
	"wlfw/regs"
	"wlfw/txpause"
)

// Version is reported to the host in the patch status report.
const Version uint32 = 0x0001_0300

// Config wires a firmware context. Bus, Clock and Null come from the
// target; Logger, Reset and Flush are optional.
type Config struct {
	Calib  calib.Calibration
	Bus    regs.Bus
	Clock  core.Clock
	Null   power.NullSender // MAC null-data path
	Logger *slog.Logger

	// Reset performs the controlled watchdog reset after a fault.
	Reset func()
	// Flush pushes queued reports to the host; it runs before Reset.
	Flush func()
}

// Context is the firmware. Interrupt entry points may be called from
// interrupt context; everything else belongs to the main loop.
type Context struct {
	cal   calib.Calibration
	log   *slog.Logger
	clock core.Clock
	flush func()

	file     *regs.File
	timers   *core.TimerBank
	irq      *core.IRQController
	diag     *core.Diagnostics
	events   core.EventQueue
	ledger   *txpause.Ledger
	tracker  *beacon.Tracker
	mbox     *mailbox.Endpoint
	power    *power.Controller
	coex     *coex.Scheduler
	registry *hostif.Registry
	reports  hostif.ReportQueue
	null     nullPath

	h2c hostif.Frame // host command box, valid while IRQHostCmd is pending

	lastSlot   [3]uint32
	staleSeen  uint32
	overflowed uint32
	panics     uint32 // since boot
}

// Event kinds posted by interrupt entry points.
const (
	evBeaconRx uint8 = iota + 1
	evTimers
	evMailboxRx
	evMailboxTxDone
	evHostCmd
	evNullStatus
)

// New validates the calibration and builds the context. Call Init
// before the first Step.
func New(cfg Config) (*Context, error) {
	if err := cfg.Calib.Validate(); err != nil {
		return nil, err
	}
	c := &Context{
		cal:      cfg.Calib,
		log:      cfg.Logger,
		clock:    cfg.Clock,
		flush:    cfg.Flush,
		file:     regs.NewFile(cfg.Bus, cfg.Calib.Layout),
		timers:   core.NewTimerBank(),
		irq:      core.NewIRQController(),
		diag:     &core.Diagnostics{},
		registry: hostif.NewRegistry(),
	}
	c.null.tx = cfg.Null
	c.ledger = txpause.New(c.file, c.diag, c.clock)
	c.tracker = beacon.NewTracker(cfg.Calib.Beacon, beacon.NewCorrector(cfg.Calib.Beacon))
	c.mbox = mailbox.New(mailbox.Config{
		Regs:    c.file,
		TX:      regs.WLToBT,
		IRQ:     c.irq,
		Timers:  c.timers,
		Diag:    c.diag,
		Clock:   c.clock,
		Timeout: cfg.Calib.Coex.MailboxTimeoutUS,
	})
	txq := power.RegTxQueue{File: c.file}
	c.coex = coex.New(coex.Config{
		Calib:    cfg.Calib.Coex,
		Regs:     c.file,
		Timers:   c.timers,
		Diag:     c.diag,
		Clock:    c.clock,
		Ledger:   c.ledger,
		Mailbox:  c.mbox,
		Announce: nullPort{&c.null, nullCoex},
		TxQueue:  txq,
		Notify:   c.onCoexNotice,
	})
	pc, err := power.New(power.Config{
		Calib:   cfg.Calib.Power,
		Regs:    c.file,
		Timers:  c.timers,
		IRQ:     c.irq,
		Diag:    c.diag,
		Clock:   c.clock,
		Ledger:  c.ledger,
		Tracker: c.tracker,
		Null:    nullPort{&c.null, nullPower},
		TxQueue: txq,
		Permit:  c.coex,
		Leak:    c.coex,
		Notify:  c.onPowerNotice,
	})
	if err != nil {
		return nil, err
	}
	c.power = pc

	c.diag.SetFaultHandler(c.onFault)
	c.diag.SetResetHandler(cfg.Reset)

	c.irq.Attach(core.IRQBeaconRx, func(ts uint32) { c.post(evBeaconRx, ts) })
	c.irq.Attach(core.IRQTimerCompare, func(now uint32) {
		if c.timers.Latch(now) > 0 {
			c.post(evTimers, now)
		}
	})
	c.irq.Attach(core.IRQMailboxRx, func(uint32) { c.post(evMailboxRx, 0) })
	c.irq.Attach(core.IRQMailboxTxDone, func(uint32) { c.post(evMailboxTxDone, 0) })
	c.irq.Attach(core.IRQHostCmd, func(uint32) {
		c.events.Post(core.Event{Kind: evHostCmd, Data: c.h2c})
	})

	c.registerCommands()
	return c, nil
}

// Init brings every subsystem to its power-on state and announces the
// firmware to the host.
func (c *Context) Init() {
	c.Reset()
	c.Announce()
	c.info("firmware up",
		slog.Uint64("version", uint64(Version)),
		slog.Uint64("calib_id", uint64(c.cal.ID)),
		slog.Uint64("calib_version", uint64(c.cal.Version)))
}

// Announce sends the patch status report.
func (c *Context) Announce() {
	c.report(hostif.RptPatchStatus, Version, uint32(c.cal.ID))
}

// Reset returns to the power-on state without a watchdog reset.
// Counters, the trace ring and the fault record are cleared as well.
func (c *Context) Reset() {
	c.timers.Reset()
	c.events.Reset()
	c.reports.Reset()
	c.null.reset()
	c.diag.Reset()
	c.ledger.Reset()
	c.tracker.Reset()
	c.mbox.Init()
	c.coex.Reset()
	c.power.Reset()
	c.lastSlot = [3]uint32{}
	c.staleSeen, c.overflowed = 0, 0
	c.updateScoreboard()
}

func (c *Context) post(kind uint8, arg uint32) {
	c.events.Post(core.Event{Kind: kind, Arg: arg})
}

// Step is one pass of the main loop: it drains the event queue, polls
// the TX queue and checks the ledger. It returns the number of events
// handled.
func (c *Context) Step() int {
	n := 0
	for {
		ev, ok := c.events.Pop()
		if !ok {
			break
		}
		c.dispatch(ev)
		n++
	}
	c.power.PollTxQueue()
	c.ledger.Verify()
	c.syncCounters()
	return n
}

// Guard runs one main loop pass. A panic inside it is recorded as
// FaultPanic, which reports to the host and resets like any hardware
// fault. It returns whether pass panicked.
func (c *Context) Guard(pass func()) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			c.panics++
			panicked = true
			c.diag.Fault(core.FaultPanic, c.clock.Now(), c.panics)
		}
	}()
	pass()
	return false
}

func (c *Context) dispatch(ev core.Event) {
	switch ev.Kind {
	case evBeaconRx:
		c.power.Handle(power.Event{Kind: power.EvBeaconRx, Arg: ev.Arg})
	case evTimers:
		c.timers.Dispatch()
	case evMailboxRx:
		for {
			f, ok := c.mbox.Receive()
			if !ok {
				break
			}
			if !c.coex.HandleFrame(f) {
				c.warn("unknown mailbox frame", slog.Uint64("id", uint64(f[0])))
			}
		}
	case evMailboxTxDone:
		c.mbox.OnTxDrained()
	case evHostCmd:
		c.Command(hostif.Frame(ev.Data))
	case evNullStatus:
		c.nullStatus(ev.Arg != 0)
	}
}

// syncCounters folds bookkeeping kept by the timer bank and the event
// queue into the diagnostic counters.
func (c *Context) syncCounters() {
	for s := c.timers.StaleFires(); c.staleSeen != s; c.staleSeen++ {
		c.diag.Inc(core.CtrStaleTimer)
	}
	for o := c.events.Overflows(); c.overflowed != o; c.overflowed++ {
		c.diag.Inc(core.CtrEventOverflow)
	}
}

// NextWake returns when the main loop must run again at the latest.
func (c *Context) NextWake() (uint32, bool) {
	return c.timers.NextWake(c.clock.Now())
}

// PopReport takes the oldest C2H report for the host link.
func (c *Context) PopReport() (hostif.Frame, bool) { return c.reports.Pop() }

// Diagnostics exposes counters, the trace ring and the fault record.
func (c *Context) Diagnostics() *core.Diagnostics { return c.diag }

// PowerState returns the current power state.
func (c *Context) PowerState() power.State { return c.power.State() }

// Schedule returns the coexistence schedule snapshot.
func (c *Context) Schedule() coex.Schedule { return c.coex.Schedule() }

// Registers exposes the register file.
func (c *Context) Registers() *regs.File { return c.file }

// Dictionary lists the H2C commands this image accepts.
func (c *Context) Dictionary() string { return c.registry.Dictionary() }

func (c *Context) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if c.log == nil {
		return
	}
	c.log.LogAttrs(context.Background(), level, msg, attrs...)
}

func (c *Context) info(msg string, attrs ...slog.Attr)  { c.logattrs(slog.LevelInfo, msg, attrs...) }
func (c *Context) debug(msg string, attrs ...slog.Attr) { c.logattrs(slog.LevelDebug, msg, attrs...) }
func (c *Context) warn(msg string, attrs ...slog.Attr)  { c.logattrs(slog.LevelWarn, msg, attrs...) }
