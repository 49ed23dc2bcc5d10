package power

import (
	"wlfw/core"
	"wlfw/txpause"
)

func (c *Controller) sendNull(pm bool) {
	if c.null == nil {
		return
	}
	if err := c.null.SendNull(pm); err != nil {
		if pm {
			c.enqueue(Event{Kind: EvNullFail})
		}
	}
}

func (c *Controller) enterNull(ev Event) {
	c.retries = 0
	c.associated = true
	// Held by coex or host, the reason waits and takes over when they clear.
	_ = c.ledger.Set(txpause.OwnerPower, txpause.ReasonNullAnnounce)
	c.sendNull(true)
}

func (c *Controller) resendNull(ev Event) {
	c.retries++
	c.diag.Inc(core.CtrNullRetry)
	c.sendNull(true)
}

func (c *Controller) nullGiveUp(ev Event) {
	c.diag.Inc(core.CtrNullFail)
	c.ledger.Clear(txpause.OwnerPower, txpause.ReasonNullAnnounce)
	c.emit(Notice{Kind: NoticePSFail, From: StateActiveNull, To: StateActive})
}

func (c *Controller) nullAcked(ev Event) {
	c.ledger.Clear(txpause.OwnerPower, txpause.ReasonNullAnnounce)
	c.timers.ArmPeriodic(core.TimerDriftCorrect, c.now()+c.tracker.DriftPeriod(), c.tracker.DriftPeriod())
	c.armWake()
	c.enqueue(Event{Kind: EvTxQueueEmpty})
}

func (c *Controller) doze(ev Event) {
	c.armWake()
}

// armWake arms the wake timer for the next catchable beacon. Without a
// TBTT phase there is nothing to wake for; the radio then sleeps until an
// urgent event.
func (c *Controller) armWake() {
	wake, _, ok := c.tracker.Wake(c.now())
	if !ok {
		c.timers.Disarm(core.TimerBeaconEarly)
		return
	}
	c.timers.Arm(core.TimerBeaconEarly, wake)
}

func (c *Controller) wake(ev Event) {
	c.timers.Arm(core.TimerPowerBudget, c.now()+c.cfg.BudgetUS)
	c.armTimeout(ev)
}

func (c *Controller) armTimeout(ev Event) {
	if _, ok := c.tracker.Expected(); ok {
		c.timers.Arm(core.TimerBeaconTimeout, c.tracker.TimeoutAt())
		c.awaiting = true
	}
}

func (c *Controller) urgentWake(ev Event) {
	c.timers.Arm(core.TimerPowerBudget, c.now()+c.cfg.BudgetUS)
}

func (c *Controller) track(ev Event) {
	c.tracker.OnBeacon(ev.Arg)
	c.diag.Trace(core.TraceBeacon, 0, ev.Arg, c.tracker.Estimate().AheadShift, uint32(c.state))
}

func (c *Controller) beaconRx(ev Event) {
	c.associated = true
	c.awaiting = false
	c.timers.Disarm(core.TimerBeaconTimeout)
	c.track(ev)
	c.armWake()
	c.enqueue(Event{Kind: EvTxQueueEmpty})
}

func (c *Controller) beaconMiss(ev Event) {
	c.diag.Inc(core.CtrBeaconMiss)
	c.awaiting = false
	c.armWake()
	c.enqueue(Event{Kind: EvTxQueueEmpty})
}

func (c *Controller) disarmAll() {
	c.timers.Disarm(core.TimerBeaconEarly)
	c.timers.Disarm(core.TimerBeaconTimeout)
	c.timers.Disarm(core.TimerDriftCorrect)
	c.timers.Disarm(core.TimerPowerBudget)
	c.awaiting = false
}

// releasePause drops every pause the power controller holds or waits for.
func (c *Controller) releasePause() {
	c.ledger.Release(txpause.OwnerPower)
}

func (c *Controller) loss(ev Event) {
	c.diag.Inc(core.CtrBeaconMiss)
	c.diag.Inc(core.CtrBeaconLoss)
	c.disarmAll()
	c.releasePause()
	c.tracker.Reset()
	c.associated = false
	c.hasDefer = false
	c.emit(Notice{Kind: NoticeConnectionLost, To: StateActive})
}

// leave is the host override back to Active. It tells the AP when the
// station was in power save.
func (c *Controller) leave(ev Event) {
	wasPS := c.from == StateActiveNull || c.from.LowPower()
	c.disarmAll()
	c.releasePause()
	c.hasDefer = false
	if wasPS {
		c.sendNull(false)
	}
}

func (c *Controller) timingViolation(ev Event) {
	c.diag.Inc(core.CtrTimingViolation)
	c.disarmAll()
	c.releasePause()
	c.sendNull(false)
	c.emit(Notice{Kind: NoticeTimingViolation, From: c.from, To: StateActive})
}

func (c *Controller) scanStart(ev Event) {
	c.disarmAll()
	c.releasePause()
	_ = c.ledger.Set(txpause.OwnerPower, txpause.ReasonScan)
}

func (c *Controller) scanDone(ev Event) {
	c.ledger.Clear(txpause.OwnerPower, txpause.ReasonScan)
}

func (c *Controller) replayDeferred(ev Event) {
	if !c.hasDefer {
		return
	}
	c.hasDefer = false
	c.enqueue(Event{Kind: c.deferred})
}

func (c *Controller) onBeaconEarly(t *core.Timer) uint8 {
	if c.state == StateOff && c.leak != nil && !c.leak.RequestLeak() {
		// BT owns the front-end and the leak allowance is spent: sleep
		// through this beacon without counting it missed.
		c.armWake()
		c.diag.Inc(core.CtrBeaconSkip)
		return core.SF_DONE
	}
	c.Handle(Event{Kind: EvBeaconEarly, Arg: t.WakeTime})
	return core.SF_DONE
}

func (c *Controller) onBeaconTimeout(t *core.Timer) uint8 {
	c.Handle(Event{Kind: EvBeaconMiss})
	return core.SF_DONE
}

func (c *Controller) onDriftCorrect(t *core.Timer) uint8 {
	c.tracker.CorrectDrift()
	return core.SF_DONE
}

func (c *Controller) onBudget(t *core.Timer) uint8 {
	c.Handle(Event{Kind: EvBudgetExpired})
	return core.SF_DONE
}
