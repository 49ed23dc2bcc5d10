package power

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"wlfw/beacon"
	"wlfw/calib"
	"wlfw/core"
	"wlfw/regs"
	"wlfw/txpause"
)

type fakeNull struct {
	sent []bool
	fail bool
}

func (n *fakeNull) SendNull(pm bool) error {
	n.sent = append(n.sent, pm)
	if n.fail {
		return errors.New("tx path busy")
	}
	return nil
}

type fakeQueue struct{ pending int }

func (q *fakeQueue) Empty() bool { return q.pending == 0 }

type fakePermit struct{ deny bool }

func (p *fakePermit) PowerTransitionPermitted() bool { return !p.deny }

type fakeLeak struct {
	deny  bool
	asked int
}

func (l *fakeLeak) RequestLeak() bool {
	l.asked++
	return !l.deny
}

type rig struct {
	clock   *core.ManualClock
	bus     *regs.SimBus
	file    *regs.File
	timers  *core.TimerBank
	diag    *core.Diagnostics
	ledger  *txpause.Ledger
	tracker *beacon.Tracker
	null    *fakeNull
	queue   *fakeQueue
	permit  *fakePermit
	leak    *fakeLeak
	ctl     *Controller
	notices []Notice
	cal     calib.Calibration
}

func newRig(t *testing.T) *rig {
	t.Helper()
	cal := calib.Default()
	r := &rig{
		clock:  &core.ManualClock{},
		bus:    regs.NewSimBus(),
		timers: core.NewTimerBank(),
		diag:   &core.Diagnostics{},
		null:   &fakeNull{},
		queue:  &fakeQueue{},
		permit: &fakePermit{},
		leak:   &fakeLeak{},
		cal:    cal,
	}
	r.bus.FollowRFPower(cal.Layout)
	r.file = regs.NewFile(r.bus, cal.Layout)
	r.ledger = txpause.New(r.file, r.diag, r.clock)
	r.ledger.Reset()
	r.tracker = beacon.NewTracker(cal.Beacon, beacon.NewCorrector(cal.Beacon))

	ctl, err := New(Config{
		Calib:   cal.Power,
		Regs:    r.file,
		Timers:  r.timers,
		IRQ:     core.NewIRQController(),
		Diag:    r.diag,
		Clock:   r.clock,
		Ledger:  r.ledger,
		Tracker: r.tracker,
		Null:    r.null,
		TxQueue: r.queue,
		Permit:  r.permit,
		Leak:    r.leak,
		Notify:  func(n Notice) { r.notices = append(r.notices, n) },
	})
	require.NoError(t, err)
	r.ctl = ctl
	ctl.Reset()
	return r
}

// runTo advances the clock to t, firing every timer on the way in order.
func (r *rig) runTo(t uint32) {
	for {
		next, ok := r.timers.NextWake(r.clock.Now())
		if !ok || core.TimeBefore(t, next) {
			r.clock.T = t
			return
		}
		r.clock.T = next
		r.timers.Latch(next)
		r.timers.Dispatch()
	}
}

func (r *rig) handle(k EventKind, arg uint32) { r.ctl.Handle(Event{Kind: k, Arg: arg}) }

// enterOff associates on a beacon at 1000 µs and walks into Off.
func (r *rig) enterOff(t *testing.T) {
	t.Helper()
	r.clock.T = 1000
	r.handle(EvBeaconRx, 1000)
	r.handle(EvPSRequest, 0)
	r.handle(EvNullAck, 0)
	require.Equal(t, StateOff, r.ctl.State())
}

func (r *rig) noticeKinds() []NoticeKind {
	var ks []NoticeKind
	for _, n := range r.notices {
		if n.Kind != NoticeStateChange {
			ks = append(ks, n.Kind)
		}
	}
	return ks
}

func TestTableCompleteAndDeterministic(t *testing.T) {
	tbl, err := buildTable(transitionRules())
	require.NoError(t, err)
	again, err := buildTable(transitionRules())
	require.NoError(t, err)
	for s := State(0); s < NumStates; s++ {
		for e := EventKind(0); e < NumEvents; e++ {
			c, d := tbl.lookup(s, e), again.lookup(s, e)
			require.True(t, c.defined, "%s/%s", s, e)
			require.Less(t, c.to, NumStates, "%s/%s", s, e)
			// Cells hold funcs, which only compare against nil.
			require.Equal(t, c.to, d.to, "%s/%s", s, e)
			require.Equal(t, c.gated, d.gated, "%s/%s", s, e)
			require.Equal(t, c.act == nil, d.act == nil, "%s/%s", s, e)
		}
	}
	// Loss of association and host override pre-empt every state.
	for s := State(0); s < NumStates; s++ {
		require.Equal(t, StateActive, tbl.lookup(s, EvBeaconLoss).to)
		require.Equal(t, StateActive, tbl.lookup(s, EvPSLeave).to)
	}
}

func TestTableBuildRejectsBadRules(t *testing.T) {
	rs := transitionRules()
	_, err := buildTable(append(rs, on(StateActive, EvNoAStart, StateOff, nil)))
	var te *TableError
	require.ErrorAs(t, err, &te)
	require.True(t, te.Dup)

	_, err = buildTable(rs[1:])
	require.ErrorAs(t, err, &te)
	require.False(t, te.Dup)
	require.Equal(t, StateActive, te.State)
	require.Equal(t, EvPSRequest, te.Event)
}

func TestEnterPowerSave(t *testing.T) {
	r := newRig(t)
	r.clock.T = 1000
	r.handle(EvBeaconRx, 1000)
	r.handle(EvPSRequest, 0)

	require.Equal(t, StateActiveNull, r.ctl.State())
	require.Equal(t, []bool{true}, r.null.sent)
	reason, paused := r.ledger.Active()
	require.True(t, paused)
	require.Equal(t, txpause.ReasonNullAnnounce, reason)

	// Idempotent while the announce is in flight.
	r.handle(EvPSRequest, 0)
	require.Len(t, r.null.sent, 1)

	r.handle(EvNullAck, 0)
	require.Equal(t, StateOff, r.ctl.State())
	require.False(t, r.ledger.Paused())

	ps := r.file.PSCtrl()
	require.Equal(t, uint8(StateOff), ps.State())
	require.False(t, ps.RFOn())
	require.False(t, r.file.RFStatus().Powered())
	require.True(t, r.timers.Armed(core.TimerBeaconEarly))
	require.True(t, r.ctl.Associated())
}

func TestNullRetriesThenGiveUp(t *testing.T) {
	r := newRig(t)
	r.handle(EvPSRequest, 0)
	for i := 0; i < int(r.cal.Power.NullRetryLimit); i++ {
		r.handle(EvNullFail, 0)
		require.Equal(t, StateActiveNull, r.ctl.State())
	}
	require.Len(t, r.null.sent, 1+int(r.cal.Power.NullRetryLimit))

	r.handle(EvNullFail, 0)
	require.Equal(t, StateActive, r.ctl.State())
	require.Equal(t, uint32(r.cal.Power.NullRetryLimit), r.diag.Get(core.CtrNullRetry))
	require.Equal(t, uint32(1), r.diag.Get(core.CtrNullFail))
	require.False(t, r.ledger.Paused())
	require.Equal(t, []NoticeKind{NoticePSFail}, r.noticeKinds())
}

func TestNullSendErrorCountsAsFailure(t *testing.T) {
	r := newRig(t)
	r.null.fail = true
	r.handle(EvPSRequest, 0)
	require.Equal(t, StateActive, r.ctl.State())
	require.Len(t, r.null.sent, 1+int(r.cal.Power.NullRetryLimit))
	require.Equal(t, []NoticeKind{NoticePSFail}, r.noticeKinds())
}

func TestTxDrainBeforeSleep(t *testing.T) {
	r := newRig(t)
	r.queue.pending = 2
	r.clock.T = 1000
	r.handle(EvBeaconRx, 1000)
	r.handle(EvPSRequest, 0)
	r.handle(EvNullAck, 0)
	require.Equal(t, StateRFOnRetain, r.ctl.State())

	r.ctl.PollTxQueue()
	require.Equal(t, StateRFOnRetain, r.ctl.State())

	r.queue.pending = 0
	r.ctl.SetEmptyThreshold(2)
	r.ctl.PollTxQueue()
	require.Equal(t, StateRFOnRetain, r.ctl.State())
	r.ctl.PollTxQueue()
	require.Equal(t, StateOff, r.ctl.State())
}

func TestTxPendingWakesFromOff(t *testing.T) {
	r := newRig(t)
	r.enterOff(t)
	r.queue.pending = 1
	r.handle(EvTxPending, 0)
	require.Equal(t, StateRFOnRetain, r.ctl.State())
	require.True(t, r.file.PSCtrl().RFOn())

	r.queue.pending = 0
	r.ctl.PollTxQueue()
	require.Equal(t, StateOff, r.ctl.State())
}

func TestWakeCatchesBeacon(t *testing.T) {
	r := newRig(t)
	r.enterOff(t)

	wake, _ := r.timers.Deadline(core.TimerBeaconEarly)
	tbtt := uint32(1000 + 102400)
	require.Equal(t, tbtt-r.tracker.Estimate().EarlyShift, wake)

	r.runTo(wake)
	require.Equal(t, StateRFOnRetain, r.ctl.State())
	require.True(t, r.timers.Armed(core.TimerBeaconTimeout))

	r.runTo(tbtt - 50)
	r.handle(EvBeaconRx, tbtt-50)
	require.Equal(t, StateOff, r.ctl.State())
	require.False(t, r.timers.Armed(core.TimerBeaconTimeout))
	require.Zero(t, r.diag.Get(core.CtrBeaconMiss))
	require.Zero(t, r.diag.Get(core.CtrTimingViolation))
}

func TestAwaitedBeaconKeepsRadioOn(t *testing.T) {
	r := newRig(t)
	r.enterOff(t)

	wake, _ := r.timers.Deadline(core.TimerBeaconEarly)
	tbtt := uint32(1000 + 102400)
	r.runTo(wake)
	require.Equal(t, StateRFOnRetain, r.ctl.State())

	// The drained queue does not send the radio back to sleep while the
	// beacon timeout is pending.
	for i := 0; i < 4; i++ {
		r.ctl.PollTxQueue()
	}
	r.runTo(tbtt)
	require.Equal(t, StateRFOnRetain, r.ctl.State())
	require.True(t, r.file.PSCtrl().RFOn())
	require.True(t, r.file.RFStatus().Powered())

	timeout, ok := r.timers.Deadline(core.TimerBeaconTimeout)
	require.True(t, ok)
	r.runTo(timeout)
	require.Equal(t, StateOff, r.ctl.State())
	require.Equal(t, uint32(1), r.diag.Get(core.CtrBeaconMiss))

	// Awake for a beacon again after the miss.
	next, _ := r.timers.Deadline(core.TimerBeaconEarly)
	r.runTo(next)
	r.ctl.PollTxQueue()
	require.Equal(t, StateRFOnRetain, r.ctl.State())
}

func TestQueuedTxWakesOnPoll(t *testing.T) {
	r := newRig(t)
	r.enterOff(t)

	r.ctl.PollTxQueue()
	require.Equal(t, StateOff, r.ctl.State())

	r.queue.pending = 1
	r.ctl.PollTxQueue()
	require.Equal(t, StateRFOnRetain, r.ctl.State())
	require.True(t, r.file.PSCtrl().RFOn())

	r.queue.pending = 0
	r.ctl.PollTxQueue()
	require.Equal(t, StateOff, r.ctl.State())
	require.True(t, r.timers.Armed(core.TimerBeaconEarly))
}

func TestUrgentWake(t *testing.T) {
	r := newRig(t)
	r.ctl.UrgentWake()
	require.Equal(t, StateActive, r.ctl.State())

	r.enterOff(t)
	r.ctl.UrgentWake()
	require.Equal(t, StateRFOnRetain, r.ctl.State())
	require.True(t, r.file.PSCtrl().Retained())
	require.True(t, r.timers.Armed(core.TimerPowerBudget))
}

func TestBeaconSkippedWithoutLeak(t *testing.T) {
	r := newRig(t)
	r.enterOff(t)
	r.leak.deny = true

	wake, _ := r.timers.Deadline(core.TimerBeaconEarly)
	r.runTo(wake)
	require.Equal(t, StateOff, r.ctl.State())
	require.Equal(t, 1, r.leak.asked)
	require.Equal(t, uint32(1), r.diag.Get(core.CtrBeaconSkip))
	require.Zero(t, r.diag.Get(core.CtrBeaconMiss))

	next, ok := r.timers.Deadline(core.TimerBeaconEarly)
	require.True(t, ok)
	require.Greater(t, next-wake, uint32(102400/2), "wakes for the following beacon")

	r.leak.deny = false
	r.runTo(next)
	require.Equal(t, StateRFOnRetain, r.ctl.State())
	require.Equal(t, 2, r.leak.asked)
}

func TestBeaconLossFromOff(t *testing.T) {
	r := newRig(t)
	r.enterOff(t)
	r.notices = nil

	r.runTo(30 * 102400)

	require.Equal(t, StateActive, r.ctl.State())
	require.Equal(t, uint32(r.cal.Beacon.MissLimit), r.diag.Get(core.CtrBeaconMiss))
	require.Equal(t, uint32(1), r.diag.Get(core.CtrBeaconLoss))
	require.Contains(t, r.noticeKinds(), NoticeConnectionLost)
	require.False(t, r.ctl.Associated())
	require.False(t, r.tracker.Anchored())
	for id := core.TimerID(0); id < core.NumTimers; id++ {
		require.False(t, r.timers.Armed(id), id.String())
	}
	require.True(t, r.file.PSCtrl().RFOn())
}

func TestBudgetViolationForcesActive(t *testing.T) {
	r := newRig(t)
	r.enterOff(t)
	// Front-end that never reports stable.
	r.bus.OnWrite(r.cal.Layout.RFA.Addr(regs.RegRFPower), nil)

	wake, _ := r.timers.Deadline(core.TimerBeaconEarly)
	r.runTo(wake + r.cal.Power.BudgetUS)

	require.Equal(t, StateActive, r.ctl.State())
	require.Equal(t, uint32(1), r.diag.Get(core.CtrTimingViolation))
	require.Contains(t, r.noticeKinds(), NoticeTimingViolation)
	require.Equal(t, false, r.null.sent[len(r.null.sent)-1])
}

func TestCoexPermitDefersVoluntaryTransitions(t *testing.T) {
	r := newRig(t)
	r.permit.deny = true
	r.handle(EvPSRequest, 0)
	require.Equal(t, StateActive, r.ctl.State())
	require.Empty(t, r.null.sent)

	// A slot change while still denied keeps it deferred.
	r.handle(EvCoexSlot, 0)
	require.Equal(t, StateActive, r.ctl.State())

	r.permit.deny = false
	r.handle(EvCoexSlot, 0)
	require.Equal(t, StateActiveNull, r.ctl.State())
}

func TestHostOverrideFromOff(t *testing.T) {
	r := newRig(t)
	r.enterOff(t)
	r.handle(EvPSLeave, 0)

	require.Equal(t, StateActive, r.ctl.State())
	require.Equal(t, []bool{true, false}, r.null.sent)
	require.False(t, r.timers.Armed(core.TimerBeaconEarly))
	require.False(t, r.timers.Armed(core.TimerDriftCorrect))

	// Already active: no second wake announce.
	r.handle(EvPSLeave, 0)
	require.Len(t, r.null.sent, 2)
}

func TestScanPausesTx(t *testing.T) {
	r := newRig(t)
	r.enterOff(t)
	r.handle(EvScanStart, 0)
	require.Equal(t, StateScan, r.ctl.State())
	reason, _ := r.ledger.Active()
	require.Equal(t, txpause.ReasonScan, reason)
	require.True(t, r.file.PSCtrl().RFOn())

	r.handle(EvScanDone, 0)
	require.Equal(t, StateActive, r.ctl.State())
	require.False(t, r.ledger.Paused())
}

func TestNoticeOfAbsence(t *testing.T) {
	r := newRig(t)
	r.handle(EvNoAStart, 0)
	require.Equal(t, StateNoA, r.ctl.State())
	ps := r.file.PSCtrl()
	require.False(t, ps.RFOn())
	require.True(t, ps.Retained())
	r.handle(EvNoAEnd, 0)
	require.Equal(t, StateActive, r.ctl.State())
}

func TestRegisterMismatchFaults(t *testing.T) {
	r := newRig(t)
	resets := 0
	r.diag.SetResetHandler(func() { resets++ })
	r.bus.OnWrite(r.cal.Layout.MAC.Addr(regs.RegPSCtrl), func(v uint32) uint32 { return v &^ 0x7 })

	r.handle(EvNoAStart, 0)
	require.Equal(t, core.FaultStateMismatch, r.diag.LastFault().Code)
	require.Equal(t, 1, resets)
}

func TestStateChangeNotices(t *testing.T) {
	r := newRig(t)
	r.enterOff(t)
	var path []State
	for _, n := range r.notices {
		require.Equal(t, NoticeStateChange, n.Kind)
		path = append(path, n.To)
	}
	require.Equal(t, []State{StateActiveNull, StateRFOnRetain, StateRFOnRetainNull, StateOff}, path)
}
