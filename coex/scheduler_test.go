package coex

import (
	"testing"

	"github.com/stretchr/testify/require"

	"wlfw/calib"
	"wlfw/core"
	"wlfw/mailbox"
	"wlfw/regs"
	"wlfw/txpause"
)

type fakeNull struct{ sent []bool }

func (n *fakeNull) SendNull(pm bool) error {
	n.sent = append(n.sent, pm)
	return nil
}

type fakeQueue struct{ pending int }

func (q *fakeQueue) Empty() bool { return q.pending == 0 }

type rig struct {
	t      *testing.T
	cal    calib.Calibration
	clock  *core.ManualClock
	bus    *regs.SimBus
	file   *regs.File
	timers *core.TimerBank
	diag   *core.Diagnostics
	ledger *txpause.Ledger
	wl     *mailbox.Endpoint
	bt     *mailbox.Endpoint
	null   *fakeNull
	queue  *fakeQueue
	s      *Scheduler

	notices []Notice
	toBT    []mailbox.Frame
	deaf    bool // BT stops draining its mailbox
}

func newRig(t *testing.T, tune func(*calib.Coex)) *rig {
	t.Helper()
	cal := calib.Default()
	if tune != nil {
		tune(&cal.Coex)
	}
	r := &rig{
		t:      t,
		cal:    cal,
		clock:  &core.ManualClock{},
		bus:    regs.NewSimBus(),
		timers: core.NewTimerBank(),
		diag:   &core.Diagnostics{},
		null:   &fakeNull{},
		queue:  &fakeQueue{},
	}
	r.file = regs.NewFile(r.bus, cal.Layout)
	r.ledger = txpause.New(r.file, r.diag, r.clock)
	r.ledger.Reset()
	r.wl = mailbox.New(mailbox.Config{
		Regs:    r.file,
		TX:      regs.WLToBT,
		IRQ:     core.NewIRQController(),
		Timers:  r.timers,
		Diag:    r.diag,
		Clock:   r.clock,
		Timeout: cal.Coex.MailboxTimeoutUS,
	})
	r.bt = mailbox.New(mailbox.Config{Regs: r.file, TX: regs.BTToWL})
	r.bt.SetDrainNotify(r.wl.OnTxDrained)
	r.wl.SetDrainNotify(r.bt.OnTxDrained)
	r.wl.Init()

	r.s = New(Config{
		Calib:    cal.Coex,
		Regs:     r.file,
		Timers:   r.timers,
		Diag:     r.diag,
		Clock:    r.clock,
		Ledger:   r.ledger,
		Mailbox:  r.wl,
		Announce: r.null,
		TxQueue:  r.queue,
		Notify:   func(n Notice) { r.notices = append(r.notices, n) },
	})
	r.s.Reset()
	return r
}

// drain plays the BT side taking whatever WL posted.
func (r *rig) drain() {
	if r.deaf {
		return
	}
	if f, ok := r.bt.Receive(); ok {
		r.toBT = append(r.toBT, f)
	}
}

func (r *rig) runTo(t uint32) {
	for {
		r.drain()
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

// fromBT delivers a frame over the BT to WL direction.
func (r *rig) fromBT(f mailbox.Frame) {
	r.t.Helper()
	require.NoError(r.t, r.bt.Post(f))
	got, ok := r.wl.Receive()
	require.True(r.t, ok)
	r.s.HandleFrame(got)
}

func (r *rig) kinds(k NoticeKind) []Notice {
	var out []Notice
	for _, n := range r.notices {
		if n.Kind == k {
			out = append(out, n)
		}
	}
	return out
}

func TestNoDoubleBooking(t *testing.T) {
	r := newRig(t, nil)
	r.s.SetMode(ModeDynamic)
	r.drain()
	r.s.Start()
	r.fromBT(FlagFrame(MsgBTPan, true))

	interval := r.cal.Coex.IntervalUS
	for k := uint32(1); k <= 200; k++ {
		if k%3 == 0 {
			r.fromBT(RetryFrame(9))
		}
		if k%5 == 0 {
			r.fromBT(FlagFrame(MsgBTPan, k%10 == 0))
		}
		// Land inside a BT slot now and then and release it early.
		if k%7 == 0 {
			r.runTo((k-1)*interval + interval/2 + 100)
			r.fromBT(EarlyReleaseFrame(1000))
		}
		if k%4 == 0 {
			r.queue.pending = int(k % 3)
		}

		r.runTo(k * interval)

		var wl, bt, total uint32
		for _, p := range r.s.Plan() {
			total += p.Length
			switch p.Owner {
			case OwnerWL:
				wl += p.Length
			case OwnerBT:
				bt += p.Length
			}
		}
		require.Equal(t, interval, total, "interval %d", k)
		require.LessOrEqual(t, wl+bt, interval, "interval %d", k)

		// Slot boundaries line up with the interval grid.
		dl, ok := r.timers.Deadline(core.TimerCoexSlot)
		require.True(t, ok)
		require.Equal(t, k*interval+r.s.Plan()[0].Length, dl, "interval %d", k)
	}
	require.False(t, r.s.Schedule().Fallback)
	require.Zero(t, r.diag.Get(core.CtrCoexFallback))
}

func TestStaticPlanSplitsInterval(t *testing.T) {
	r := newRig(t, func(c *calib.Coex) { c.ExtendMaxUS = 0 })
	r.s.Start()
	require.Equal(t, []Phase{
		{Owner: OwnerWL, Length: 51200},
		{Owner: OwnerBT, Length: 51200},
	}, r.s.Plan())
	require.Equal(t, OwnerWL, r.s.Schedule().Owner)
	require.False(t, r.ledger.Paused())

	r.runTo(51200)
	require.Equal(t, OwnerBT, r.s.Schedule().Owner)
	reason, ok := r.ledger.Active()
	require.True(t, ok)
	require.Equal(t, txpause.ReasonBTSlot, reason)
	require.True(t, r.file.CoexCtrl().AntennaBT())

	r.runTo(102400)
	require.Equal(t, OwnerWL, r.s.Schedule().Owner)
	require.False(t, r.ledger.Paused())

	var last [RingSize]SlotRecord
	n := r.s.LastSlots(last[:])
	require.Equal(t, 2, n)
	require.Equal(t, SlotRecord{Owner: OwnerBT, Length: 51200}, last[0])
	require.Equal(t, SlotRecord{Owner: OwnerWL, Length: 51200}, last[1])

	// Every slot change was announced to BT.
	require.Len(t, r.toBT, 3)
	require.Equal(t, byte(MsgSlot), r.toBT[1][0])
	require.Equal(t, byte(OwnerBT), r.toBT[1][1])

	r.s.Stop()
	require.False(t, r.timers.Armed(core.TimerCoexSlot))
	require.Equal(t, OwnerDefault, r.s.Schedule().Owner)
}


func TestBTSlotPauseWaitsForHost(t *testing.T) {
	r := newRig(t, func(c *calib.Coex) { c.ExtendMaxUS = 0 })
	require.NoError(t, r.ledger.Set(txpause.OwnerHost, txpause.ReasonHostOverride))
	r.s.Start()

	r.runTo(51200)
	require.Equal(t, OwnerBT, r.s.Schedule().Owner)
	require.True(t, r.ledger.Pending(txpause.ReasonBTSlot))

	// The host lets go inside the BT slot; BT keeps TX stopped.
	require.NoError(t, r.ledger.Clear(txpause.OwnerHost, txpause.ReasonHostOverride))
	require.True(t, r.file.TxPause().Paused())
	require.Equal(t, uint8(txpause.ReasonBTSlot), r.file.TxPause().Reason())

	r.runTo(102400)
	require.Equal(t, OwnerWL, r.s.Schedule().Owner)
	require.False(t, r.ledger.Paused())
}

func TestShorterSlotsLeaveDefaultRemainder(t *testing.T) {
	r := newRig(t, func(c *calib.Coex) { c.ExtendMaxUS = 0 })
	require.NoError(t, r.s.SetSlots(30*1024, 40*1024))
	r.s.Start()
	require.Equal(t, []Phase{
		{Owner: OwnerWL, Length: 30 * 1024},
		{Owner: OwnerBT, Length: 40 * 1024},
		{Owner: OwnerDefault, Length: 30 * 1024},
	}, r.s.Plan())

	require.ErrorIs(t, r.s.SetSlots(60*1024, 50*1024), ErrSlotRange)
	require.ErrorIs(t, r.s.SetSlots(1024, 50*1024), ErrSlotRange)
	require.ErrorIs(t, r.s.SetInterval(50*1024), ErrSlotRange)
	require.Equal(t, uint32(30*1024), r.s.Schedule().WLSlotUS)
}

func TestLeakAllowanceAtMaximumGrantsFirst(t *testing.T) {
	r := newRig(t, func(c *calib.Coex) { c.ExtendMaxUS = 0 })
	r.s.Start()

	// Outside BT slots WL receive is never restricted.
	require.True(t, r.s.RequestLeak())
	require.Zero(t, r.diag.Get(core.CtrLeakGrant))

	r.runTo(51200)
	sc := r.s.Schedule()
	require.Equal(t, OwnerBT, sc.Owner)
	require.Equal(t, r.cal.Coex.LeakMax, sc.Leak)

	require.True(t, r.s.RequestLeak())
	require.Equal(t, r.cal.Coex.LeakMax-1, r.s.Schedule().Leak)
	for i := 1; i < int(r.cal.Coex.LeakMax); i++ {
		require.True(t, r.s.RequestLeak())
	}
	require.False(t, r.s.RequestLeak())
	require.Equal(t, uint32(r.cal.Coex.LeakMax), r.diag.Get(core.CtrLeakGrant))

	// The allowance decays after a slot that used it.
	r.runTo(102400 + 51200)
	require.Equal(t, uint8(3), r.s.Schedule().Leak)

	// And resets after one that did not.
	r.runTo(2*102400 + 51200)
	require.Equal(t, uint8(4), r.s.Schedule().Leak)
}

func TestLeakAllowanceDecayFloor(t *testing.T) {
	r := newRig(t, func(c *calib.Coex) { c.ExtendMaxUS = 0 })
	r.s.Start()

	var caps []uint8
	for k := uint32(0); k < 6; k++ {
		r.runTo(k*102400 + 51200)
		caps = append(caps, r.s.Schedule().Leak)
		for r.s.RequestLeak() {
		}
	}
	require.Equal(t, []uint8{4, 3, 2, 1, 1, 1}, caps)
}

func TestLeakAPDisabled(t *testing.T) {
	r := newRig(t, func(c *calib.Coex) { c.ExtendMaxUS = 0 })
	r.s.SetLeakAP(false)
	r.s.Start()
	r.runTo(51200)
	require.False(t, r.s.RequestLeak())
}

func TestNullAnnounceAroundBTSlot(t *testing.T) {
	r := newRig(t, func(c *calib.Coex) { c.ExtendMaxUS = 0 })
	r.s.SetNullOnBTSlot(true)
	r.s.Start()
	r.runTo(51200)
	require.Empty(t, r.null.sent, "not connected")

	sb := r.s.UpdateScoreboard(Status{WLOn: true, Connected: true})
	require.True(t, sb.Has(regs.SBConnected))
	require.Equal(t, sb, r.s.Scoreboard())

	r.runTo(102400 + 51200)
	require.Equal(t, []bool{false, true}, r.null.sent)
}

func TestConfigurationIdempotent(t *testing.T) {
	r := newRig(t, nil)

	r.s.SetTable(TableBTPri)
	r.drain()
	once := r.s.Schedule()
	frames := len(r.toBT)
	ctrl := r.file.CoexCtrl()

	r.s.SetTable(TableBTPri)
	r.drain()
	require.Equal(t, once, r.s.Schedule())
	require.Len(t, r.toBT, frames)
	require.Equal(t, ctrl, r.file.CoexCtrl())
	require.Equal(t, uint8(TableBTPri), ctrl.Table())

	require.NoError(t, r.s.SetSlots(40*1024, 40*1024))
	once = r.s.Schedule()
	require.NoError(t, r.s.SetSlots(40*1024, 40*1024))
	require.Equal(t, once, r.s.Schedule())

	r.s.SetMode(ModeForced)
	r.drain()
	once = r.s.Schedule()
	r.s.SetMode(ModeForced)
	require.Equal(t, once, r.s.Schedule())
	require.Zero(t, r.diag.Get(core.CtrMailboxBusy))
}

func TestSlotVariants(t *testing.T) {
	r := newRig(t, nil)
	require.NoError(t, r.s.SetVariant(1))
	sc := r.s.Schedule()
	require.Equal(t, uint32(1024*70), sc.WLSlotUS)
	require.Equal(t, uint32(1024*30), sc.BTSlotUS)

	require.NoError(t, r.s.SetVariant(0))
	require.Equal(t, r.cal.Coex.WLSlotUS, r.s.Schedule().WLSlotUS)
	require.ErrorIs(t, r.s.SetVariant(uint8(NumVariants)), ErrVariant)
}

func TestUnresponsivePeerFallsBackToNeutral(t *testing.T) {
	r := newRig(t, func(c *calib.Coex) { c.ExtendMaxUS = 0 })
	r.s.SetMode(ModeDynamic)
	r.drain()
	r.deaf = true
	r.s.Start()
	require.Equal(t, TableWLPri, r.s.Schedule().Table)

	r.runTo(r.cal.Coex.MailboxTimeoutUS)
	sc := r.s.Schedule()
	require.True(t, sc.Fallback)
	require.Equal(t, TableNeutral, sc.Table)
	require.Equal(t, uint8(TableNeutral), r.file.CoexCtrl().Table())
	require.Equal(t, uint32(1), r.diag.Get(core.CtrCoexFallback))
	require.Equal(t, uint32(1), r.diag.Get(core.CtrMailboxTimeout))
	require.Len(t, r.kinds(NoticePeerBusy), 1)

	// The next slot frame gets through and the schedule recovers.
	r.deaf = false
	r.runTo(51200)
	sc = r.s.Schedule()
	require.False(t, sc.Fallback)
	require.Equal(t, TableBTPri, sc.Table)
}

func TestForcedTableSurvivesFallback(t *testing.T) {
	r := newRig(t, func(c *calib.Coex) { c.ExtendMaxUS = 0 })
	r.s.SetMode(ModeForced)
	r.drain()
	r.s.SetTable(TableBTPri)
	r.drain()
	r.deaf = true
	r.s.Start()
	r.runTo(r.cal.Coex.MailboxTimeoutUS)
	sc := r.s.Schedule()
	require.True(t, sc.Fallback)
	require.Equal(t, TableBTPri, sc.Table)
}

func TestCalibrationBlocksPowerTransitions(t *testing.T) {
	r := newRig(t, func(c *calib.Coex) { c.ExtendMaxUS = 0 })
	r.s.Start()
	require.True(t, r.s.PowerTransitionPermitted())

	r.fromBT(FlagFrame(MsgBTCalibration, true))
	require.False(t, r.s.PowerTransitionPermitted())
	reason, _ := r.ledger.Active()
	require.Equal(t, txpause.ReasonCalibration, reason)

	// Entering the BT slot keeps the calibration pause.
	r.runTo(51200)
	reason, _ = r.ledger.Active()
	require.Equal(t, txpause.ReasonCalibration, reason)

	r.fromBT(FlagFrame(MsgBTCalibration, false))
	require.True(t, r.s.PowerTransitionPermitted())
	reason, _ = r.ledger.Active()
	require.Equal(t, txpause.ReasonBTSlot, reason)

	cal := r.kinds(NoticeCalibration)
	require.Len(t, cal, 2)
	require.Equal(t, uint32(1), cal[0].Value)
	require.Equal(t, uint32(0), cal[1].Value)

	r.fromBT(FlagFrame(MsgBTRoleChange, true))
	require.False(t, r.s.PowerTransitionPermitted())
	r.fromBT(FlagFrame(MsgBTRoleChange, false))
	require.True(t, r.s.PowerTransitionPermitted())
	require.Len(t, r.kinds(NoticeRoleChange), 2)
}

func TestEarlyReleaseReturnsSlotToWL(t *testing.T) {
	r := newRig(t, func(c *calib.Coex) { c.ExtendMaxUS = 0 })
	r.s.Start()
	r.runTo(51200 + 3000)
	r.fromBT(EarlyReleaseFrame(3000))
	require.Equal(t, OwnerWL, r.s.Schedule().Owner)
	require.False(t, r.ledger.Paused())

	r.runTo(102400)
	var last [1]SlotRecord
	r.s.LastSlots(last[:])
	require.Equal(t, SlotRecord{Owner: OwnerBT, Length: 3000}, last[0])
}

func TestRetryPenaltyAndChannelReport(t *testing.T) {
	r := newRig(t, func(c *calib.Coex) { c.ExtendMaxUS = 0 })
	r.s.SetRetryReport(2, 4)
	r.s.Start()

	r.fromBT(RetryFrame(9))
	r.runTo(102400)
	require.Equal(t, []Phase{
		{Owner: OwnerWL, Length: 51200 - 2048},
		{Owner: OwnerBT, Length: 51200 + 2048},
	}, r.s.Plan())

	r.fromBT(RetryFrame(2))
	r.runTo(2 * 102400)
	require.Equal(t, uint32(51200), r.s.Plan()[0].Length)

	st := r.kinds(NoticeChannelStatus)
	require.Len(t, st, 1)
	require.Equal(t, uint32(11), st[0].Value)
	require.Equal(t, uint16(2), st[0].Slots)
}

func TestPenaltyIsBounded(t *testing.T) {
	r := newRig(t, func(c *calib.Coex) { c.ExtendMaxUS = 0 })
	r.s.SetRetryPenalty(4096)
	r.s.Start()
	for i := 0; i < 10; i++ {
		r.fromBT(RetryFrame(200))
	}
	r.runTo(102400)
	require.Equal(t, 51200+r.cal.Coex.PenaltyMaxUS, r.s.Plan()[1].Length)
}

func TestPanModeSplitsSlots(t *testing.T) {
	r := newRig(t, func(c *calib.Coex) { c.ExtendMaxUS = 0 })
	r.s.SetPanDuration(2)
	r.s.Start()
	r.fromBT(FlagFrame(MsgBTPan, true))

	r.runTo(102400)
	require.Len(t, r.s.Plan(), 4)
	r.runTo(2 * 102400)
	require.Len(t, r.s.Plan(), 4)
	require.True(t, r.s.Schedule().PanMode)
	r.runTo(3 * 102400)
	require.Len(t, r.s.Plan(), 2)
	require.False(t, r.s.Schedule().PanMode)
}

func TestLoopback(t *testing.T) {
	r := newRig(t, nil)
	seq, err := r.s.Loopback(0xdeadbeef)
	require.NoError(t, err)
	_, err = r.s.Loopback(1)
	require.ErrorIs(t, err, ErrLoopbackBusy)

	r.drain()
	req := r.toBT[len(r.toBT)-1]
	require.Equal(t, byte(MsgLoopback), req[0])
	r.fromBT(LoopbackReply(req))

	lb := r.kinds(NoticeLoopback)
	require.Len(t, lb, 1)
	require.True(t, lb[0].OK)
	require.Equal(t, uint32(seq), lb[0].Value)
}

func TestLoopbackTimeout(t *testing.T) {
	r := newRig(t, nil)
	r.deaf = true
	_, err := r.s.Loopback(7)
	require.NoError(t, err)
	r.runTo(r.cal.Coex.MailboxTimeoutUS)

	lb := r.kinds(NoticeLoopback)
	require.Len(t, lb, 1)
	require.False(t, lb[0].OK)

	// A new exchange may start.
	r.deaf = false
	_, err = r.s.Loopback(8)
	require.NoError(t, err)
}

func TestUnknownFrame(t *testing.T) {
	r := newRig(t, nil)
	require.False(t, r.s.HandleFrame(mailbox.Frame{0x99}))
	require.Equal(t, uint32(1), r.diag.Get(core.CtrProtocolError))
}

func TestExtensionIsDeterministic(t *testing.T) {
	plans := func() [][]Phase {
		r := newRig(t, nil)
		r.s.Start()
		var out [][]Phase
		for k := uint32(1); k <= 10; k++ {
			r.runTo(k * 102400)
			out = append(out, append([]Phase(nil), r.s.Plan()...))
		}
		return out
	}
	a, b := plans(), plans()
	require.Equal(t, a, b)

	ext := extended(a)
	require.NotZero(t, ext, "idle stacks should see some extension")
}

// extended counts intervals whose WL slot differs from the calibrated one.
func extended(plans [][]Phase) int {
	n := 0
	for _, p := range plans {
		if p[0].Length != 51200 {
			n++
		}
	}
	return n
}

func TestBusyStacksGetNoExtension(t *testing.T) {
	r := newRig(t, nil)
	r.queue.pending = 1
	r.s.Start()
	for k := uint32(1); k <= 5; k++ {
		r.runTo(k * 102400)
		require.Equal(t, uint32(51200), r.s.Plan()[0].Length)
	}
	r.queue.pending = 0
	r.bus.Poke(r.cal.Layout.Mailbox.Addr(regs.RegScoreboardBT), uint32(regs.SBBusy))
	r.runTo(6 * 102400)
	require.Equal(t, uint32(51200), r.s.Plan()[0].Length)
}
