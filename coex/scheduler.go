package coex

import (
	"errors"
	"math/rand/v2"

	"wlfw/calib"
	"wlfw/core"
	"wlfw/mailbox"
	"wlfw/regs"
	"wlfw/txpause"
)

var (
	// ErrSlotRange rejects slot lengths that do not fit the interval.
	ErrSlotRange = errors.New("coex: slot lengths do not fit the interval")
	// ErrLoopbackBusy is returned while a loopback exchange is pending.
	ErrLoopbackBusy = errors.New("coex: loopback in progress")
	// ErrVariant rejects an unknown slot table variant.
	ErrVariant = errors.New("coex: unknown slot table variant")
)

// Announcer sends the null frame that tells the AP to buffer (pm set)
// or release (pm clear) traffic.
type Announcer interface {
	SendNull(pm bool) error
}

// TxQueue reports whether WL has nothing to send.
type TxQueue interface {
	Empty() bool
}

// NoticeKind classifies scheduler notices.
type NoticeKind uint8

const (
	NoticeSlot          NoticeKind = iota // Owner, Length
	NoticePeerBusy                        // mailbox unacknowledged, neutral fallback
	NoticeChannelStatus                   // Value = retries, Slots = BT slots
	NoticeCalibration                     // Value = 1 start, 0 done
	NoticeLoopback                        // Value = seq, OK
	NoticeRoleChange                      // Value = 1 start, 0 done
)

func (n NoticeKind) String() string {
	switch n {
	case NoticeSlot:
		return "slot"
	case NoticePeerBusy:
		return "peer_busy"
	case NoticeChannelStatus:
		return "channel_status"
	case NoticeCalibration:
		return "calibration"
	case NoticeLoopback:
		return "loopback"
	case NoticeRoleChange:
		return "role_change"
	}
	return "notice?"
}

// Notice is emitted by the scheduler on the main-loop side.
type Notice struct {
	Kind   NoticeKind
	Owner  Owner
	Length uint32
	Value  uint32
	Slots  uint16
	OK     bool
}

// Config wires a scheduler.
type Config struct {
	Calib    calib.Coex
	Regs     *regs.File
	Timers   *core.TimerBank
	Diag     *core.Diagnostics
	Clock    core.Clock
	Ledger   *txpause.Ledger
	Mailbox  *mailbox.Endpoint
	Announce Announcer
	TxQueue  TxQueue
	Notify   func(Notice)
}

// Scheduler owns the coexistence schedule.
type Scheduler struct {
	cfg      calib.Coex
	file     *regs.File
	timers   *core.TimerBank
	diag     *core.Diagnostics
	clock    core.Clock
	ledger   *txpause.Ledger
	mbox     *mailbox.Endpoint
	announce Announcer
	txq      TxQueue
	notify   func(Notice)

	pcg *rand.PCG
	rng *rand.Rand

	mode     Mode
	table    TableID
	interval uint32
	wlSlot   uint32
	btSlot   uint32
	owner    Owner
	running  bool

	plan  [maxPhases]Phase
	nplan int
	cur   int

	released bool
	usedBT   uint32

	ring      [RingSize]SlotRecord
	ringHead  int
	ringCount int

	leak     uint8
	leakCap  uint8
	leakUsed bool
	leakAP   bool

	nullOnBT  bool
	connected bool

	calibrating bool
	roleChange  bool
	panMode     bool
	panLeft     uint16
	panDuration uint16
	fallback    bool

	retryThreshold uint8
	penaltyStep    uint32
	penalty        uint32
	penaltyNext    uint32
	retrySum       uint32
	retrySlots     uint16
	reportPeriod   uint16
	sinceReport    uint16

	pageScanUS uint32

	loopSeq     uint8
	loopPattern uint32
	loopPending bool
}

// New creates the scheduler, claims the slot timer and takes the
// mailbox outcome hook.
func New(cfg Config) *Scheduler {
	s := &Scheduler{
		cfg:      cfg.Calib,
		file:     cfg.Regs,
		timers:   cfg.Timers,
		diag:     cfg.Diag,
		clock:    cfg.Clock,
		ledger:   cfg.Ledger,
		mbox:     cfg.Mailbox,
		announce: cfg.Announce,
		txq:      cfg.TxQueue,
		notify:   cfg.Notify,
	}
	s.pcg = rand.NewPCG(cfg.Calib.Seed, cfg.Calib.Seed^0x9e3779b97f4a7c15)
	s.rng = rand.New(s.pcg)
	s.timers.Assign(core.TimerCoexSlot, s.onSlot)
	if s.mbox != nil {
		s.mbox.SetOutcome(s.onOutcome)
	}
	return s
}

// Reset restores the calibrated schedule, stops slot toggling and
// reseeds the extension source.
func (s *Scheduler) Reset() {
	s.timers.Disarm(core.TimerCoexSlot)
	s.pcg.Seed(s.cfg.Seed, s.cfg.Seed^0x9e3779b97f4a7c15)

	s.mode = ModeStatic
	s.table = TableNeutral
	s.interval = s.cfg.IntervalUS
	s.wlSlot = s.cfg.WLSlotUS
	s.btSlot = s.cfg.BTSlotUS
	s.owner = OwnerDefault
	s.running = false
	s.nplan, s.cur = 0, 0
	s.released = false
	s.ring = [RingSize]SlotRecord{}
	s.ringHead, s.ringCount = 0, 0
	s.leak, s.leakCap, s.leakUsed = 0, s.cfg.LeakMax, false
	s.leakAP = true
	s.nullOnBT = false
	s.connected = false
	s.calibrating, s.roleChange, s.panMode, s.fallback = false, false, false, false
	s.panLeft, s.panDuration = 0, 0
	s.retryThreshold = s.cfg.RetryThreshold
	s.penaltyStep = s.cfg.RetryPenaltyUS
	s.penalty, s.penaltyNext = 0, 0
	s.retrySum, s.retrySlots = 0, 0
	s.reportPeriod, s.sinceReport = 0, 0
	s.pageScanUS = 0
	s.loopPending = false

	s.unpause(txpause.ReasonBTSlot)
	s.unpause(txpause.ReasonCalibration)
	s.apply()
}

// Start begins slot toggling with the first WL slot at the current time.
func (s *Scheduler) Start() {
	if s.running {
		return
	}
	s.running = true
	now := s.clock.Now()
	s.planInterval()
	s.cur = 0
	s.enter(s.plan[0])
	s.timers.Arm(core.TimerCoexSlot, now+s.plan[0].Length)
}

// Stop ends slot toggling and hands the front-end to the default owner.
func (s *Scheduler) Stop() {
	if !s.running {
		return
	}
	s.running = false
	s.timers.Disarm(core.TimerCoexSlot)
	s.owner = OwnerDefault
	s.unpause(txpause.ReasonBTSlot)
	s.apply()
}

// Running reports whether slots are toggling.
func (s *Scheduler) Running() bool { return s.running }

func (s *Scheduler) onSlot(t *core.Timer) uint8 {
	if !s.running {
		return core.SF_DONE
	}
	s.record()
	s.cur++
	if s.cur >= s.nplan {
		s.endInterval()
		s.planInterval()
		s.cur = 0
	}
	p := s.plan[s.cur]
	s.enter(p)
	t.WakeTime += p.Length
	return core.SF_RESCHEDULE
}

func (s *Scheduler) record() {
	p := s.plan[s.cur]
	length := p.Length
	if p.Owner == OwnerBT {
		if s.released {
			length = s.usedBT
		}
		if s.leakUsed {
			if s.leakCap > 1 {
				s.leakCap--
			}
		} else {
			s.leakCap = s.cfg.LeakMax
		}
	}
	s.ring[s.ringHead] = SlotRecord{Owner: p.Owner, Length: length}
	s.ringHead = (s.ringHead + 1) % RingSize
	if s.ringCount < RingSize {
		s.ringCount++
	}
}

func (s *Scheduler) enter(p Phase) {
	prev := s.owner
	s.owner = p.Owner
	s.released = false

	if p.Owner == OwnerBT {
		s.leak = s.leakCap
		s.leakUsed = false
		if !s.calibrating {
			s.pause(txpause.ReasonBTSlot)
		}
	} else {
		s.unpause(txpause.ReasonBTSlot)
	}
	s.apply()

	if s.nullOnBT && s.connected && s.announce != nil && prev != p.Owner {
		switch {
		case p.Owner == OwnerBT:
			s.announce.SendNull(true)
		case prev == OwnerBT:
			s.announce.SendNull(false)
		}
	}

	s.post(slotFrame(p.Owner, p.Length))
	s.diag.Trace(core.TraceSlot, uint8(p.Owner), s.clock.Now(), uint32(p.Owner), p.Length)
	s.emit(Notice{Kind: NoticeSlot, Owner: p.Owner, Length: p.Length})
}

func (s *Scheduler) endInterval() {
	if s.reportPeriod == 0 {
		return
	}
	s.sinceReport++
	if s.sinceReport >= s.reportPeriod {
		s.emit(Notice{Kind: NoticeChannelStatus, Value: s.retrySum, Slots: s.retrySlots})
		s.sinceReport = 0
		s.retrySum, s.retrySlots = 0, 0
	}
}

func (s *Scheduler) room(slot uint32) uint32 {
	if slot > s.cfg.MinSlotUS {
		return slot - s.cfg.MinSlotUS
	}
	return 0
}

func (s *Scheduler) idle() bool {
	wlIdle := s.txq == nil || s.txq.Empty()
	btIdle := !s.file.Scoreboard(regs.BTToWL).Has(regs.SBBusy)
	return wlIdle && btIdle
}

// planInterval lays out the slots of the next interval. Every adjustment
// moves time between the WL and BT slots, so their sum never grows past
// the configured lengths and never past the interval.
func (s *Scheduler) planInterval() {
	w, b := s.wlSlot, s.btSlot

	if s.mode == ModeDynamic {
		if used, ok := s.recentBTMax(); ok && used < b {
			nb := max(used, s.cfg.MinSlotUS)
			if nb < b {
				w += b - nb
				b = nb
			}
		}
	}

	if s.penaltyNext > 0 {
		p := min(s.penaltyNext, s.room(w))
		w -= p
		b += p
		s.penaltyNext = 0
	}

	if s.cfg.ExtendMaxUS > 0 && s.idle() {
		ext := s.rng.Uint32N(s.cfg.ExtendMaxUS + 1)
		if s.rng.Uint32()&1 == 0 {
			ext = min(ext, s.room(b))
			w += ext
			b -= ext
		} else {
			ext = min(ext, s.room(w))
			b += ext
			w -= ext
		}
	}

	// A timed pan mode covers panDuration planned intervals.
	if s.panMode && s.panDuration > 0 {
		if s.panLeft == 0 {
			s.panMode = false
		} else {
			s.panLeft--
		}
	}
	pairs := uint32(1)
	if s.panMode && s.cfg.PanSlots > 1 {
		pairs = min(uint32(s.cfg.PanSlots), (maxPhases-1)/2)
	}
	n := 0
	for i := uint32(0); i < pairs; i++ {
		wl, bt := w/pairs, b/pairs
		if i == pairs-1 {
			wl = w - (pairs-1)*(w/pairs)
			bt = b - (pairs-1)*(b/pairs)
		}
		s.plan[n] = Phase{Owner: OwnerWL, Length: wl}
		s.plan[n+1] = Phase{Owner: OwnerBT, Length: bt}
		n += 2
	}
	if w+b < s.interval {
		s.plan[n] = Phase{Owner: OwnerDefault, Length: s.interval - w - b}
		n++
	}
	s.nplan = n
}

func (s *Scheduler) recentBTMax() (uint32, bool) {
	var best uint32
	found := false
	for i := 0; i < s.ringCount; i++ {
		r := s.ring[i]
		if r.Owner != OwnerBT {
			continue
		}
		if !found || r.Length > best {
			best = r.Length
			found = true
		}
	}
	return best, found
}

// Plan returns the phases of the interval in progress.
func (s *Scheduler) Plan() []Phase {
	return s.plan[:s.nplan]
}

func (s *Scheduler) tableFor() TableID {
	switch {
	case s.mode == ModeForced:
		return s.table
	case s.fallback:
		return TableNeutral
	case s.mode == ModeDynamic:
		switch s.owner {
		case OwnerWL:
			return TableWLPri
		case OwnerBT:
			return TableBTPri
		}
		return TableNeutral
	}
	return s.table
}

func (s *Scheduler) apply() {
	s.file.SetCoexCtrl(regs.MakeCoexCtrl(uint8(s.tableFor()), uint8(s.owner), s.owner == OwnerBT))
}

var coexReasons = [...]txpause.Reason{txpause.ReasonBTSlot, txpause.ReasonCalibration}

// pause makes r the only coex reason. Held by power or host, r waits in
// the ledger and takes over when they clear.
func (s *Scheduler) pause(r txpause.Reason) {
	for _, other := range coexReasons {
		if other != r {
			_ = s.ledger.Clear(txpause.OwnerCoex, other)
		}
	}
	_ = s.ledger.Set(txpause.OwnerCoex, r)
}

func (s *Scheduler) unpause(r txpause.Reason) {
	_ = s.ledger.Clear(txpause.OwnerCoex, r)
}

func (s *Scheduler) post(f mailbox.Frame) error {
	if s.mbox == nil {
		return nil
	}
	err := s.mbox.Post(f)
	if err != nil {
		s.peerBusy()
	}
	return err
}

func (s *Scheduler) peerBusy() {
	s.diag.Inc(core.CtrCoexFallback)
	if s.fallback {
		return
	}
	s.fallback = true
	s.apply()
	s.emit(Notice{Kind: NoticePeerBusy, Owner: s.owner})
}

func (s *Scheduler) onOutcome(f mailbox.Frame, err error) {
	if err != nil {
		if MsgID(f[0]) == MsgLoopback && s.loopPending {
			s.loopPending = false
			s.emit(Notice{Kind: NoticeLoopback, Value: uint32(f[1]), OK: false})
		}
		s.peerBusy()
		return
	}
	if s.fallback {
		s.fallback = false
		s.apply()
	}
}

func (s *Scheduler) emit(n Notice) {
	if s.notify != nil {
		s.notify(n)
	}
}
