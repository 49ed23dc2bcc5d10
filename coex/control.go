package coex

import (
	"wlfw/core"
	"wlfw/mailbox"
	"wlfw/regs"
	"wlfw/txpause"
)

// HandleFrame consumes a frame from the BT mailbox. It returns false for
// an unknown message id.
func (s *Scheduler) HandleFrame(f mailbox.Frame) bool {
	switch MsgID(f[0]) {
	case MsgBTEarlyRelease:
		s.earlyRelease(le.Uint32(f[2:6]))
	case MsgBTRetry:
		s.retries(f[1])
	case MsgBTCalibration:
		s.setCalibrating(f[1] != 0)
	case MsgBTRoleChange:
		if on := f[1] != 0; on != s.roleChange {
			s.roleChange = on
			s.emit(Notice{Kind: NoticeRoleChange, Value: uint32(f[1])})
		}
	case MsgBTPan:
		s.panMode = f[1] != 0
		s.panLeft = 0
		if s.panMode {
			s.panLeft = s.panDuration
		}
	case MsgLoopbackReply:
		if !s.loopPending || f[1] != s.loopSeq {
			return true
		}
		s.loopPending = false
		ok := le.Uint32(f[2:6]) == s.loopPattern
		s.emit(Notice{Kind: NoticeLoopback, Value: uint32(f[1]), OK: ok})
	default:
		s.diag.Inc(core.CtrProtocolError)
		return false
	}
	return true
}

func (s *Scheduler) earlyRelease(used uint32) {
	if s.owner != OwnerBT || s.released {
		return
	}
	s.released = true
	s.usedBT = min(used, s.plan[s.cur].Length)
	s.owner = OwnerWL
	s.unpause(txpause.ReasonBTSlot)
	s.apply()
	s.emit(Notice{Kind: NoticeSlot, Owner: OwnerWL, Length: s.plan[s.cur].Length - s.usedBT})
}

func (s *Scheduler) retries(n uint8) {
	s.retrySum += uint32(n)
	s.retrySlots++
	if s.retryThreshold == 0 || n <= s.retryThreshold {
		s.penalty = 0
		return
	}
	s.penalty = min(s.penalty+s.penaltyStep, s.cfg.PenaltyMaxUS)
	s.penaltyNext = s.penalty
}

func (s *Scheduler) setCalibrating(on bool) {
	if on == s.calibrating {
		return
	}
	s.calibrating = on
	if on {
		s.pause(txpause.ReasonCalibration)
		s.emit(Notice{Kind: NoticeCalibration, Value: 1})
		return
	}
	s.unpause(txpause.ReasonCalibration)
	if s.owner == OwnerBT {
		s.pause(txpause.ReasonBTSlot)
	}
	s.emit(Notice{Kind: NoticeCalibration, Value: 0})
}

// PowerTransitionPermitted is false while BT calibrates or changes role.
func (s *Scheduler) PowerTransitionPermitted() bool {
	return !s.calibrating && !s.roleChange
}

// RequestLeak asks for a WL receive opportunity. Outside BT slots it is
// always granted; inside one it consumes the leak allowance.
func (s *Scheduler) RequestLeak() bool {
	if s.owner != OwnerBT {
		return true
	}
	if !s.leakAP || s.leak == 0 {
		return false
	}
	s.leak--
	s.leakUsed = true
	s.diag.Inc(core.CtrLeakGrant)
	return true
}

// SetMode selects how the priority table follows the schedule.
func (s *Scheduler) SetMode(m Mode) {
	if m > ModeForced {
		m = ModeStatic
	}
	if m == s.mode {
		return
	}
	s.mode = m
	s.apply()
	s.syncTable()
}

// SetTable selects the table used in static and forced modes.
func (s *Scheduler) SetTable(t TableID) {
	if t >= NumTables {
		t = TableNeutral
	}
	if t == s.table {
		return
	}
	s.table = t
	s.apply()
	s.syncTable()
}

func (s *Scheduler) syncTable() {
	var f mailbox.Frame
	f[0] = byte(MsgTableSync)
	f[1] = byte(s.tableFor())
	f[2] = byte(s.mode)
	s.post(f)
}

// SetSlots changes the WL and BT slot lengths from the next interval on.
func (s *Scheduler) SetSlots(wl, bt uint32) error {
	if wl < s.cfg.MinSlotUS || bt < s.cfg.MinSlotUS || uint64(wl)+uint64(bt) > uint64(s.interval) {
		return ErrSlotRange
	}
	s.wlSlot, s.btSlot = wl, bt
	return nil
}

// SetInterval changes the TDMA interval from the next interval on.
func (s *Scheduler) SetInterval(us uint32) error {
	if uint64(s.wlSlot)+uint64(s.btSlot) > uint64(us) {
		return ErrSlotRange
	}
	s.interval = us
	return nil
}

// SetSlotTable replaces interval and slot lengths together.
func (s *Scheduler) SetSlotTable(intervalUS, wl, bt uint32) error {
	if wl < s.cfg.MinSlotUS || bt < s.cfg.MinSlotUS || uint64(wl)+uint64(bt) > uint64(intervalUS) {
		return ErrSlotRange
	}
	s.interval, s.wlSlot, s.btSlot = intervalUS, wl, bt
	return nil
}

// slotVariants are WL shares of the interval in percent; variant 0 is
// the calibrated split.
var slotVariants = [...]uint8{0, 70, 30, 50, 85}

// NumVariants is the number of slot table variants.
const NumVariants = len(slotVariants)

// SetVariant applies a canned WL/BT split of the current interval.
func (s *Scheduler) SetVariant(v uint8) error {
	if int(v) >= NumVariants {
		return ErrVariant
	}
	if v == 0 {
		return s.SetSlots(s.cfg.WLSlotUS, s.cfg.BTSlotUS)
	}
	wl := s.interval / 100 * uint32(slotVariants[v])
	return s.SetSlots(wl, s.interval-wl)
}

func (s *Scheduler) SetLeakAP(on bool) { s.leakAP = on }

func (s *Scheduler) SetNullOnBTSlot(on bool) { s.nullOnBT = on }

// SetConnected tells the scheduler whether WL is associated.
func (s *Scheduler) SetConnected(on bool) { s.connected = on }

// SetRetryReport sets the channel-status report period in intervals
// (0 disables it) and the per-slot retry threshold for the penalty.
func (s *Scheduler) SetRetryReport(period uint16, threshold uint8) {
	s.reportPeriod = period
	s.sinceReport = 0
	s.retryThreshold = threshold
}

// SetRetryPenalty sets the BT slot extension per slot over threshold.
func (s *Scheduler) SetRetryPenalty(us uint32) {
	s.penaltyStep = min(us, s.cfg.PenaltyMaxUS)
}

// SetPanDuration sets how many intervals pan mode lasts once BT enables
// it; 0 keeps it until BT turns it off.
func (s *Scheduler) SetPanDuration(intervals uint16) { s.panDuration = intervals }

// SetPageScan forwards the page-scan interval to BT.
func (s *Scheduler) SetPageScan(us uint32) error {
	s.pageScanUS = us
	var f mailbox.Frame
	f[0] = byte(MsgPageScan)
	le.PutUint32(f[2:6], us)
	return s.post(f)
}

// Loopback sends an echo request through the mailbox. The result arrives
// as a NoticeLoopback.
func (s *Scheduler) Loopback(pattern uint32) (uint8, error) {
	if s.loopPending {
		return 0, ErrLoopbackBusy
	}
	seq := s.loopSeq + 1
	if err := s.post(loopbackFrame(MsgLoopback, seq, pattern)); err != nil {
		return 0, err
	}
	s.loopSeq = seq
	s.loopPattern = pattern
	s.loopPending = true
	return seq, nil
}

// Status flags published on the scoreboard.
type Status struct {
	WLOn      bool
	Active    bool
	Scan      bool
	Connected bool
	UnderLPS  bool
}

// UpdateScoreboard publishes the WL status word and records whether WL
// is connected.
func (s *Scheduler) UpdateScoreboard(st Status) regs.Scoreboard {
	s.connected = st.Connected
	sb := regs.Scoreboard(0).
		With(regs.SBWLOn, st.WLOn).
		With(regs.SBActive, st.Active).
		With(regs.SBScan, st.Scan).
		With(regs.SBConnected, st.Connected).
		With(regs.SBUnderLPS, st.UnderLPS).
		With(regs.SBBusy, s.txq != nil && !s.txq.Empty())
	s.file.SetScoreboard(sb)
	return sb
}

// Scoreboard reads back the published WL status word.
func (s *Scheduler) Scoreboard() regs.Scoreboard {
	return s.file.Scoreboard(regs.WLToBT)
}

// Schedule returns a snapshot of the scheduler state.
func (s *Scheduler) Schedule() Schedule {
	return Schedule{
		Owner:       s.owner,
		Table:       s.tableFor(),
		Mode:        s.mode,
		IntervalUS:  s.interval,
		WLSlotUS:    s.wlSlot,
		BTSlotUS:    s.btSlot,
		Leak:        s.leak,
		LeakCap:     s.leakCap,
		Calibrating: s.calibrating,
		RoleChange:  s.roleChange,
		PanMode:     s.panMode,
		Fallback:    s.fallback,
	}
}

// LastSlots copies the most recent slot records into dst, newest first,
// and returns how many were copied.
func (s *Scheduler) LastSlots(dst []SlotRecord) int {
	n := min(len(dst), s.ringCount)
	for i := 0; i < n; i++ {
		idx := (s.ringHead - 1 - i + RingSize) % RingSize
		dst[i] = s.ring[idx]
	}
	return n
}
