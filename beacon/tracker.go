package beacon

import (
	"wlfw/calib"
	"wlfw/core"
)

// Estimate is the timing record the power controller reads before arming
// the beacon timers.
type Estimate struct {
	AheadShift uint32 // receive window opens this long before TBTT
	EarlyShift uint32 // wake timer fires this long before TBTT
	Timeout    uint32 // beacon timeout, measured from the window opening
	CumDrift   int32  // phase correction applied since anchoring
	Samples    uint16 // beacons observed since anchoring
}

// Tracker predicts TBTT on the local µs clock and owns the corrector.
type Tracker struct {
	cfg      calib.Beacon
	corr     Corrector
	interval uint32 // µs between beacons the station listens to

	anchored bool
	tbtt     uint32 // most recent TBTT not after the last query
	expected uint32 // TBTT the pending wake was armed for
	waiting  bool

	driftSum int32
	driftN   int32
	misses   uint8

	est Estimate
}

// NewTracker returns an unanchored tracker.
func NewTracker(cfg calib.Beacon, corr Corrector) *Tracker {
	t := &Tracker{cfg: cfg, corr: corr}
	t.SetInterval(cfg.IntervalTU, cfg.ListenInterval)
	t.Reset()
	return t
}

// Reset forgets the TBTT phase and the corrector history.
func (t *Tracker) Reset() {
	t.corr.Reset()
	t.anchored = false
	t.waiting = false
	t.driftSum, t.driftN = 0, 0
	t.misses = 0
	t.est = Estimate{}
	t.refresh()
}

// SetInterval changes the beacon interval. The phase is kept.
func (t *Tracker) SetInterval(tu uint16, listen uint8) {
	if tu == 0 {
		tu = 1
	}
	if listen == 0 {
		listen = 1
	}
	t.cfg.IntervalTU = tu
	t.cfg.ListenInterval = listen
	t.interval = core.TUToMicros(uint32(tu)) * uint32(listen)
}

// Interval returns the wake period in µs.
func (t *Tracker) Interval() uint32 { return t.interval }

// Corrector returns the active corrector.
func (t *Tracker) Corrector() Corrector { return t.corr }

func (t *Tracker) refresh() {
	m := t.corr.Margin()
	t.est.AheadShift = m
	t.est.EarlyShift = m + t.cfg.RFSettleUS
	t.est.Timeout = m + t.cfg.RxWindowUS
}

// Estimate returns the current timing record.
func (t *Tracker) Estimate() Estimate { return t.est }

// Anchored reports whether a beacon has fixed the TBTT phase.
func (t *Tracker) Anchored() bool { return t.anchored }

// Misses returns the number of consecutive missed beacons.
func (t *Tracker) Misses() uint8 { return t.misses }

// Anchor fixes the TBTT phase on a received beacon.
func (t *Tracker) Anchor(rx uint32) {
	t.anchored = true
	t.tbtt = rx
	t.waiting = false
	t.est.CumDrift = 0
}

// NextTBTT returns the first TBTT strictly after at.
func (t *Tracker) NextTBTT(at uint32) (uint32, bool) {
	if !t.anchored {
		return 0, false
	}
	d := int32(at - t.tbtt)
	if d < 0 {
		return t.tbtt, true
	}
	n := uint32(d)/t.interval + 1
	next := t.tbtt + n*t.interval
	t.tbtt = next - t.interval
	return next, true
}

// Wake returns the wake time and the TBTT it serves for the first beacon
// that can still be caught from now. The TBTT is remembered as expected.
func (t *Tracker) Wake(now uint32) (wake, tbtt uint32, ok bool) {
	tbtt, ok = t.NextTBTT(now + t.est.EarlyShift)
	if !ok {
		return 0, 0, false
	}
	t.expected = tbtt
	t.waiting = true
	return tbtt - t.est.EarlyShift, tbtt, true
}

// TimeoutAt returns when the beacon timeout expires for the expected TBTT.
func (t *Tracker) TimeoutAt() uint32 {
	return t.expected - t.est.AheadShift + t.est.Timeout
}

// Expected returns the TBTT the current wake was armed for.
func (t *Tracker) Expected() (uint32, bool) { return t.expected, t.waiting }

// OnBeacon records a beacon received at rx. A beacon far from the
// prediction re-anchors the phase instead of training the corrector.
func (t *Tracker) OnBeacon(rx uint32) Estimate {
	if !t.anchored {
		t.Anchor(rx)
		t.bump()
		return t.est
	}
	ref := t.expected
	if !t.waiting {
		// Beacon heard while awake: measure against the nearest TBTT.
		ref, _ = t.NextTBTT(rx - t.interval/2)
	}
	offset := int32(rx - ref)
	if uint32(abs(offset)) > t.interval/2 {
		t.Anchor(rx)
		t.bump()
		return t.est
	}

	t.waiting = false
	t.misses = 0
	t.corr.Update(Observation{Offset: offset})
	t.driftSum += offset
	t.driftN++
	t.bump()
	t.refresh()
	return t.est
}

func (t *Tracker) bump() {
	if t.est.Samples < 0xffff {
		t.est.Samples++
	}
}

// OnMiss records that the expected beacon did not arrive. lost is true
// once the consecutive misses reach the calibrated limit.
func (t *Tracker) OnMiss() (est Estimate, lost bool) {
	t.waiting = false
	if t.misses < 255 {
		t.misses++
	}
	t.corr.Update(Observation{Missed: true})
	t.refresh()
	return t.est, t.misses >= t.cfg.MissLimit
}

// CorrectDrift folds the mean offset since the last correction into the
// TBTT phase. It returns the applied shift.
func (t *Tracker) CorrectDrift() int32 {
	if t.driftN == 0 || !t.anchored {
		return 0
	}
	mean := t.driftSum / t.driftN
	t.driftSum, t.driftN = 0, 0
	t.tbtt += uint32(mean)
	t.est.CumDrift += mean
	return mean
}

// DriftPeriod returns the drift-correction timer period in µs.
func (t *Tracker) DriftPeriod() uint32 {
	n := uint32(t.cfg.DriftPeriod)
	if n == 0 {
		n = 1
	}
	return n * t.interval
}
