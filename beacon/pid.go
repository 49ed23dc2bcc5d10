package beacon

import "wlfw/calib"

// PID drives the slack between radio-ready and beacon arrival towards a
// target. Gains are Q8.
type PID struct {
	cfg calib.Beacon

	integral int32
	prevErr  int32
	primed   bool
	margin   uint32
	base     uint32
	misses   uint8
}

func NewPID(cfg calib.Beacon) *PID {
	p := &PID{cfg: cfg}
	p.Reset()
	return p
}

func (p *PID) Reset() {
	cfg := p.cfg
	*p = PID{cfg: cfg}
	p.base = cfg.MaxEarlyUS
	p.margin = cfg.MaxEarlyUS
}

func (p *PID) Margin() uint32 { return p.margin }

func (p *PID) Update(obs Observation) uint32 {
	if obs.Missed {
		if p.misses < 255 {
			p.misses++
		}
		p.margin = missBoost(p.base, p.cfg.MaxEarlyUS, p.misses, p.cfg.MissSaturate)
		return p.margin
	}
	p.misses = 0

	// The beacon was heard with margin in effect, so the slack was the
	// margin plus the arrival offset.
	slack := int32(p.margin) + obs.Offset
	err := p.cfg.TargetSlackUS - slack

	var d int32
	if p.primed {
		d = err - p.prevErr
	}
	p.prevErr = err
	p.primed = true

	lo, hi := int32(p.cfg.MinEarlyUS), int32(p.cfg.MaxEarlyUS)
	integral := clamp(p.integral+err, -p.cfg.IntegralLimit, p.cfg.IntegralLimit)
	out := p.output(err, integral, d)

	// Conditional integration: keep the old integral when the output is
	// saturated and the error pushes further into saturation.
	if (out > hi && err > 0) || (out < lo && err < 0) {
		integral = p.integral
		out = p.output(err, integral, d)
	}
	p.integral = integral

	p.base = uint32(clamp(out, lo, hi))
	p.margin = p.base
	return p.margin
}

func (p *PID) output(err, integral, d int32) int32 {
	u := int64(p.cfg.Kp)*int64(err) + int64(p.cfg.Ki)*int64(integral) + int64(p.cfg.Kd)*int64(d)
	u >>= 8
	return int32(clamp(u+int64(p.cfg.TargetSlackUS), -1<<30, 1<<30))
}
