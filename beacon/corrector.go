// Package beacon tracks the target beacon transmission time (TBTT) and
// decides how early the radio must wake to catch the next beacon.
package beacon

import "wlfw/calib"

// BucketUS is the width of one histogram bucket.
const BucketUS = 64

// Observation is one beacon outcome fed to a corrector.
type Observation struct {
	// Offset is arrival minus predicted TBTT in µs: negative when the
	// beacon came early.
	Offset int32
	Missed bool
}

// Earliness returns how much wake margin the observation needed.
func (o Observation) Earliness() uint32 {
	if o.Offset >= 0 {
		return 0
	}
	return uint32(-o.Offset)
}

// Corrector turns beacon observations into the next wake margin.
// Implementations keep every output in [MinEarlyUS, MaxEarlyUS].
type Corrector interface {
	Update(obs Observation) uint32
	Margin() uint32
	Reset()
}

// NewCorrector builds the corrector selected by the calibration.
func NewCorrector(c calib.Beacon) Corrector {
	switch c.Corrector {
	case calib.CorrectorPID:
		return NewPID(c)
	case calib.CorrectorStatistical:
		return NewStatistical(c)
	}
	panic("beacon: unknown corrector " + c.Corrector.String())
}

// missBoost raises base towards hi as consecutive misses accumulate. At
// saturate misses or more the result is hi.
func missBoost(base, hi uint32, misses, saturate uint8) uint32 {
	if misses == 0 {
		return base
	}
	if misses >= saturate || base >= hi {
		return hi
	}
	return base + (hi-base)*uint32(misses)/uint32(saturate)
}
