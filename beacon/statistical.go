package beacon

import "wlfw/calib"

const numBuckets = 128

// Statistical keeps a histogram of beacon earliness over a rolling window
// and picks the smallest margin that covers the configured percentile,
// ignoring the largest few samples as outliers.
type Statistical struct {
	cfg calib.Beacon

	ring  [calib.MaxWindow]uint8 // bucket index per sample
	hist  [numBuckets]uint16
	head  uint16
	count uint16

	base   uint32 // margin from the histogram alone
	margin uint32
	misses uint8
}

func NewStatistical(cfg calib.Beacon) *Statistical {
	s := &Statistical{cfg: cfg}
	s.Reset()
	return s
}

// Reset drops every sample. The margin restarts at the maximum.
func (s *Statistical) Reset() {
	cfg := s.cfg
	*s = Statistical{cfg: cfg}
	s.base = cfg.MaxEarlyUS
	s.margin = cfg.MaxEarlyUS
}

func (s *Statistical) Margin() uint32 { return s.margin }

// Samples returns the number of samples in the window.
func (s *Statistical) Samples() uint16 { return s.count }

func bucketOf(us uint32) uint8 {
	b := us / BucketUS
	if b >= numBuckets {
		b = numBuckets - 1
	}
	return uint8(b)
}

func (s *Statistical) Update(obs Observation) uint32 {
	if obs.Missed {
		if s.misses < 255 {
			s.misses++
		}
		s.margin = missBoost(s.base, s.cfg.MaxEarlyUS, s.misses, s.cfg.MissSaturate)
		return s.margin
	}
	s.misses = 0
	s.add(bucketOf(obs.Earliness()))
	s.base = s.compute()
	s.margin = s.base
	return s.margin
}

func (s *Statistical) add(b uint8) {
	window := s.cfg.Window
	if s.count == window {
		old := s.ring[s.head]
		s.hist[old]--
	} else {
		s.count++
	}
	s.ring[s.head] = b
	s.hist[b]++
	s.head = (s.head + 1) % window
}

func (s *Statistical) compute() uint32 {
	maxEarly := s.cfg.MaxEarlyUS
	if s.count < s.cfg.MinSamples || s.count <= uint16(s.cfg.Outliers) {
		return maxEarly
	}
	kept := uint32(s.count) - uint32(s.cfg.Outliers)
	need := (kept*uint32(s.cfg.Percentile) + 99) / 100
	if need == 0 {
		need = 1
	}

	var cum uint32
	for b := 0; b < numBuckets; b++ {
		cum += uint32(s.hist[b])
		if cum >= need {
			return clamp(uint32(b+1)*BucketUS, s.cfg.MinEarlyUS, maxEarly)
		}
	}
	return maxEarly
}
