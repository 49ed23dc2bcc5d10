// Package calib holds the chip calibration constants. The firmware never
// hard-codes a tuned number; every margin, limit and gain comes from here.
package calib

import (
	"errors"

	"wlfw/regs"
)

// CorrectorKind selects the beacon timing corrector.
type CorrectorKind uint8

const (
	CorrectorStatistical CorrectorKind = iota
	CorrectorPID
)

func (k CorrectorKind) String() string {
	switch k {
	case CorrectorStatistical:
		return "statistical"
	case CorrectorPID:
		return "pid"
	}
	return "corrector?"
}

// Beacon tunes TBTT tracking and the correctors.
type Beacon struct {
	IntervalTU     uint16 `yaml:"interval_tu"`
	ListenInterval uint8  `yaml:"listen_interval"`
	MinEarlyUS     uint32 `yaml:"min_early_us"`
	MaxEarlyUS     uint32 `yaml:"max_early_us"`
	RFSettleUS     uint32 `yaml:"rf_settle_us"`
	RxWindowUS     uint32 `yaml:"rx_window_us"`
	MissLimit      uint8  `yaml:"miss_limit"`    // consecutive misses before association loss
	MissSaturate   uint8  `yaml:"miss_saturate"` // consecutive misses that pin the margin at max
	DriftPeriod    uint16 `yaml:"drift_period"`  // beacon intervals between drift corrections

	Corrector CorrectorKind `yaml:"corrector"`

	// Statistical corrector.
	Window     uint16 `yaml:"window"`
	Outliers   uint8  `yaml:"outliers"`
	Percentile uint8  `yaml:"percentile"`
	MinSamples uint16 `yaml:"min_samples"`

	// PID corrector; gains are Q8 fixed point.
	TargetSlackUS int32 `yaml:"target_slack_us"`
	Kp            int32 `yaml:"kp"`
	Ki            int32 `yaml:"ki"`
	Kd            int32 `yaml:"kd"`
	IntegralLimit int32 `yaml:"integral_limit"`
}

// Power tunes the power state controller.
type Power struct {
	NullRetryLimit uint8  `yaml:"null_retry_limit"`
	BudgetUS       uint32 `yaml:"budget_us"` // RF must be stable this long after wake
}

// Coex tunes the TDMA scheduler.
type Coex struct {
	IntervalUS       uint32 `yaml:"interval_us"`
	WLSlotUS         uint32 `yaml:"wl_slot_us"`
	BTSlotUS         uint32 `yaml:"bt_slot_us"`
	MinSlotUS        uint32 `yaml:"min_slot_us"`
	LeakMax          uint8  `yaml:"leak_max"`
	ExtendMaxUS      uint32 `yaml:"extend_max_us"`
	Seed             uint64 `yaml:"seed"`
	RetryThreshold   uint8  `yaml:"retry_threshold"`
	RetryPenaltyUS   uint32 `yaml:"retry_penalty_us"`
	PenaltyMaxUS     uint32 `yaml:"penalty_max_us"`
	MailboxTimeoutUS uint32 `yaml:"mailbox_timeout_us"`
	PanSlots         uint8  `yaml:"pan_slots"` // BT slots granted per interval in pan mode
}

// Calibration is the full constant set handed to the firmware at init.
type Calibration struct {
	ID      uint16 `yaml:"id"`
	Version uint32 `yaml:"version"`

	Beacon Beacon `yaml:"beacon"`
	Power  Power  `yaml:"power"`
	Coex   Coex   `yaml:"coex"`

	Layout regs.Layout `yaml:"-"`
}

// Default returns the reference-board calibration.
func Default() Calibration {
	return Calibration{
		ID:      1,
		Version: 0x0001_0000,
		Beacon: Beacon{
			IntervalTU:     100,
			ListenInterval: 1,
			MinEarlyUS:     256,
			MaxEarlyUS:     6144,
			RFSettleUS:     320,
			RxWindowUS:     2048,
			MissLimit:      8,
			MissSaturate:   3,
			DriftPeriod:    10,
			Corrector:      CorrectorStatistical,
			Window:         100,
			Outliers:       2,
			Percentile:     95,
			MinSamples:     10,
			TargetSlackUS:  256,
			Kp:             128, // 0.5
			Ki:             16,  // 1/16
			Kd:             32,  // 1/8
			IntegralLimit:  65536,
		},
		Power: Power{
			NullRetryLimit: 3,
			BudgetUS:       2000,
		},
		Coex: Coex{
			IntervalUS:       100 * 1024,
			WLSlotUS:         50 * 1024,
			BTSlotUS:         50 * 1024,
			MinSlotUS:        5 * 1024,
			LeakMax:          4,
			ExtendMaxUS:      5 * 1024,
			Seed:             0x5eed_c0e5,
			RetryThreshold:   4,
			RetryPenaltyUS:   2 * 1024,
			PenaltyMaxUS:     10 * 1024,
			MailboxTimeoutUS: 1000,
			PanSlots:         2,
		},
		Layout: regs.DefaultLayout(),
	}
}

// Validation errors.
var (
	ErrBeaconInterval = errors.New("calib: beacon interval must be non-zero")
	ErrEarlyRange     = errors.New("calib: min_early_us must not exceed max_early_us")
	ErrWindow         = errors.New("calib: window must be 1..256 and exceed outliers")
	ErrPercentile     = errors.New("calib: percentile must be 1..100")
	ErrMissLimit      = errors.New("calib: miss_limit and miss_saturate must be non-zero")
	ErrSlotSum        = errors.New("calib: wl_slot_us + bt_slot_us exceed interval_us")
	ErrMinSlot        = errors.New("calib: min_slot_us exceeds a slot")
	ErrLeakMax        = errors.New("calib: leak_max must be non-zero")
	ErrCorrector      = errors.New("calib: unknown corrector")
	ErrPIDLimit       = errors.New("calib: integral_limit must be positive")
)

// MaxWindow bounds the statistical corrector's sample ring.
const MaxWindow = 256

// Validate checks the constraints the firmware relies on.
func (c *Calibration) Validate() error {
	b := &c.Beacon
	switch {
	case b.IntervalTU == 0 || b.ListenInterval == 0:
		return ErrBeaconInterval
	case b.MinEarlyUS > b.MaxEarlyUS:
		return ErrEarlyRange
	case b.Window == 0 || b.Window > MaxWindow || uint16(b.Outliers) >= b.Window:
		return ErrWindow
	case b.Percentile == 0 || b.Percentile > 100:
		return ErrPercentile
	case b.MissLimit == 0 || b.MissSaturate == 0:
		return ErrMissLimit
	case b.Corrector != CorrectorStatistical && b.Corrector != CorrectorPID:
		return ErrCorrector
	case b.IntegralLimit <= 0:
		return ErrPIDLimit
	}

	x := &c.Coex
	switch {
	case uint64(x.WLSlotUS)+uint64(x.BTSlotUS) > uint64(x.IntervalUS):
		return ErrSlotSum
	case x.MinSlotUS > x.WLSlotUS || x.MinSlotUS > x.BTSlotUS:
		return ErrMinSlot
	case x.LeakMax == 0:
		return ErrLeakMax
	}
	return c.Layout.Validate()
}
