package profile

import (
	"fmt"

	"wlfw/coex"
)

// Validate checks the profile. It does not mutate it.
func Validate(p *Profile) error {
	if p.Device.Port == "" {
		return fmt.Errorf("device: port is required")
	}
	if p.Device.Baud < 0 || p.Device.TimeoutMs < 0 {
		return fmt.Errorf("device: baud and timeout_ms must not be negative")
	}

	if b := p.Beacon; b != nil {
		if b.IntervalTU == 0 {
			return fmt.Errorf("beacon: interval_tu must be positive")
		}
		if b.Listen == 0 {
			return fmt.Errorf("beacon: listen must be positive")
		}
	}

	if c := p.Coex; c != nil {
		if err := validateCoex(c); err != nil {
			return fmt.Errorf("coex: %w", err)
		}
	}

	if b := p.Bridge; b != nil {
		if b.Broker == "" {
			return fmt.Errorf("bridge: broker is required")
		}
		if b.QoS > 2 {
			return fmt.Errorf("bridge: qos %d out of range", b.QoS)
		}
	}

	if _, err := p.Calib(); err != nil {
		return err
	}
	return nil
}

func validateCoex(c *CoexConfig) error {
	if c.Mode != "" {
		if _, ok := parseMode(c.Mode); !ok {
			return fmt.Errorf("unknown mode %q", c.Mode)
		}
	}
	if c.Table != "" {
		if _, ok := parseTable(c.Table); !ok {
			return fmt.Errorf("unknown table %q", c.Table)
		}
	}
	if c.Variant != nil && c.Slots != nil {
		return fmt.Errorf("variant and slots are exclusive")
	}
	if c.Variant != nil && int(*c.Variant) >= coex.NumVariants {
		return fmt.Errorf("variant %d out of range", *c.Variant)
	}
	if s := c.Slots; s != nil {
		if s.IntervalTU == 0 {
			return fmt.Errorf("slots: interval_tu must be positive")
		}
		if uint32(s.WLTU)+uint32(s.BTTU) > uint32(s.IntervalTU) {
			return fmt.Errorf("slots: wl_tu + bt_tu exceeds interval_tu")
		}
	}
	if c.NullOnBT && !c.Run {
		return fmt.Errorf("null_on_bt needs run")
	}
	return nil
}

func parseMode(s string) (coex.Mode, bool) {
	for m := coex.ModeStatic; m <= coex.ModeForced; m++ {
		if m.String() == s {
			return m, true
		}
	}
	return 0, false
}

func parseTable(s string) (coex.TableID, bool) {
	for t := coex.TableID(0); t < coex.NumTables; t++ {
		if t.String() == s {
			return t, true
		}
	}
	return 0, false
}
