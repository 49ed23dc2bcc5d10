package profile

import (
	"wlfw/hostif"
)

func cmd(op hostif.Opcode, vals ...uint32) hostif.Frame {
	return hostif.LookupSpec(op).MustEncode(vals...)
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// Commands returns the H2C list that applies the profile, in push order:
// beacon, radio, coex configuration, coex run, power save last.
// The profile must be validated and normalized.
func (p *Profile) Commands() []hostif.Frame {
	var out []hostif.Frame

	if b := p.Beacon; b != nil {
		out = append(out, cmd(hostif.OpBeaconInterval, uint32(b.IntervalTU), uint32(b.Listen)))
	}
	if r := p.Radio; r != nil {
		if r.PSDMode != nil {
			out = append(out, cmd(hostif.OpPSDMode, uint32(*r.PSDMode)))
		}
		if r.LNAConstraint != nil {
			out = append(out, cmd(hostif.OpLNAConstraint, uint32(*r.LNAConstraint)))
		}
	}
	if pw := p.Power; pw != nil && pw.EmptyThreshold != nil {
		out = append(out, cmd(hostif.OpEmptyThreshold, uint32(*pw.EmptyThreshold)))
	}

	if c := p.Coex; c != nil {
		mode, _ := parseMode(c.Mode)
		table, _ := parseTable(c.Table)
		out = append(out, cmd(hostif.OpPriorityTable, uint32(mode), uint32(table)))
		if c.Variant != nil {
			out = append(out, cmd(hostif.OpSlotVariant, uint32(*c.Variant)))
		}
		if s := c.Slots; s != nil {
			out = append(out, cmd(hostif.OpSlotTable, uint32(s.WLTU), uint32(s.BTTU), uint32(s.IntervalTU)))
		}
		if c.LeakAP != nil {
			out = append(out, cmd(hostif.OpLeakAP, b2u(*c.LeakAP)))
		}
		if r := c.RetryReport; r != nil {
			out = append(out, cmd(hostif.OpRetryReport, uint32(r.Period), uint32(r.Threshold)))
		}
		if c.RetryPenaltyUS != nil {
			out = append(out, cmd(hostif.OpRetryPenalty, *c.RetryPenaltyUS))
		}
		if c.PanDuration != nil {
			out = append(out, cmd(hostif.OpPanDuration, uint32(*c.PanDuration)))
		}
		if c.PageScanUS != nil {
			out = append(out, cmd(hostif.OpPageScan, *c.PageScanUS))
		}
		if c.Run {
			out = append(out, cmd(hostif.OpCoexRun, 1, b2u(c.NullOnBT)))
		}
	}

	if pw := p.Power; pw != nil && pw.PowerSave {
		out = append(out, cmd(hostif.OpPowerMode, 1))
	}
	return out
}
