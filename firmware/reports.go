package firmware

import (
	"log/slog"

	"wlfw/coex"
	"wlfw/core"
	"wlfw/hostif"
	"wlfw/power"
)

// report queues a C2H record and mirrors it into the report buffer.
func (c *Context) report(op hostif.Opcode, vals ...uint32) {
	f := hostif.Report(op, vals...)
	slot, ok := c.reports.Push(f)
	if !ok {
		c.diag.Inc(core.CtrReportDrop)
		return
	}
	c.file.WriteReport(slot, f)
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func (c *Context) onPowerNotice(n power.Notice) {
	switch n.Kind {
	case power.NoticeStateChange:
		c.debug("power", slog.String("from", n.From.String()), slog.String("to", n.To.String()))
		c.report(hostif.RptStateChange, uint32(n.From), uint32(n.To))
		c.updateScoreboard()
	case power.NoticePSFail:
		c.warn("null announce failed", slog.Uint64("retries", uint64(c.cal.Power.NullRetryLimit)))
		c.report(hostif.RptPSFail, uint32(c.cal.Power.NullRetryLimit))
	case power.NoticeConnectionLost:
		c.warn("beacon loss", slog.Uint64("misses", uint64(c.cal.Beacon.MissLimit)))
		c.report(hostif.RptDisconnected, uint32(c.cal.Beacon.MissLimit))
		c.updateScoreboard()
	case power.NoticeTimingViolation:
		c.warn("power transition over budget", slog.String("state", n.From.String()))
		c.report(hostif.RptTimingViolation, uint32(n.From))
	}
}

func (c *Context) onCoexNotice(n coex.Notice) {
	// Power transitions held back by the coex permit get another chance
	// at every slot boundary and whenever BT finishes a blocking activity.
	replay := n.Kind == coex.NoticeSlot ||
		(n.Kind == coex.NoticeCalibration || n.Kind == coex.NoticeRoleChange) && n.Value == 0
	defer func() {
		if replay {
			c.power.Handle(power.Event{Kind: power.EvCoexSlot})
		}
	}()

	switch n.Kind {
	case coex.NoticeSlot:
		// Only changed lengths are reported; a static schedule is quiet.
		if int(n.Owner) < len(c.lastSlot) && c.lastSlot[n.Owner] != n.Length {
			c.lastSlot[n.Owner] = n.Length
			c.report(hostif.RptSlotLength, uint32(n.Owner), n.Length)
		}
	case coex.NoticePeerBusy:
		c.warn("bt mailbox unresponsive, neutral table", slog.String("owner", n.Owner.String()))
		c.report(hostif.RptPeerBusy, uint32(n.Owner))
	case coex.NoticeChannelStatus:
		c.report(hostif.RptChannelStatus, n.Value, uint32(n.Slots))
	case coex.NoticeCalibration:
		c.report(hostif.RptCalibration, n.Value)
	case coex.NoticeLoopback:
		c.report(hostif.RptLoopback, n.Value, b2u(n.OK))
	case coex.NoticeRoleChange:
		c.report(hostif.RptRoleChange, n.Value)
	}
}

// onFault runs before the watchdog reset.
func (c *Context) onFault(rec core.FaultRecord) {
	c.logattrs(slog.LevelError, "fault",
		slog.String("code", rec.Code.String()),
		slog.Uint64("clock", uint64(rec.Clock)),
		slog.Uint64("detail", uint64(rec.Detail)))
	c.report(hostif.RptFault, uint32(rec.Code), rec.Detail)
	if c.flush != nil {
		c.flush()
	}
}

func (c *Context) updateScoreboard() {
	st := c.power.State()
	c.coex.UpdateScoreboard(coex.Status{
		WLOn:      st.RFOn(),
		Active:    st == power.StateActive || st == power.StateActiveNull,
		Scan:      st == power.StateScan,
		Connected: c.power.Associated(),
		UnderLPS:  st.LowPower(),
	})
}
