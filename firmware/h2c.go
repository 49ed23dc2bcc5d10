package firmware

import (
	"errors"
	"log/slog"

	"wlfw/coex"
	"wlfw/core"
	"wlfw/hostif"
	"wlfw/mailbox"
	"wlfw/power"
	"wlfw/regs"
	"wlfw/txpause"
)

// Command runs one H2C command from the main loop. Every known command
// is answered with a mode echo carrying its status; unknown or
// misdirected opcodes produce a protocol error report instead.
func (c *Context) Command(f hostif.Frame) {
	op := f.Op()
	if op.IsReport() {
		c.protocolError(op, hostif.ProtoDirection)
		return
	}
	err := c.registry.Dispatch(f)
	switch {
	case errors.Is(err, hostif.ErrUnknownOpcode):
		c.protocolError(op, hostif.ProtoUnknownOpcode)
		return
	case errors.Is(err, hostif.ErrBadPayload):
		c.protocolError(op, hostif.ProtoBadPayload)
		return
	}
	st := status(err)
	if err != nil {
		c.debug("h2c refused", slog.String("cmd", hostif.Describe(f)), slog.String("err", err.Error()))
	} else {
		c.debug("h2c", slog.String("cmd", hostif.Describe(f)))
	}
	c.report(hostif.RptModeEcho, uint32(op), st)
}

func (c *Context) protocolError(op hostif.Opcode, reason uint32) {
	c.diag.Inc(core.CtrProtocolError)
	c.warn("protocol error", slog.Uint64("op", uint64(op)), slog.Uint64("reason", uint64(reason)))
	c.report(hostif.RptProtocolError, uint32(op), reason)
}

func status(err error) uint32 {
	switch {
	case err == nil:
		return hostif.StatusOK
	case errors.Is(err, hostif.ErrPayloadRange),
		errors.Is(err, coex.ErrSlotRange),
		errors.Is(err, coex.ErrVariant):
		return hostif.StatusRange
	case errors.Is(err, mailbox.ErrBusy),
		errors.Is(err, coex.ErrLoopbackBusy),
		errors.Is(err, txpause.ErrPauseHeld):
		return hostif.StatusBusy
	}
	return hostif.StatusRefused
}

func (c *Context) registerCommands() {
	r := c.registry
	r.Register(hostif.OpRetryReport, c.cmdRetryReport)
	r.Register(hostif.OpPriorityTable, c.cmdPriorityTable)
	r.Register(hostif.OpPSDMode, func(a hostif.Args) error {
		c.wakeForRegisters()
		c.file.SetPSDMode(a.U8(0))
		return nil
	})
	r.Register(hostif.OpLNAConstraint, func(a hostif.Args) error {
		c.wakeForRegisters()
		c.file.SetLNAConstraint(a.U8(0))
		return nil
	})
	r.Register(hostif.OpLoopback, func(a hostif.Args) error {
		_, err := c.coex.Loopback(a.U32(0))
		return err
	})
	r.Register(hostif.OpRetryPenalty, func(a hostif.Args) error {
		c.coex.SetRetryPenalty(a.U32(0))
		return nil
	})
	r.Register(hostif.OpSlotVariant, func(a hostif.Args) error {
		return c.coex.SetVariant(a.U8(0))
	})
	r.Register(hostif.OpSlotTable, func(a hostif.Args) error {
		return c.coex.SetSlotTable(
			core.TUToMicros(a.U32(2)),
			core.TUToMicros(a.U32(0)),
			core.TUToMicros(a.U32(1)))
	})
	r.Register(hostif.OpPageScan, func(a hostif.Args) error {
		return c.coex.SetPageScan(a.U32(0))
	})
	r.Register(hostif.OpPanDuration, func(a hostif.Args) error {
		c.coex.SetPanDuration(a.U16(0))
		return nil
	})
	r.Register(hostif.OpEmptyThreshold, func(a hostif.Args) error {
		c.power.SetEmptyThreshold(a.U8(0))
		return nil
	})
	r.Register(hostif.OpBeaconInterval, c.cmdBeaconInterval)
	r.Register(hostif.OpLeakAP, func(a hostif.Args) error {
		c.coex.SetLeakAP(a.Bool(0))
		return nil
	})
	r.Register(hostif.OpPowerMode, func(a hostif.Args) error {
		kind := power.EvPSLeave
		if a.Bool(0) {
			kind = power.EvPSRequest
		}
		c.power.Handle(power.Event{Kind: kind})
		return nil
	})
	r.Register(hostif.OpTxPause, func(a hostif.Args) error {
		if a.Bool(0) {
			// Another holder keeps TX stopped; the override takes over
			// when it clears.
			err := c.ledger.Set(txpause.OwnerHost, txpause.ReasonHostOverride)
			if errors.Is(err, txpause.ErrPauseHeld) {
				return nil
			}
			return err
		}
		return c.ledger.Clear(txpause.OwnerHost, txpause.ReasonHostOverride)
	})
	r.Register(hostif.OpCounters, c.cmdCounters)
	r.Register(hostif.OpCoexRun, func(a hostif.Args) error {
		c.coex.SetNullOnBTSlot(a.Bool(1))
		if a.Bool(0) {
			c.coex.Start()
		} else {
			c.coex.Stop()
		}
		return nil
	})
	r.Register(hostif.OpScan, func(a hostif.Args) error {
		kind := power.EvScanDone
		if a.Bool(0) {
			kind = power.EvScanStart
		}
		c.power.Handle(power.Event{Kind: kind})
		return nil
	})
	r.Register(hostif.OpNoA, func(a hostif.Args) error {
		kind := power.EvNoAEnd
		if a.Bool(0) {
			kind = power.EvNoAStart
		}
		c.power.Handle(power.Event{Kind: kind})
		return nil
	})
	r.Register(hostif.OpScoreboard, func(hostif.Args) error {
		wl := c.coex.Scoreboard()
		bt := c.file.Scoreboard(regs.BTToWL)
		c.report(hostif.RptScoreboard, uint32(wl)&0xffff, uint32(bt)&0xffff)
		return nil
	})
}

func (c *Context) cmdRetryReport(a hostif.Args) error {
	c.coex.SetRetryReport(a.U16(0), a.U8(1))
	return nil
}

func (c *Context) cmdPriorityTable(a hostif.Args) error {
	mode, table := coex.Mode(a.U8(0)), coex.TableID(a.U8(1))
	if mode > coex.ModeForced || table >= coex.NumTables {
		return hostif.ErrPayloadRange
	}
	c.wakeForRegisters()
	c.coex.SetMode(mode)
	c.coex.SetTable(table)
	return nil
}

// wakeForRegisters brings the MAC and BB out of Off before a command
// writes registers that do not survive it.
func (c *Context) wakeForRegisters() {
	if !c.power.State().Retained() {
		c.power.UrgentWake()
	}
}

func (c *Context) cmdBeaconInterval(a hostif.Args) error {
	tu, listen := a.U16(0), a.U8(1)
	if tu == 0 || listen == 0 {
		return hostif.ErrPayloadRange
	}
	c.tracker.SetInterval(tu, listen)
	return nil
}

// cmdCounters reads one counter (id 0xff reads all) or clears them.
func (c *Context) cmdCounters(a hostif.Args) error {
	switch a.U8(0) {
	case hostif.CountersReset:
		c.diag.ResetCounters()
		return nil
	case hostif.CountersRead:
	default:
		return hostif.ErrPayloadRange
	}
	id := a.U8(1)
	if id == 0xff {
		for ctr := core.Counter(0); ctr < core.NumCounters; ctr++ {
			c.report(hostif.RptCounter, uint32(ctr), c.diag.Get(ctr))
		}
		return nil
	}
	if core.Counter(id) >= core.NumCounters {
		return hostif.ErrPayloadRange
	}
	c.report(hostif.RptCounter, uint32(id), c.diag.Get(core.Counter(id)))
	return nil
}
