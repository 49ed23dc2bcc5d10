//go:build tinygo

package main

import (
	"machine"
	"time"

	"wlfw/calib"
	"wlfw/core"
	"wlfw/firmware"
	"wlfw/regs"
)

// Host UART of the co-processor.
const hostBaud = 921600

// Base of the MAC peripheral block in the CPU address space.
const peripheralBase = 0x4000_0000

var (
	ctx  *firmware.Context
	link *firmware.Link
	file *regs.File

	uart = machine.Serial

	// mailbox edge tracking
	btReady bool
	wlReady bool
)

func main() {
	// Clear any watchdog left over from the previous image.
	err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0})
	if err != nil {
		return
	}
	uart.Configure(machine.UARTConfig{BaudRate: hostBaud})

	cal := calib.Default()
	bus := regs.MMIO{Base: peripheralBase}
	file = regs.NewFile(bus, cal.Layout)
	core.SetTime(file.TSF())

	ctx, err = firmware.New(firmware.Config{
		Calib: cal,
		Bus:   bus,
		Clock: core.SystemClock{},
		Null:  file,
		Reset: watchdogReset,
		Flush: func() { link.Flush() },
	})
	if err != nil {
		// Calibration is compiled in; a failure here is a build defect.
		watchdogReset()
	}
	link = firmware.NewLink(ctx, uart.Write)
	ctx.Init()

	for {
		ctx.Guard(pass)
		time.Sleep(10 * time.Microsecond)
	}
}

// pass is one turn of the main loop: sample the hardware, raise the
// matching interrupt entry points, run the firmware, move link bytes.
func pass() {
	readUART()
	now := file.TSF()
	core.SetTime(now)

	if ts, ok := file.BeaconRx(); ok {
		ctx.BeaconRx(ts)
	}
	pollMailbox()
	if n := file.NullTx(); n.Done() {
		file.AckNullTx()
		ctx.NullStatus(n.Acked())
	}
	if wake, ok := ctx.NextWake(); ok && core.TimeReached(now, wake) {
		ctx.TimerCompare(now)
	}

	link.Poll()
	ctx.Step()
	link.Poll()
}

var rx [64]byte

func readUART() {
	n := 0
	for n < len(rx) && uart.Buffered() > 0 {
		b, err := uart.ReadByte()
		if err != nil {
			break
		}
		rx[n] = b
		n++
	}
	if n > 0 {
		link.Feed(rx[:n])
	}
}

// pollMailbox raises MailboxRx when BT fills its slot and MailboxTxDone
// when BT drains ours.
func pollMailbox() {
	bt := file.MailboxCtrl(regs.BTToWL).Ready()
	if bt && !btReady {
		ctx.MailboxRx()
	}
	btReady = bt

	wl := file.MailboxCtrl(regs.WLToBT).Ready()
	if !wl && wlReady {
		ctx.MailboxTxDone()
	}
	wlReady = wl
}

// watchdogReset is the controlled reset used after a fault.
func watchdogReset() {
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 1}); err != nil {
		return
	}
	if err := machine.Watchdog.Start(); err != nil {
		return
	}
	for {
		time.Sleep(time.Millisecond)
	}
}
