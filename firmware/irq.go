package firmware

import (
	"wlfw/core"
	"wlfw/hostif"
)

// The functions below are the interrupt entry points. They only latch or
// post; the work happens in Step.

// BeaconRx is the beacon-received interrupt; ts is the RX timestamp.
func (c *Context) BeaconRx(ts uint32) { c.irq.Trigger(core.IRQBeaconRx, ts) }

// TimerCompare is the timer-bank compare interrupt.
func (c *Context) TimerCompare(now uint32) { c.irq.Trigger(core.IRQTimerCompare, now) }

// MailboxRx is the BT-to-WL mailbox ready interrupt.
func (c *Context) MailboxRx() { c.irq.Trigger(core.IRQMailboxRx, 0) }

// MailboxTxDone fires when BT drained the WL-to-BT slot.
func (c *Context) MailboxTxDone() { c.irq.Trigger(core.IRQMailboxTxDone, 0) }

// HostCommand is the H2C box interrupt. The box holds one command; the
// host waits for the mode echo before writing the next.
func (c *Context) HostCommand(f hostif.Frame) {
	c.h2c = f
	c.irq.Trigger(core.IRQHostCmd, 0)
}

// NullStatus is the TX status of the last null-data frame.
func (c *Context) NullStatus(acked bool) {
	var arg uint32
	if acked {
		arg = 1
	}
	c.post(evNullStatus, arg)
}
