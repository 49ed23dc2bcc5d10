package core

// IRQ is a bit set of interrupt sources.
type IRQ uint16

// Interrupt sources of the co-processor.
const (
	IRQBeaconRx IRQ = 1 << iota
	IRQBeaconEarly
	IRQBeaconTimeout
	IRQTimerCompare
	IRQMailboxRx
	IRQMailboxTxDone
	IRQHostCmd

	numIRQ = iota
)

// IRQAll selects every source.
const IRQAll IRQ = 1<<numIRQ - 1

var irqNames = [numIRQ]string{
	"beacon_rx",
	"beacon_early",
	"beacon_timeout",
	"timer_compare",
	"mailbox_rx",
	"mailbox_tx_done",
	"host_cmd",
}

func (q IRQ) String() string {
	s := ""
	for i := 0; i < numIRQ; i++ {
		if q&(1<<i) != 0 {
			if s != "" {
				s += "|"
			}
			s += irqNames[i]
		}
	}
	if s == "" {
		return "none"
	}
	return s
}

// IRQHandler services one interrupt source. arg carries the value the
// hardware latched with the interrupt (RX timestamp, compare time, ...).
type IRQHandler func(arg uint32)

// IRQController models the co-processor's interrupt enable/pending
// registers. A source raised while masked stays pending (one latch per
// source, the latest argument wins) and is delivered when it is unmasked.
type IRQController struct {
	enabled  IRQ
	pending  IRQ
	args     [numIRQ]uint32
	handlers [numIRQ]IRQHandler
}

// NewIRQController returns a controller with every source enabled.
func NewIRQController() *IRQController {
	return &IRQController{enabled: IRQAll}
}

func irqIndex(src IRQ) int {
	for i := 0; i < numIRQ; i++ {
		if src == 1<<i {
			return i
		}
	}
	return -1
}

// Attach installs the handler for a single source.
func (c *IRQController) Attach(src IRQ, h IRQHandler) {
	if i := irqIndex(src); i >= 0 {
		c.handlers[i] = h
	}
}

// Trigger is the hardware side: it delivers src immediately if enabled,
// otherwise latches it as pending.
func (c *IRQController) Trigger(src IRQ, arg uint32) {
	i := irqIndex(src)
	if i < 0 {
		return
	}
	state := disableInterrupts()
	if c.enabled&src == 0 {
		c.pending |= src
		c.args[i] = arg
		restoreInterrupts(state)
		return
	}
	restoreInterrupts(state)
	if h := c.handlers[i]; h != nil {
		h(arg)
	}
}

// Mask disables srcs and returns the previous enable set for Restore.
func (c *IRQController) Mask(srcs IRQ) IRQ {
	state := disableInterrupts()
	prev := c.enabled
	c.enabled &^= srcs
	restoreInterrupts(state)
	return prev
}

// Restore re-installs an enable set returned by Mask and delivers every
// source that became pending while it was masked.
func (c *IRQController) Restore(prev IRQ) {
	state := disableInterrupts()
	c.enabled = prev
	deliver := c.pending & c.enabled
	c.pending &^= deliver
	args := c.args
	restoreInterrupts(state)

	for i := 0; i < numIRQ; i++ {
		if deliver&(1<<i) == 0 {
			continue
		}
		if h := c.handlers[i]; h != nil {
			h(args[i])
		}
	}
}

// Enabled reports whether every source in srcs is enabled.
func (c *IRQController) Enabled(srcs IRQ) bool {
	return c.enabled&srcs == srcs
}

// Pending returns the latched, undelivered sources.
func (c *IRQController) Pending() IRQ {
	return c.pending
}
