package core

// DebugWriter is a function type for writing debug lines
type DebugWriter func(string)

// Counter names a diagnostic counter.
type Counter uint8

const (
	CtrTimingViolation Counter = iota // transition missed its budget
	CtrBeaconMiss                     // expected beacon timed out
	CtrBeaconLoss                     // miss limit exceeded, association presumed lost
	CtrNullRetry                      // null-data announce retried
	CtrNullFail                       // null-data announce gave up
	CtrMailboxTimeout                 // frame not drained by the peer in time
	CtrMailboxBusy                    // post refused, previous frame not drained
	CtrMailboxDelivered               // frame drained by the peer
	CtrStaleTimer                     // cancelled timer fire observed
	CtrEventOverflow                  // interrupt event dropped
	CtrProtocolError                  // malformed or unknown H2C command
	CtrLeakGrant                      // WL receive opportunity granted in a BT slot
	CtrCoexFallback                   // scheduler fell back to the neutral table
	CtrReportDrop                     // C2H report dropped, queue full
	CtrBeaconSkip                     // wake skipped, BT slot without leak allowance

	NumCounters
)

var counterNames = [NumCounters]string{
	"timing_violation",
	"beacon_miss",
	"beacon_loss",
	"null_retry",
	"null_fail",
	"mailbox_timeout",
	"mailbox_busy",
	"mailbox_delivered",
	"stale_timer",
	"event_overflow",
	"protocol_error",
	"leak_grant",
	"coex_fallback",
	"report_drop",
	"beacon_skip",
}

func (c Counter) String() string {
	if c < NumCounters {
		return counterNames[c]
	}
	return "counter?"
}

// Trace event type codes
const (
	TraceTransition = 1 // power state change: v1=from v2=to
	TraceTimerFire  = 2 // timer handler ran: oid=timer id
	TraceSlot       = 3 // coex slot toggle: v1=owner v2=length
	TraceMailbox    = 4 // mailbox frame: v1=op v2=result
	TraceBeacon     = 5 // beacon observed: v1=offset v2=margin
	TraceFault      = 6 // fault recorded: v1=code v2=detail
	TraceTxPause    = 7 // TX pause ledger change: v1=reason v2=paused
)

// TraceRingSize keeps the last events for post-mortem.
const TraceRingSize = 32

// TraceEvent is one entry of the trace ring.
type TraceEvent struct {
	Type   uint8
	OID    uint8
	Clock  uint32
	Value1 uint32
	Value2 uint32
}

// FaultCode classifies hardware-invariant violations.
type FaultCode uint8

const (
	FaultNone          FaultCode = iota
	FaultStateMismatch           // power control register disagrees with the controller
	FaultTableInvalid            // transition table failed its build checks
	FaultMailboxState            // mailbox ready bit in an impossible state
	FaultLedgerCorrupt           // TX pause register disagrees with the ledger
	FaultPanic                   // main loop pass panicked
)

func (f FaultCode) String() string {
	switch f {
	case FaultNone:
		return "none"
	case FaultStateMismatch:
		return "state_mismatch"
	case FaultTableInvalid:
		return "table_invalid"
	case FaultMailboxState:
		return "mailbox_state"
	case FaultLedgerCorrupt:
		return "ledger_corrupt"
	case FaultPanic:
		return "panic"
	}
	return "fault?"
}

// FaultRecord is kept for the host and survives until Reset.
type FaultRecord struct {
	Code   FaultCode
	Clock  uint32
	Detail uint32
}

// Diagnostics owns the counters, the trace ring and the fault record.
type Diagnostics struct {
	counters [NumCounters]uint32
	ring     [TraceRingSize]TraceEvent
	head     uint8
	fault    FaultRecord

	onFault func(FaultRecord)
	reset   func()
}

// Inc bumps a counter.
func (d *Diagnostics) Inc(c Counter) {
	if c < NumCounters {
		d.counters[c]++
	}
}

// Get reads a counter.
func (d *Diagnostics) Get(c Counter) uint32 {
	if c < NumCounters {
		return d.counters[c]
	}
	return 0
}

// ResetCounters clears every counter; the trace ring and fault record
// are kept.
func (d *Diagnostics) ResetCounters() {
	d.counters = [NumCounters]uint32{}
}

// Trace captures an event in the ring. Always non-blocking.
func (d *Diagnostics) Trace(eventType, oid uint8, clock, value1, value2 uint32) {
	idx := d.head
	d.ring[idx] = TraceEvent{
		Type:   eventType,
		OID:    oid,
		Clock:  clock,
		Value1: value1,
		Value2: value2,
	}
	d.head = (idx + 1) % TraceRingSize
}

// SetFaultHandler installs a hook that runs before the reset (used to
// push the fault report to the host).
func (d *Diagnostics) SetFaultHandler(fn func(FaultRecord)) {
	d.onFault = fn
}

// SetResetHandler installs the controlled reset (watchdog) used after a
// fault. Without one the fault is only recorded.
func (d *Diagnostics) SetResetHandler(fn func()) {
	d.reset = fn
}

// Fault records a hardware-invariant violation and triggers the reset.
// Only the first fault is kept.
func (d *Diagnostics) Fault(code FaultCode, clock, detail uint32) {
	if d.fault.Code == FaultNone {
		d.fault = FaultRecord{Code: code, Clock: clock, Detail: detail}
	}
	d.Trace(TraceFault, uint8(code), clock, uint32(code), detail)
	if d.onFault != nil {
		d.onFault(d.fault)
	}
	if d.reset != nil {
		d.reset()
	}
}

// LastFault returns the recorded fault.
func (d *Diagnostics) LastFault() FaultRecord {
	return d.fault
}

// Reset clears everything except the installed hooks.
func (d *Diagnostics) Reset() {
	onFault, reset := d.onFault, d.reset
	*d = Diagnostics{onFault: onFault, reset: reset}
}

// DumpTrace writes the ring oldest first.
func (d *Diagnostics) DumpTrace(w DebugWriter) {
	if w == nil {
		return
	}

	w("[TRACE] === Trace Ring Dump ===")
	start := d.head
	for i := uint8(0); i < TraceRingSize; i++ {
		idx := (start + i) % TraceRingSize
		evt := &d.ring[idx]
		if evt.Type == 0 {
			continue
		}

		var name string
		switch evt.Type {
		case TraceTransition:
			name = "TRANSITION"
		case TraceTimerFire:
			name = "TIMER_FIRE"
		case TraceSlot:
			name = "SLOT"
		case TraceMailbox:
			name = "MAILBOX"
		case TraceBeacon:
			name = "BEACON"
		case TraceFault:
			name = "FAULT!"
		case TraceTxPause:
			name = "TX_PAUSE"
		default:
			name = "UNKNOWN"
		}

		w("[TRACE] " + name +
			" oid=" + itoa(int(evt.OID)) +
			" clock=" + utoa(evt.Clock) +
			" v1=" + utoa(evt.Value1) +
			" v2=" + utoa(evt.Value2))
	}
	w("[TRACE] === End Dump ===")
}
