// Package power implements the power state controller: the state machine
// that keeps the radio in the lowest-power state that still catches the
// next beacon, does not stall queued TX and respects coexistence.
package power

// State is the power state of the radio.
type State uint8

const (
	StateActive         State = iota // awake, AP believes we are awake
	StateActiveNull                  // awake, doze announce in flight
	StateRFOnRetain                  // awake between beacons, AP holds our frames
	StateRFOnRetainNull              // doze announced and TX drained, about to power down
	StateOff                         // radio off, timers and mailbox clocked
	StateScan                        // off-channel scan
	StateNoA                         // notice of absence: RF off, registers kept

	NumStates
)

var stateNames = [NumStates]string{
	"active",
	"active_null",
	"rf_on_retain",
	"rf_on_retain_null",
	"off",
	"scan",
	"noa",
}

func (s State) String() string {
	if s < NumStates {
		return stateNames[s]
	}
	return "state?"
}

// RFOn reports whether the RF front-end is powered in s.
func (s State) RFOn() bool {
	switch s {
	case StateActive, StateActiveNull, StateRFOnRetain, StateRFOnRetainNull, StateScan:
		return true
	case StateOff, StateNoA:
		return false
	}
	panic("power: bad state")
}

// Retained reports whether MAC/BB registers keep their contents in s.
func (s State) Retained() bool {
	return s != StateOff
}

// LowPower reports whether s is one of the power-save states entered
// through the doze announce.
func (s State) LowPower() bool {
	switch s {
	case StateRFOnRetain, StateRFOnRetainNull, StateOff:
		return true
	}
	return false
}

// EventKind is the closed set of inputs of the state machine.
type EventKind uint8

const (
	EvPSRequest     EventKind = iota // host asks to enter power save
	EvPSLeave                        // host override back to active
	EvNullAck                        // doze announce acknowledged
	EvNullFail                       // doze announce not acknowledged
	EvNullGiveUp                     // derived: retry limit reached
	EvTxQueueEmpty                   // TX queue drained
	EvTxPending                      // TX queued (also derived from a non-empty drain check)
	EvBeaconRx                       // beacon received, Arg = RX timestamp
	EvBeaconEarly                    // wake timer ahead of TBTT
	EvBeaconMiss                     // beacon timeout
	EvBeaconLoss                     // derived: miss limit reached
	EvCoexSlot                       // coexistence slot changed
	EvUrgentWake                     // host or co-radio needs the radio now
	EvScanStart                      // host starts a scan
	EvScanDone                       // scan finished
	EvNoAStart                       // absence period begins
	EvNoAEnd                         // absence period ends
	EvBudgetExpired                  // transition budget timer
	EvRFStable                       // derived: RF was stable at the budget check
	EvSleep                          // internal: power down now

	NumEvents
)

var eventNames = [NumEvents]string{
	"ps_request",
	"ps_leave",
	"null_ack",
	"null_fail",
	"null_give_up",
	"tx_queue_empty",
	"tx_pending",
	"beacon_rx",
	"beacon_early",
	"beacon_miss",
	"beacon_loss",
	"coex_slot",
	"urgent_wake",
	"scan_start",
	"scan_done",
	"noa_start",
	"noa_end",
	"budget_expired",
	"rf_stable",
	"sleep",
}

func (e EventKind) String() string {
	if e < NumEvents {
		return eventNames[e]
	}
	return "event?"
}

// Event is one input with its argument.
type Event struct {
	Kind EventKind
	Arg  uint32
}

// NoticeKind classifies what the controller tells the rest of the firmware.
type NoticeKind uint8

const (
	NoticeStateChange NoticeKind = iota
	NoticePSFail
	NoticeConnectionLost
	NoticeTimingViolation
)

func (n NoticeKind) String() string {
	switch n {
	case NoticeStateChange:
		return "state_change"
	case NoticePSFail:
		return "ps_fail"
	case NoticeConnectionLost:
		return "connection_lost"
	case NoticeTimingViolation:
		return "timing_violation"
	}
	return "notice?"
}

// Notice is emitted after the transition that caused it has completed.
type Notice struct {
	Kind NoticeKind
	From State
	To   State
}
