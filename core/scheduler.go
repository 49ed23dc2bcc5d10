package core

// TimerID names a slot of the hardware timer bank. Every slot is owned by
// exactly one subsystem for the lifetime of the image.
type TimerID uint8

const (
	TimerBeaconEarly     TimerID = iota // wake the radio ahead of TBTT
	TimerBeaconTimeout                  // give up on the expected beacon
	TimerCoexSlot                       // TDMA slot toggle
	TimerDriftCorrect                   // fold measured drift into TBTT phase
	TimerMailboxWatchdog                // mailbox acknowledgement deadline
	TimerPowerBudget                    // power transition must finish by now

	NumTimers
)

var timerNames = [NumTimers]string{
	"beacon_early",
	"beacon_timeout",
	"coex_slot",
	"drift_correct",
	"mailbox_watchdog",
	"power_budget",
}

func (id TimerID) String() string {
	if id < NumTimers {
		return timerNames[id]
	}
	return "timer?"
}

// Handler results
const (
	SF_DONE       = 0
	SF_RESCHEDULE = 1
)

// Timer is one compare channel of the bank.
type Timer struct {
	ID       TimerID
	WakeTime uint32
	Period   uint32 // 0 for one-shot
	Handler  func(*Timer) uint8

	armed     bool
	latched   bool
	cancelled bool
}

// TimerBank is the fixed pool of hardware timers. Latch runs in the timer
// compare interrupt; Dispatch runs the handlers from the main loop.
type TimerBank struct {
	timers     [NumTimers]Timer
	staleFires uint32
	overruns   uint32
}

// NewTimerBank returns a bank with every timer disarmed.
func NewTimerBank() *TimerBank {
	b := &TimerBank{}
	b.Reset()
	return b
}

// Reset disarms every timer and drops pending fires. Handlers stay assigned.
func (b *TimerBank) Reset() {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	for i := range b.timers {
		h := b.timers[i].Handler
		b.timers[i] = Timer{ID: TimerID(i), Handler: h}
	}
	b.staleFires = 0
	b.overruns = 0
}

// Assign binds the handler of a timer slot.
func (b *TimerBank) Assign(id TimerID, handler func(*Timer) uint8) {
	b.timers[id].Handler = handler
}

// Arm schedules a one-shot fire at wake. Re-arming a timer that already
// latched turns the latched fire into a stale one.
func (b *TimerBank) Arm(id TimerID, wake uint32) {
	b.arm(id, wake, 0)
}

// ArmPeriodic schedules the first fire at wake and then every period.
func (b *TimerBank) ArmPeriodic(id TimerID, wake, period uint32) {
	b.arm(id, wake, period)
}

func (b *TimerBank) arm(id TimerID, wake, period uint32) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	t := &b.timers[id]
	if t.latched {
		t.cancelled = true
	}
	t.WakeTime = wake
	t.Period = period
	t.armed = true
}

// Disarm cancels a timer. A fire that already latched cannot be recalled;
// Dispatch observes it as stale and does not run the handler.
func (b *TimerBank) Disarm(id TimerID) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	t := &b.timers[id]
	t.armed = false
	if t.latched {
		t.cancelled = true
	}
}

// Armed reports whether the timer will fire.
func (b *TimerBank) Armed(id TimerID) bool {
	return b.timers[id].armed
}

// Deadline returns the next wake time of an armed timer.
func (b *TimerBank) Deadline(id TimerID) (uint32, bool) {
	t := &b.timers[id]
	return t.WakeTime, t.armed
}

// Latch is the compare-interrupt side: every armed timer whose deadline
// has been reached is marked pending. Returns the number latched.
func (b *TimerBank) Latch(now uint32) int {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	n := 0
	for i := range b.timers {
		t := &b.timers[i]
		if !t.armed || !TimeReached(now, t.WakeTime) {
			continue
		}
		if t.latched && !t.cancelled {
			b.overruns++
		}
		t.latched = true
		t.cancelled = false
		if t.Period != 0 {
			t.WakeTime += t.Period
		} else {
			t.armed = false
		}
		n++
	}
	return n
}

// Dispatch runs the handler of every latched timer. Handlers returning
// SF_RESCHEDULE must have set WakeTime.
func (b *TimerBank) Dispatch() int {
	n := 0
	for i := range b.timers {
		t := &b.timers[i]

		state := disableInterrupts()
		if !t.latched {
			restoreInterrupts(state)
			continue
		}
		t.latched = false
		stale := t.cancelled
		t.cancelled = false
		restoreInterrupts(state)

		if stale || t.Handler == nil {
			b.staleFires++
			continue
		}
		if t.Handler(t) == SF_RESCHEDULE {
			state = disableInterrupts()
			t.armed = true
			restoreInterrupts(state)
		}
		n++
	}
	return n
}

// NextWake returns the earliest armed deadline as seen from now. Overdue
// deadlines sort first.
func (b *TimerBank) NextWake(now uint32) (uint32, bool) {
	var best int32
	found := false
	for i := range b.timers {
		t := &b.timers[i]
		if !t.armed {
			continue
		}
		d := int32(t.WakeTime - now)
		if !found || d < best {
			best = d
			found = true
		}
	}
	return now + uint32(best), found
}

// StaleFires counts fires that latched after their timer was cancelled.
func (b *TimerBank) StaleFires() uint32 { return b.staleFires }

// Overruns counts periodic fires that latched before the previous one
// was dispatched.
func (b *TimerBank) Overruns() uint32 { return b.overruns }
