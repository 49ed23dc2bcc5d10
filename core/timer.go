package core

// The firmware time base is the MAC's free-running 1 MHz counter (the low
// 32 bits of the TSF). All deadlines are uint32 microsecond values and are
// compared with wraparound-safe arithmetic.
const (
	TimerFreq = 1000000

	// One time unit (TU) as defined by 802.11, in microseconds.
	TUMicros = 1024
)

// Clock is the microsecond counter subsystems schedule against.
type Clock interface {
	Now() uint32
}

// SystemClock reads the counter the target latches once per main loop
// pass (see SetTime), so every subsystem sees the same now within a pass.
type SystemClock struct{}

// Now returns the latched system time in microseconds.
func (SystemClock) Now() uint32 {
	return getSystemTicks()
}

// SetTime latches the system time. Targets call it with the TSF read-out
// at the top of each pass.
func SetTime(ticks uint32) {
	setSystemTicks(ticks)
}

// ManualClock is a Clock whose value only moves when told to.
type ManualClock struct {
	T uint32
}

// Now implements Clock.
func (c *ManualClock) Now() uint32 { return c.T }

// Advance moves the clock forward by us microseconds.
func (c *ManualClock) Advance(us uint32) { c.T += us }

// TimeBefore reports whether a is strictly earlier than b, tolerating
// counter wraparound.
func TimeBefore(a, b uint32) bool {
	return int32(a-b) < 0
}

// TimeReached reports whether now is at or past deadline.
func TimeReached(now, deadline uint32) bool {
	return int32(now-deadline) >= 0
}

// TUToMicros converts time units to microseconds.
func TUToMicros(tu uint32) uint32 {
	return tu * TUMicros
}
