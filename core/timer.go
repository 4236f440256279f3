package core

// The system clock is the target's free-running microsecond counter,
// mirrored into core by the main loop.
const (
	TimerFreq = 1000000 // 1MHz: one tick per microsecond
)

var (
	systemTicks uint32
)

// GetTime returns the current system time in timer ticks
func GetTime() uint32 {
	return getSystemTicks()
}

// SetTime sets the current system time (hardware mirror and tests)
func SetTime(ticks uint32) {
	setSystemTicks(ticks)
}

// GetUptime returns 64-bit uptime in timer ticks. Targets with a 64-bit
// hardware counter override this through SetUptimeSource.
func GetUptime() uint64 {
	if uptimeSource != nil {
		return uptimeSource()
	}
	return uint64(GetTime())
}

var uptimeSource func() uint64

// SetUptimeSource registers a 64-bit hardware counter reader.
func SetUptimeSource(fn func() uint64) {
	uptimeSource = fn
}

// TimerFromUS converts microseconds to timer ticks
func TimerFromUS(us uint32) uint32 {
	return us * (TimerFreq / 1000000)
}

// TimerToUS converts timer ticks to microseconds
func TimerToUS(ticks uint32) uint32 {
	return ticks / (TimerFreq / 1000000)
}

// ProcessTimers dispatches scheduled timers that have come due
func ProcessTimers() {
	currentTime = GetTime()
	TimerDispatch()
}
