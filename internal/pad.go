package internal

import "time"

// PadToFloor sleeps until at least floor has elapsed since start, as
// measured by now. It never oversleeps: if the work already took longer
// than the floor, it returns immediately. The clock and sleep functions
// are injected so tests run without wall-clock delays.
func PadToFloor(start time.Time, floor time.Duration, now func() time.Time, sleep func(time.Duration)) {
	if floor <= 0 {
		return
	}
	elapsed := now().Sub(start)
	if elapsed >= floor {
		return
	}
	sleep(floor - elapsed)
}
