package intel

import "time"

// Clock abstracts time for deterministic window expiry in tests.
// Every internal operation threads an explicit `now`; the clock is only
// consulted at the engine's outermost convenience entry points.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock
func SystemClock() Clock { return systemClock{} }
