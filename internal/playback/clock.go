package playback

import "time"

// Clock abstracts wall-clock time and timer scheduling so the scheduler's
// timing invariants can be tested deterministically.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// NewRealClock returns a Clock backed by the runtime timers.
func NewRealClock() Clock { return realClock{} }
