package jobstatus

import "time"

// Clock abstracts wall-clock time so eviction can be driven by tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable one-shot callback.
type Timer interface {
	Stop() bool
}

// SystemClock is the real-time Clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }

// AfterFunc schedules f on its own goroutine after d.
func (SystemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
