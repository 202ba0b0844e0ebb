// Package clock abstracts wall-clock time so timers and elapsed-time
// calculations can be driven deterministically in tests.
package clock

import "time"

// Clock is the time source used by the scheduler, the engine and the dispatcher.
type Clock interface {
	Now() time.Time
	// AfterFunc calls f in its own goroutine (Real) or in the advancing
	// goroutine (Fake) once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is the handle returned by AfterFunc.
type Timer interface {
	// Stop prevents the timer from firing. It returns false if the timer
	// already fired or was stopped.
	Stop() bool
}

// Real implements Clock using the time package.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// MidnightIn returns local midnight of t in loc.
func MidnightIn(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}
