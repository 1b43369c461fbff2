// Package clock abstracts wall-clock time so polling loops can be driven
// by a virtual clock in tests instead of real sleeps.
package clock

import "time"

// Clock is the time source used by every polling loop in this service.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Real is the wall-clock implementation.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Fake is a deterministic clock for tests. After advances the clock by the
// requested duration and fires immediately, so a single-goroutine polling
// loop observes virtual time without sleeping.
type Fake struct {
	now time.Time
}

// NewFake returns a fake clock starting at the given instant.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time { return f.now }

func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.now = f.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- f.now
	return ch
}

// Advance moves the fake clock forward without a waiter.
func (f *Fake) Advance(d time.Duration) { f.now = f.now.Add(d) }
