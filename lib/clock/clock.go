// Copyright 2026 The Pulseroom Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the timer surface used by the engine and the authority.
// Anything that would call time.Now, time.After, time.AfterFunc, or
// time.NewTicker takes a Clock instead (usually as a config field)
// so tests can substitute Fake().
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives once duration d has
	// elapsed. A non-positive d delivers immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc schedules f to run after duration d and returns a
	// Timer whose Stop cancels the pending call. The Timer's C field
	// is nil, matching time.AfterFunc. A non-positive d runs f
	// immediately: in a new goroutine for the real clock,
	// synchronously for the fake.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker returns a Ticker delivering on C every interval d.
	// Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Timer is a single scheduled event. Timers created by AfterFunc have
// a nil C.
type Timer struct {
	// C delivers the fire time. Nil for AfterFunc timers.
	C <-chan time.Time

	stopFunc  func() bool
	resetFunc func(time.Duration) bool
}

// Stop cancels the timer. Returns false if it already fired or was
// already stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Reset re-arms the timer to fire after duration d. Returns whether
// the timer was active before the call.
func (t *Timer) Reset(d time.Duration) bool { return t.resetFunc(d) }

// Ticker delivers periodic ticks on C. C is buffered with capacity 1;
// ticks are dropped, not queued, when the consumer falls behind.
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

// Stop turns the ticker off. C is not closed.
func (t *Ticker) Stop() { t.stopFunc() }
