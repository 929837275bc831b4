// Copyright 2026 The Pulseroom Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock frozen at the given time. Nothing fires
// until Advance moves the clock past a deadline.
//
// FakeClock is safe for concurrent use.
func Fake(initial time.Time) *FakeClock {
	c := &FakeClock{current: initial}
	c.armed = sync.NewCond(&c.mu)
	return c
}

// FakeClock is a deterministic Clock for tests. Time moves only under
// Advance. AfterFunc callbacks run synchronously inside Advance, in
// deadline order; calling Advance from inside a callback deadlocks.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	pending []*pendingTimer
	armed   *sync.Cond
}

// pendingTimer is one armed After, AfterFunc, or Ticker registration.
type pendingTimer struct {
	deadline time.Time

	// Exactly one of channel and callback is set.
	channel  chan time.Time
	callback func()

	// interval is non-zero for tickers; the timer re-arms at
	// deadline+interval after each fire.
	interval time.Duration

	stopped bool
	fired   bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After returns a channel that receives once the clock advances d past
// the current fake time. Non-positive d delivers immediately.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.current
		return ch
	}
	c.pending = append(c.pending, &pendingTimer{
		deadline: c.current.Add(d),
		channel:  ch,
	})
	c.armed.Broadcast()
	return ch
}

// AfterFunc schedules f to run once the clock advances d past the
// current fake time. Non-positive d runs f synchronously before
// AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	c.mu.Lock()

	if d <= 0 {
		c.mu.Unlock()
		f()
		return &Timer{
			stopFunc:  func() bool { return false },
			resetFunc: func(time.Duration) bool { return false },
		}
	}

	entry := &pendingTimer{
		deadline: c.current.Add(d),
		callback: f,
	}
	c.pending = append(c.pending, entry)
	c.armed.Broadcast()
	c.mu.Unlock()

	return &Timer{
		stopFunc: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			if entry.stopped || entry.fired {
				return false
			}
			entry.stopped = true
			return true
		},
		resetFunc: func(d time.Duration) bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			active := !entry.stopped && !entry.fired
			entry.stopped = false
			entry.fired = false
			entry.deadline = c.current.Add(d)
			if !active {
				// The entry was removed from pending when it fired;
				// put it back.
				c.pending = append(c.pending, entry)
				c.armed.Broadcast()
			}
			return active
		},
	}
}

// NewTicker returns a Ticker whose ticks fire during Advance, once per
// elapsed interval. Panics if d <= 0.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: NewTicker interval must be positive")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	entry := &pendingTimer{
		deadline: c.current.Add(d),
		channel:  ch,
		interval: d,
	}
	c.pending = append(c.pending, entry)
	c.armed.Broadcast()

	return &Ticker{
		C: ch,
		stopFunc: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			entry.stopped = true
		},
	}
}

// Advance moves the clock forward by d and fires every registration
// whose deadline falls within the new time, in deadline order.
// AfterFunc callbacks run synchronously in the calling goroutine;
// channel deliveries are non-blocking (a full buffer drops the tick,
// matching time.Ticker).
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	target := c.current
	c.mu.Unlock()

	for {
		expired := c.takeExpired(target)
		if len(expired) == 0 {
			return
		}
		sort.Slice(expired, func(i, j int) bool {
			return expired[i].deadline.Before(expired[j].deadline)
		})
		for _, entry := range expired {
			if entry.callback != nil {
				entry.callback()
				continue
			}
			select {
			case entry.channel <- target:
			default:
			}
		}
	}
}

// takeExpired removes every registration due at or before target,
// re-arming tickers for their next interval, and returns the expired
// set.
func (c *FakeClock) takeExpired(target time.Time) []*pendingTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired, kept []*pendingTimer
	for _, entry := range c.pending {
		switch {
		case entry.stopped:
			// Dropped.
		case !entry.deadline.After(target):
			expired = append(expired, entry)
		default:
			kept = append(kept, entry)
		}
	}
	for _, entry := range expired {
		if entry.interval > 0 {
			entry.deadline = entry.deadline.Add(entry.interval)
			kept = append(kept, entry)
		} else {
			entry.fired = true
		}
	}
	c.pending = kept
	return expired
}

// WaitForTimers blocks until at least n registrations are armed. Use
// this to synchronize with a goroutine that arms a timer before the
// test advances the clock:
//
//	go engine.Join(ctx, id)     // arms the request timeout
//	fake.WaitForTimers(1)
//	fake.Advance(joinTimeout)
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.armedCountLocked() < n {
		c.armed.Wait()
	}
}

// PendingCount reports how many registrations are currently armed.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armedCountLocked()
}

func (c *FakeClock) armedCountLocked() int {
	n := 0
	for _, entry := range c.pending {
		if !entry.stopped {
			n++
		}
	}
	return n
}
