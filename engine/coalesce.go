// Copyright 2026 The Pulseroom Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"sync"
	"time"

	"github.com/pulseroom/pulseroom/lib/clock"
	"github.com/pulseroom/pulseroom/wire"
)

// DefaultQuietWindow is how long the coalescer waits for a burst of
// master-update broadcasts to go quiet before delivering the last one.
const DefaultQuietWindow = 120 * time.Millisecond

// coalescer collapses a burst of master-update notifications into a
// single delivery carrying the temporally-last payload. Each arrival
// restarts the quiet window, so delivery happens one window after the
// burst's final notification. A notification arriving after the timer
// has fired starts a new independent cycle.
type coalescer struct {
	clk     clock.Clock
	window  time.Duration
	deliver func(wire.MasterUpdated)

	mu    sync.Mutex
	queue []wire.MasterUpdated
	timer *clock.Timer

	// generation invalidates a timer callback that lost the race with
	// a newer Offer: the stale callback finds the generation moved on
	// and does nothing.
	generation int
}

func newCoalescer(clk clock.Clock, window time.Duration, deliver func(wire.MasterUpdated)) *coalescer {
	return &coalescer{clk: clk, window: window, deliver: deliver}
}

// Offer appends a notification to the pending burst and restarts the
// quiet window. A non-positive window disables coalescing: the
// notification is delivered immediately.
func (c *coalescer) Offer(update wire.MasterUpdated) {
	if c.window <= 0 {
		c.deliver(update)
		return
	}

	c.mu.Lock()
	c.queue = append(c.queue, update)
	if c.timer != nil {
		c.timer.Stop()
	}
	c.generation++
	generation := c.generation
	c.timer = c.clk.AfterFunc(c.window, func() {
		c.fire(generation)
	})
	c.mu.Unlock()
}

// fire delivers the last queued notification and clears the burst,
// unless a newer Offer superseded this timer.
func (c *coalescer) fire(generation int) {
	c.mu.Lock()
	if generation != c.generation || len(c.queue) == 0 {
		c.mu.Unlock()
		return
	}
	last := c.queue[len(c.queue)-1]
	c.queue = nil
	c.timer = nil
	c.mu.Unlock()

	c.deliver(last)
}

// Stop cancels any pending delivery.
func (c *coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.generation++
	c.queue = nil
}
