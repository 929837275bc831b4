// Copyright 2026 The Pulseroom Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"sync"
	"time"

	"github.com/pulseroom/pulseroom/lib/clock"
	"github.com/pulseroom/pulseroom/wire"
)

// applyScheduler holds an incoming master update for the session's
// configured apply delay before exposing it to subscribers, so that
// currently playing content is not abruptly replaced. At most one
// timer is pending at a time: a newer Schedule call cancels the older
// one, and only the most recent update within the pending window is
// ever delivered.
type applyScheduler struct {
	clk     clock.Clock
	deliver func(wire.MasterUpdated)

	mu      sync.Mutex
	timer   *clock.Timer
	pending *wire.MasterUpdated

	// generation invalidates a timer callback superseded by a newer
	// Schedule call.
	generation int
}

func newApplyScheduler(clk clock.Clock, deliver func(wire.MasterUpdated)) *applyScheduler {
	return &applyScheduler{clk: clk, deliver: deliver}
}

// Schedule arms delivery of update after delay, cancelling any
// still-pending delivery. A non-positive delay delivers immediately.
func (s *applyScheduler) Schedule(update wire.MasterUpdated, delay time.Duration) {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.generation++
	s.pending = nil

	if delay <= 0 {
		s.mu.Unlock()
		s.deliver(update)
		return
	}

	s.pending = &update
	generation := s.generation
	s.timer = s.clk.AfterFunc(delay, func() {
		s.fire(generation)
	})
	s.mu.Unlock()
}

// fire delivers the pending update unless a newer Schedule call
// superseded this timer.
func (s *applyScheduler) fire(generation int) {
	s.mu.Lock()
	if generation != s.generation || s.pending == nil {
		s.mu.Unlock()
		return
	}
	update := *s.pending
	s.pending = nil
	s.timer = nil
	s.mu.Unlock()

	s.deliver(update)
}

// Stop cancels any pending delivery.
func (s *applyScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.generation++
	s.pending = nil
}
