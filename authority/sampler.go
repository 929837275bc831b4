// Copyright 2026 The Pulseroom Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pulseroom/pulseroom/lib/clock"
	"github.com/pulseroom/pulseroom/wire"
)

// Sampler periodically records the host's load averages into a
// bounded window. Samples are observational only; the one invariant
// is that timestamps within the window are monotonically
// non-decreasing, which holds because a single goroutine appends in
// clock order.
type Sampler struct {
	clk       clock.Clock
	logger    *slog.Logger
	interval  time.Duration
	capacity  int
	threshold float64

	mu      sync.Mutex
	window  []wire.CPUSample
	stop    chan struct{}
	stopped sync.Once
}

// SamplerConfig holds the parameters for a Sampler.
type SamplerConfig struct {
	// Clock drives the sample ticker. If nil, the real clock.
	Clock clock.Clock

	// Logger receives sampler errors. If nil, a discard logger.
	Logger *slog.Logger

	// Interval is the time between samples. Zero means 5 seconds.
	Interval time.Duration

	// WindowSize is how many recent samples are retained. Zero means
	// 60.
	WindowSize int

	// LoadWarningThreshold is the load1 value above which a sample
	// carries a warning. Zero means 4.0.
	LoadWarningThreshold float64
}

// NewSampler constructs a Sampler and starts its sampling loop. The
// caller must Stop it when done.
func NewSampler(config SamplerConfig) *Sampler {
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	interval := config.Interval
	if interval == 0 {
		interval = 5 * time.Second
	}
	capacity := config.WindowSize
	if capacity == 0 {
		capacity = 60
	}
	threshold := config.LoadWarningThreshold
	if threshold == 0 {
		threshold = 4.0
	}

	s := &Sampler{
		clk:       clk,
		logger:    logger,
		interval:  interval,
		capacity:  capacity,
		threshold: threshold,
		stop:      make(chan struct{}),
	}
	s.sampleOnce()
	go s.run()
	return s
}

// Stop ends the sampling loop. Idempotent.
func (s *Sampler) Stop() {
	s.stopped.Do(func() { close(s.stop) })
}

// Window returns a copy of the current sample window, oldest first.
func (s *Sampler) Window() []wire.CPUSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wire.CPUSample, len(s.window))
	copy(out, s.window)
	return out
}

// Latest returns the most recent sample, if any.
func (s *Sampler) Latest() (wire.CPUSample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.window) == 0 {
		return wire.CPUSample{}, false
	}
	return s.window[len(s.window)-1], true
}

func (s *Sampler) run() {
	ticker := s.clk.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sampleOnce()
		case <-s.stop:
			return
		}
	}
}

func (s *Sampler) sampleOnce() {
	load1, load5, load15, err := readLoadAverages()
	if err != nil {
		s.logger.Warn("load sample failed", "error", err)
		return
	}

	sample := wire.CPUSample{
		At:     s.clk.Now().UTC(),
		Load1:  load1,
		Load5:  load5,
		Load15: load15,
	}
	if load1 > s.threshold {
		sample.Warning = fmt.Sprintf("load average %.2f exceeds threshold %.2f", load1, s.threshold)
	}

	s.mu.Lock()
	s.window = append(s.window, sample)
	if len(s.window) > s.capacity {
		s.window = s.window[len(s.window)-s.capacity:]
	}
	s.mu.Unlock()
}
