// Copyright 2026 The Pulseroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine implements the client-side session synchronization
// engine: the single point of contact for joining and leaving
// sessions, submitting and publishing channels, and receiving the
// live event stream from the session authority.
//
// The package is organized around the update path:
//
//   - engine.go: the Engine — request futures, the session mirror,
//     the current-session pointer, and rejoin-after-reconnect
//   - events.go: the closed set of event variants published to
//     subscribers
//   - bus.go: the in-process publish/subscribe registry
//   - coalesce.go: collapses bursts of master-update broadcasts into
//     a single delivery
//   - schedule.go: defers the coalesced delivery by the session's
//     configured apply delay
//
// A raw master-updated broadcast first passes through the coalescer;
// the coalescer's single delivery feeds the scheduler; the scheduler's
// delivery is what subscribers see. A burst therefore produces at most
// one visible update, deferred by the configured delay.
package engine
