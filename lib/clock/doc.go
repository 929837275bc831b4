// Copyright 2026 The Pulseroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts timer and wall-clock operations so that the
// engine's coalescing, apply-delay, and request-timeout behavior can be
// tested deterministically. Production code injects Real(); tests
// inject Fake() and drive time with Advance.
package clock
