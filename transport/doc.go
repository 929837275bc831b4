// Copyright 2026 The Pulseroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport provides the persistent, bidirectional,
// message-oriented connection between the engine and a session
// authority.
//
// The package is organized around the connection lifecycle:
//
//   - transport.go: the Transport interface and its event variants
//   - websocket.go: the production implementation over a websocket,
//     with automatic reconnection and exponential backoff
//   - memory.go: an in-process implementation for tests, with a
//     scriptable responder and manual event injection
//
// A Transport is deliberately dumb: it moves wire.Envelope values and
// reports connectivity transitions. Request/response correlation,
// timeouts, and retry-on-rejoin all live in the engine.
package transport
