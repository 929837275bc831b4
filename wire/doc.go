// Copyright 2026 The Pulseroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the session protocol spoken between the client
// engine and the session authority, and the data model both sides
// share.
//
// The package is organized around the protocol surface:
//
//   - types.go: the session data model (Session, Participant, Channel,
//     MasterArtifact, CPUSample)
//   - protocol.go: message envelope, message kinds, request and
//     broadcast payloads
//   - errors.go: the protocol error taxonomy
//
// Every message is a JSON-encoded Envelope carried in a single
// websocket message; the transport's message boundary is the frame.
// Requests carry a correlation id which the authority echoes on the
// matching Ack. Broadcasts carry no correlation id.
package wire
