// Copyright 2026 The Pulseroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package authority implements the reference session authority: the
// single source of truth for a session's canonical state. It accepts
// join/leave/update requests over websocket connections, validates
// them, applies mutations atomically per session, and broadcasts
// change notifications to every connected member — including the
// requester, so clients never have to trust optimistic local state.
//
// The package is organized around the request path:
//
//   - registry.go: canonical session state, per-session serialization,
//     membership, and broadcast fan-out
//   - server.go: the websocket endpoint and the HTTP collaborator API
//   - store.go: SQLite persistence of session snapshots
//   - sampler.go: periodic CPU load sampling for the session stats
//     window
//   - config.go: daemon configuration (YAML file + defaults)
package authority
