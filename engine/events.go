// Copyright 2026 The Pulseroom Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import "github.com/pulseroom/pulseroom/wire"

// Event is a state change published on the engine's event bus. The
// closed set of variants is EventSnapshot, EventParticipant,
// EventMasterUpdated, EventAuthError, EventConnected,
// EventDisconnected, EventTransportError, and EventError.
type Event interface {
	isEngineEvent()
}

// EventSnapshot carries a full session snapshot. The engine's mirror
// has already been replaced when subscribers see this event.
type EventSnapshot struct {
	Session wire.Session
}

// EventParticipant announces a membership change. The mirror is NOT
// updated from this event — a fresh snapshot is the only thing that
// mutates it.
type EventParticipant struct {
	Change wire.ParticipantEvent
}

// EventMasterUpdated carries a master pattern update that has passed
// through the coalescer and the apply-delay scheduler.
type EventMasterUpdated struct {
	Update wire.MasterUpdated
}

// EventAuthError carries an authority-pushed authentication failure
// not tied to any pending request.
type EventAuthError struct {
	Message string
}

// EventConnected signals a usable connection. When a session was
// current at disconnect time, the automatic rejoin has already been
// attempted (and its snapshot published) before this event fires.
type EventConnected struct{}

// EventDisconnected signals connectivity loss. The mirror and the
// current-session pointer are retained so a later reconnect can
// resynchronize.
type EventDisconnected struct {
	Err error
}

// EventTransportError carries a connection-level failure, such as a
// failed reconnection attempt.
type EventTransportError struct {
	Err error
}

// EventError carries a background failure that has no caller to
// reject, such as a failed automatic rejoin.
type EventError struct {
	Err error
}

func (EventSnapshot) isEngineEvent()       {}
func (EventParticipant) isEngineEvent()    {}
func (EventMasterUpdated) isEngineEvent()  {}
func (EventAuthError) isEngineEvent()      {}
func (EventConnected) isEngineEvent()      {}
func (EventDisconnected) isEngineEvent()   {}
func (EventTransportError) isEngineEvent() {}
func (EventError) isEngineEvent()          {}
