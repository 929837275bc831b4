// Copyright 2026 The Pulseroom Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"

	"github.com/pulseroom/pulseroom/wire"
)

// Transport is a persistent message-oriented connection to one session
// authority. Implementations reconnect on their own; the engine learns
// about connectivity through Events.
type Transport interface {
	// Send transmits one envelope. Returns an error if the transport
	// is not currently connected or the write fails; Send never
	// queues for later delivery.
	Send(ctx context.Context, envelope wire.Envelope) error

	// Events returns the stream of connectivity transitions and
	// received envelopes, in arrival order. The channel is closed by
	// Close.
	Events() <-chan Event

	// Close tears the connection down and stops reconnection
	// attempts. Idempotent.
	Close() error
}

// Event is a connectivity transition or a received envelope. The
// closed set of variants is Connected, Disconnected, ConnectError,
// and Received.
type Event interface {
	isTransportEvent()
}

// Connected signals that the connection is established. Emitted on
// the initial dial and after every successful reconnect.
type Connected struct{}

// Disconnected signals that an established connection dropped. The
// transport keeps trying to reconnect unless closed.
type Disconnected struct {
	Err error
}

// ConnectError signals a failed dial attempt during (re)connection.
type ConnectError struct {
	Err error
}

// Received carries one envelope from the authority.
type Received struct {
	Envelope wire.Envelope
}

func (Connected) isTransportEvent()    {}
func (Disconnected) isTransportEvent() {}
func (ConnectError) isTransportEvent() {}
func (Received) isTransportEvent()     {}
