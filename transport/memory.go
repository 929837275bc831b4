// Copyright 2026 The Pulseroom Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"sync"

	"github.com/pulseroom/pulseroom/wire"
)

// Compile-time interface check.
var _ Transport = (*Memory)(nil)

// Memory is an in-process Transport for tests. Sends are recorded and
// optionally answered by a scripted responder; connectivity events are
// injected manually. Multiple independent engines can each hold their
// own Memory, which is how multi-participant scenarios are simulated
// without a network.
type Memory struct {
	mu        sync.Mutex
	sent      []wire.Envelope
	responder func(wire.Envelope) []wire.Envelope
	sendErr   error
	closed    bool

	events chan Event
}

// NewMemory creates a memory transport. It starts "connected": sends
// succeed immediately. Use Inject(Disconnected{}) to simulate an
// outage.
func NewMemory() *Memory {
	return &Memory{
		events: make(chan Event, 256),
	}
}

// Send records the envelope and, if a responder is scripted, queues
// its replies as Received events.
func (m *Memory) Send(_ context.Context, envelope wire.Envelope) error {
	m.mu.Lock()
	if m.sendErr != nil {
		err := m.sendErr
		m.mu.Unlock()
		return err
	}
	m.sent = append(m.sent, envelope)
	responder := m.responder
	m.mu.Unlock()

	if responder != nil {
		for _, reply := range responder(envelope) {
			m.Inject(Received{Envelope: reply})
		}
	}
	return nil
}

// Events returns the injected event stream.
func (m *Memory) Events() <-chan Event {
	return m.events
}

// Close closes the event stream. Idempotent.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.events)
	return nil
}

// Inject pushes an event to the consumer, as if it arrived from the
// network. No-op after Close.
func (m *Memory) Inject(event Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.events <- event
}

// SetResponder scripts the authority side: every Send passes the
// outgoing envelope to f, and each returned envelope is delivered
// back as a Received event. A nil responder leaves sends unanswered
// (useful for timeout tests).
func (m *Memory) SetResponder(f func(wire.Envelope) []wire.Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responder = f
}

// FailSends makes every subsequent Send return err. Pass nil to
// restore normal operation.
func (m *Memory) FailSends(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// Sent returns a copy of every envelope sent so far.
func (m *Memory) Sent() []wire.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]wire.Envelope, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentCount returns how many envelopes have been sent.
func (m *Memory) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}
