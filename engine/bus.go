// Copyright 2026 The Pulseroom Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"log/slog"
	"sync"
)

// bus is the engine's in-process publish/subscribe registry. Handlers
// run in registration order. A panicking handler is recovered and
// logged so one broken subscriber cannot block delivery to the rest.
type bus struct {
	logger *slog.Logger

	mu     sync.Mutex
	nextID int
	subs   []busSubscription
}

type busSubscription struct {
	id      int
	handler func(Event)
}

func newBus(logger *slog.Logger) *bus {
	return &bus{logger: logger}
}

// subscribe registers handler and returns a cancel function that
// removes exactly this registration.
func (b *bus) subscribe(handler func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, busSubscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, sub := range b.subs {
			if sub.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// publish delivers event to every subscriber in registration order.
// The subscriber list is snapshotted first, so a handler that
// subscribes or cancels during dispatch does not affect this delivery.
func (b *bus) publish(event Event) {
	b.mu.Lock()
	snapshot := make([]busSubscription, len(b.subs))
	copy(snapshot, b.subs)
	b.mu.Unlock()

	for _, sub := range snapshot {
		b.dispatch(sub, event)
	}
}

func (b *bus) dispatch(sub busSubscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"subscription_id", sub.id,
				"event", eventName(event),
				"panic", r,
			)
		}
	}()
	sub.handler(event)
}

// eventName labels an event variant for log output.
func eventName(event Event) string {
	switch event.(type) {
	case EventSnapshot:
		return "snapshot"
	case EventParticipant:
		return "participant"
	case EventMasterUpdated:
		return "master-updated"
	case EventAuthError:
		return "auth-error"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventTransportError:
		return "transport-error"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}
