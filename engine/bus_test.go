// Copyright 2026 The Pulseroom Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"io"
	"log/slog"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBusDispatchesInRegistrationOrder(t *testing.T) {
	b := newBus(discardLogger())
	var order []int
	b.subscribe(func(Event) { order = append(order, 1) })
	b.subscribe(func(Event) { order = append(order, 2) })
	b.subscribe(func(Event) { order = append(order, 3) })

	b.publish(EventConnected{})
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("handlers ran in order %v, want [1 2 3]", order)
	}
}

func TestBusCancelRemovesExactlyOneRegistration(t *testing.T) {
	b := newBus(discardLogger())
	var calls []string
	// The same handler body registered twice must be independently
	// cancellable.
	cancelFirst := b.subscribe(func(Event) { calls = append(calls, "first") })
	b.subscribe(func(Event) { calls = append(calls, "second") })

	cancelFirst()
	b.publish(EventConnected{})
	if len(calls) != 1 || calls[0] != "second" {
		t.Fatalf("calls = %v, want only the second registration", calls)
	}

	// Cancelling twice is harmless.
	cancelFirst()
	b.publish(EventConnected{})
	if len(calls) != 2 {
		t.Fatalf("calls = %v, want second registration to survive", calls)
	}
}

func TestBusPanickingHandlerDoesNotBlockOthers(t *testing.T) {
	b := newBus(discardLogger())
	var reached bool
	b.subscribe(func(Event) { panic("broken subscriber") })
	b.subscribe(func(Event) { reached = true })

	b.publish(EventConnected{})
	if !reached {
		t.Fatal("panic in an earlier handler blocked delivery to a later one")
	}
}

func TestBusSubscribeDuringDispatchMissesCurrentEvent(t *testing.T) {
	b := newBus(discardLogger())
	var lateCalls int
	b.subscribe(func(Event) {
		b.subscribe(func(Event) { lateCalls++ })
	})

	b.publish(EventConnected{})
	if lateCalls != 0 {
		t.Fatal("handler registered during dispatch saw the in-flight event")
	}
	b.publish(EventConnected{})
	if lateCalls != 1 {
		t.Fatalf("late handler called %d times for the next event, want 1", lateCalls)
	}
}
