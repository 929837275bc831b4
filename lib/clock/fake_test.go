// Copyright 2026 The Pulseroom Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync/atomic"
	"testing"
	"time"
)

var epoch = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func TestFakeNow(t *testing.T) {
	clk := Fake(epoch)
	if got := clk.Now(); !got.Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", got, epoch)
	}
	clk.Advance(7 * time.Second)
	if got, want := clk.Now(), epoch.Add(7*time.Second); !got.Equal(want) {
		t.Fatalf("Now() after Advance = %v, want %v", got, want)
	}
}

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	clk := Fake(epoch)
	ch := clk.After(3 * time.Second)

	select {
	case <-ch:
		t.Fatal("After fired before Advance")
	default:
	}

	clk.Advance(2 * time.Second)
	select {
	case <-ch:
		t.Fatal("After fired before its deadline")
	default:
	}

	clk.Advance(1 * time.Second)
	select {
	case <-ch:
	default:
		t.Fatal("After did not fire at its deadline")
	}
}

func TestFakeAfterNonPositive(t *testing.T) {
	clk := Fake(epoch)
	for _, d := range []time.Duration{0, -time.Second} {
		select {
		case <-clk.After(d):
		default:
			t.Fatalf("After(%v) should fire immediately", d)
		}
	}
}

func TestFakeAfterFunc(t *testing.T) {
	clk := Fake(epoch)
	var fired atomic.Int32
	clk.AfterFunc(2*time.Second, func() { fired.Add(1) })

	clk.Advance(time.Second)
	if fired.Load() != 0 {
		t.Fatal("AfterFunc fired early")
	}
	clk.Advance(time.Second)
	if fired.Load() != 1 {
		t.Fatalf("AfterFunc fired %d times, want 1", fired.Load())
	}
	// Already fired; further advances must not re-fire.
	clk.Advance(10 * time.Second)
	if fired.Load() != 1 {
		t.Fatalf("AfterFunc re-fired: %d times", fired.Load())
	}
}

func TestFakeAfterFuncZeroRunsSynchronously(t *testing.T) {
	clk := Fake(epoch)
	ran := false
	clk.AfterFunc(0, func() { ran = true })
	if !ran {
		t.Fatal("AfterFunc(0) should run before returning")
	}
}

func TestFakeAfterFuncStop(t *testing.T) {
	clk := Fake(epoch)
	var fired atomic.Int32
	timer := clk.AfterFunc(time.Second, func() { fired.Add(1) })

	if !timer.Stop() {
		t.Fatal("Stop on an armed timer should return true")
	}
	if timer.Stop() {
		t.Fatal("second Stop should return false")
	}
	clk.Advance(5 * time.Second)
	if fired.Load() != 0 {
		t.Fatal("stopped timer fired")
	}
}

func TestFakeAfterFuncResetAfterFire(t *testing.T) {
	clk := Fake(epoch)
	var fired atomic.Int32
	timer := clk.AfterFunc(time.Second, func() { fired.Add(1) })

	clk.Advance(time.Second)
	if fired.Load() != 1 {
		t.Fatal("timer did not fire")
	}

	// Reset after firing re-arms the timer.
	if timer.Reset(time.Second) {
		t.Fatal("Reset after fire should report inactive")
	}
	clk.Advance(time.Second)
	if fired.Load() != 2 {
		t.Fatalf("reset timer fired %d times total, want 2", fired.Load())
	}
}

func TestFakeTickerRepeats(t *testing.T) {
	clk := Fake(epoch)
	ticker := clk.NewTicker(time.Second)
	defer ticker.Stop()

	for i := 0; i < 3; i++ {
		clk.Advance(time.Second)
		select {
		case <-ticker.C:
		default:
			t.Fatalf("tick %d not delivered", i)
		}
	}

	ticker.Stop()
	clk.Advance(5 * time.Second)
	select {
	case <-ticker.C:
		t.Fatal("stopped ticker delivered a tick")
	default:
	}
}

func TestFakeAdvanceFiresInDeadlineOrder(t *testing.T) {
	clk := Fake(epoch)
	var order []int
	clk.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	clk.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	clk.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	clk.Advance(3 * time.Second)
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("callbacks fired in order %v, want [1 2 3]", order)
	}
}

func TestFakeWaitForTimers(t *testing.T) {
	clk := Fake(epoch)
	released := make(chan struct{})
	go func() {
		clk.WaitForTimers(1)
		close(released)
	}()

	select {
	case <-released:
		t.Fatal("WaitForTimers returned with no timer armed")
	case <-time.After(10 * time.Millisecond):
	}

	clk.After(time.Second)
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("WaitForTimers did not observe the armed timer")
	}

	if got := clk.PendingCount(); got != 1 {
		t.Fatalf("PendingCount() = %d, want 1", got)
	}
}
