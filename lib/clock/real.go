// Copyright 2026 The Pulseroom Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	inner := time.AfterFunc(d, f)
	return &Timer{
		stopFunc:  inner.Stop,
		resetFunc: inner.Reset,
	}
}

func (realClock) NewTicker(d time.Duration) *Ticker {
	inner := time.NewTicker(d)
	return &Ticker{
		C:        inner.C,
		stopFunc: inner.Stop,
	}
}
