// Copyright 2026 The Pulseroom Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/pulseroom/pulseroom/wire"
)

// WebSocketConfig holds the parameters for dialing an authority over a
// websocket. URL is required.
type WebSocketConfig struct {
	// URL is the authority's websocket endpoint
	// (e.g., "ws://localhost:7350/v1/connect").
	URL string

	// Header is sent with the upgrade request. Carries the caller's
	// identity (X-Pulseroom-User in the reference authority).
	Header http.Header

	// Logger receives connection lifecycle messages. If nil,
	// slog.Default() is used.
	Logger *slog.Logger

	// MaxReconnectInterval caps the backoff between reconnection
	// attempts. Zero means 30 seconds.
	MaxReconnectInterval time.Duration

	// EventBuffer is the capacity of the Events channel. Zero means
	// 64. The reader goroutine blocks once the buffer fills, so a
	// consumer that stops draining eventually stalls the connection
	// rather than losing events.
	EventBuffer int
}

// WebSocket is the production Transport. It dials the authority,
// pumps received envelopes into Events, and redials with exponential
// backoff whenever the connection drops.
type WebSocket struct {
	config WebSocketConfig
	logger *slog.Logger

	events chan Event

	mu     sync.Mutex
	conn   *websocket.Conn // nil while disconnected
	closed bool

	cancel context.CancelFunc
	done   chan struct{}
}

var _ Transport = (*WebSocket)(nil)

// DialWebSocket starts a websocket transport. It returns immediately;
// the first Connected (or ConnectError) event reports the outcome of
// the initial dial. The caller must Close the transport when done.
func DialWebSocket(config WebSocketConfig) (*WebSocket, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("transport: URL is required")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	buffer := config.EventBuffer
	if buffer <= 0 {
		buffer = 64
	}

	runCtx, cancel := context.WithCancel(context.Background())
	t := &WebSocket{
		config: config,
		logger: logger,
		events: make(chan Event, buffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go t.run(runCtx)
	return t, nil
}

// Send transmits one envelope as a websocket text message. Fails with
// a TransportError if the connection is down; the engine retries at
// its own discretion after the next Connected event.
func (t *WebSocket) Send(ctx context.Context, envelope wire.Envelope) error {
	encoded, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("transport: encoding envelope: %w", err)
	}

	// gorilla/websocket allows at most one concurrent writer; the
	// mutex also guards conn against the reconnect loop swapping it.
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return wire.NewError(wire.CodeTransportError, "not connected")
	}
	if deadline, ok := ctx.Deadline(); ok {
		t.conn.SetWriteDeadline(deadline)
	} else {
		t.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, encoded); err != nil {
		return wire.NewError(wire.CodeTransportError, "write failed: %v", err)
	}
	return nil
}

// Events returns the transport event stream. Closed by Close after
// the reconnect loop exits.
func (t *WebSocket) Events() <-chan Event {
	return t.events
}

// Close stops the reconnect loop, drops the current connection, and
// closes the Events channel. Idempotent.
func (t *WebSocket) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	t.cancel()
	if conn != nil {
		conn.Close()
	}
	<-t.done
	close(t.events)
	return nil
}

// run is the connection lifecycle loop: dial with backoff, pump reads
// until the connection drops, repeat until closed.
func (t *WebSocket) run(ctx context.Context) {
	defer close(t.done)

	for {
		conn, err := t.dial(ctx)
		if err != nil {
			// Only a cancelled context ends the dial loop.
			return
		}

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			conn.Close()
			return
		}
		t.conn = conn
		t.mu.Unlock()

		t.emit(ctx, Connected{})
		readErr := t.readPump(ctx, conn)

		t.mu.Lock()
		t.conn = nil
		closed := t.closed
		t.mu.Unlock()
		conn.Close()

		if closed || ctx.Err() != nil {
			return
		}
		t.logger.Info("authority connection lost", "error", readErr)
		t.emit(ctx, Disconnected{Err: readErr})
	}
}

// dial attempts to connect until it succeeds or ctx is cancelled.
// Each failed attempt emits a ConnectError event and backs off
// exponentially.
func (t *WebSocket) dial(ctx context.Context) (*websocket.Conn, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxInterval = t.config.MaxReconnectInterval
	if policy.MaxInterval == 0 {
		policy.MaxInterval = 30 * time.Second
	}
	policy.MaxElapsedTime = 0 // retry until closed

	var conn *websocket.Conn
	operation := func() error {
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		c, _, err := websocket.DefaultDialer.DialContext(dialCtx, t.config.URL, t.config.Header)
		if err != nil {
			t.logger.Debug("authority dial failed", "url", t.config.URL, "error", err)
			t.emit(ctx, ConnectError{Err: err})
			return err
		}
		conn = c
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	return conn, nil
}

// readPump decodes envelopes off the connection until it fails.
func (t *WebSocket) readPump(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var envelope wire.Envelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			t.logger.Warn("discarding malformed envelope", "error", err)
			continue
		}
		t.emit(ctx, Received{Envelope: envelope})
	}
}

// emit delivers an event unless the transport is shutting down.
func (t *WebSocket) emit(ctx context.Context, event Event) {
	select {
	case t.events <- event:
	case <-ctx.Done():
	}
}
