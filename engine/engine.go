// Copyright 2026 The Pulseroom Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulseroom/pulseroom/lib/clock"
	"github.com/pulseroom/pulseroom/transport"
	"github.com/pulseroom/pulseroom/wire"
)

// DefaultRequestTimeout bounds every acknowledged request. A request
// that is not acknowledged within this window fails with a Timeout
// error and its correlation slot is released; a late ack is dropped.
const DefaultRequestTimeout = 8 * time.Second

// ConnState is the engine's view of transport connectivity.
type ConnState int

const (
	// StateDisconnected: no usable connection. The mirror and the
	// current-session pointer are retained for resynchronization.
	StateDisconnected ConnState = iota

	// StateConnecting: the transport is dialing or redialing.
	StateConnecting

	// StateConnected: requests can be sent.
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// Config holds the parameters for constructing an Engine. Transport
// is required; everything else has defaults.
type Config struct {
	// Transport is the connection to the session authority. The
	// engine takes ownership and closes it on Close.
	Transport transport.Transport

	// Clock drives coalescing, apply delays, and request timeouts.
	// If nil, the real clock is used.
	Clock clock.Clock

	// Logger receives engine lifecycle messages. If nil,
	// slog.Default() is used.
	Logger *slog.Logger

	// RequestTimeout bounds acknowledged requests. Zero means
	// DefaultRequestTimeout.
	RequestTimeout time.Duration

	// QuietWindow is the coalescer's quiet window. Zero means
	// DefaultQuietWindow; negative disables coalescing.
	QuietWindow time.Duration
}

// ChannelDraft is the payload of PushChannelDraft. ChannelID empty
// creates a new channel; non-empty updates an existing one the caller
// authored.
type ChannelDraft struct {
	ChannelID string
	Name      string
	Code      string
	Status    wire.ChannelStatus
}

// Engine is the client-side session synchronization engine. It owns
// the current session identity, orchestrates join/leave/rejoin, feeds
// master updates through the coalescer and the apply-delay scheduler,
// and exposes the authoritative snapshot and live event stream.
//
// An Engine is safe for concurrent use. Multiple independent Engines
// (each with its own Transport) can coexist in one process, which is
// how multi-participant scenarios are simulated in tests.
type Engine struct {
	tr             transport.Transport
	clk            clock.Clock
	logger         *slog.Logger
	requestTimeout time.Duration

	bus       *bus
	coalescer *coalescer
	scheduler *applyScheduler

	mu        sync.Mutex
	connState ConnState
	current   string // "" = no current session
	mirror    *wire.Session
	pending   map[string]chan wire.Ack
	closed    bool

	done chan struct{}
}

// New constructs an Engine and starts consuming transport events.
// The caller must Close the engine when done.
func New(config Config) (*Engine, error) {
	if config.Transport == nil {
		return nil, fmt.Errorf("engine: Transport is required")
	}

	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	requestTimeout := config.RequestTimeout
	if requestTimeout == 0 {
		requestTimeout = DefaultRequestTimeout
	}
	quietWindow := config.QuietWindow
	if quietWindow == 0 {
		quietWindow = DefaultQuietWindow
	}

	e := &Engine{
		tr:             config.Transport,
		clk:            clk,
		logger:         logger,
		requestTimeout: requestTimeout,
		bus:            newBus(logger),
		pending:        make(map[string]chan wire.Ack),
		done:           make(chan struct{}),
	}
	e.scheduler = newApplyScheduler(clk, func(update wire.MasterUpdated) {
		e.bus.publish(EventMasterUpdated{Update: update})
	})
	e.coalescer = newCoalescer(clk, quietWindow, e.scheduleApply)

	go e.run()
	return e, nil
}

// Close shuts the engine down: the transport is closed, pending
// timers are cancelled, and the event loop drains. In-flight requests
// fail with a transport error. Idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	err := e.tr.Close()
	<-e.done
	e.coalescer.Stop()
	e.scheduler.Stop()
	return err
}

// Subscribe registers handler on the engine's event bus and returns a
// cancel function that removes exactly this registration. Handlers
// run in registration order; a panicking handler is recovered and
// logged without blocking the others.
func (e *Engine) Subscribe(handler func(Event)) (cancel func()) {
	return e.bus.subscribe(handler)
}

// CurrentSession returns the current session id, if one is set. The
// pointer changes at exactly two points: a successful Join sets it,
// and a Leave of the matching session clears it.
func (e *Engine) CurrentSession() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current, e.current != ""
}

// Mirror returns a copy of the last-received session snapshot, if
// any. The mirror is replaced wholesale on every snapshot delivery
// and never patched from partial broadcasts.
func (e *Engine) Mirror() (wire.Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mirror == nil {
		return wire.Session{}, false
	}
	return *e.mirror, true
}

// ConnState returns the engine's current view of connectivity.
func (e *Engine) ConnState() ConnState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connState
}

// Join joins the given session. On success the mirror is replaced
// with the returned snapshot, the session becomes current, and an
// EventSnapshot is published. Joining while another session is
// current does not leave the prior session — callers leave
// explicitly.
func (e *Engine) Join(ctx context.Context, sessionID string) (*wire.Session, error) {
	if sessionID == "" {
		return nil, wire.NewError(wire.CodeInvalidArgument, "session id is required")
	}

	ack, err := e.call(ctx, wire.KindJoin, wire.JoinRequest{SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	if ack.Snapshot == nil {
		return nil, wire.NewError(wire.CodeRequestRejected, "join ack carried no snapshot")
	}

	snapshot := *ack.Snapshot
	e.mu.Lock()
	e.mirror = &snapshot
	e.current = sessionID
	e.mu.Unlock()

	e.logger.Info("joined session", "session_id", sessionID, "participants", len(snapshot.Participants))
	e.bus.publish(EventSnapshot{Session: snapshot})
	result := snapshot
	return &result, nil
}

// Leave leaves the given session, or the current one if sessionID is
// empty. With no current session and no explicit id this resolves
// immediately without sending anything. The current-session pointer
// is cleared only when the left session matches it.
func (e *Engine) Leave(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	target := sessionID
	if target == "" {
		target = e.current
	}
	e.mu.Unlock()

	if target == "" {
		return nil
	}

	if _, err := e.call(ctx, wire.KindLeave, wire.LeaveRequest{SessionID: target}); err != nil {
		return err
	}

	e.mu.Lock()
	if e.current == target {
		e.current = ""
	}
	e.mu.Unlock()

	e.logger.Info("left session", "session_id", target)
	return nil
}

// PushChannelDraft creates or updates a draft channel in the current
// session. Fails with NoActiveSession (and sends nothing) when no
// session is current.
func (e *Engine) PushChannelDraft(ctx context.Context, draft ChannelDraft) error {
	sessionID, err := e.requireCurrent()
	if err != nil {
		return err
	}

	status := draft.Status
	if status == "" {
		status = wire.StatusDraft
	}
	_, err = e.call(ctx, wire.KindPushDraft, wire.PushDraftRequest{
		SessionID: sessionID,
		ChannelID: draft.ChannelID,
		Name:      draft.Name,
		Code:      draft.Code,
		Status:    status,
	})
	return err
}

// PublishChannel transitions a channel's status, normally draft to
// live. Requires both a current session and a channel id.
func (e *Engine) PublishChannel(ctx context.Context, channelID string, status wire.ChannelStatus) error {
	if channelID == "" {
		return wire.NewError(wire.CodeInvalidArgument, "channel id is required")
	}
	sessionID, err := e.requireCurrent()
	if err != nil {
		return err
	}

	if status == "" {
		status = wire.StatusLive
	}
	_, err = e.call(ctx, wire.KindPublish, wire.PublishRequest{
		SessionID: sessionID,
		ChannelID: channelID,
		Status:    status,
	})
	return err
}

// OverrideMaster replaces the master pattern wholesale. The authority
// enforces that only the session owner may do this.
func (e *Engine) OverrideMaster(ctx context.Context, masterCode string) error {
	sessionID, err := e.requireCurrent()
	if err != nil {
		return err
	}
	_, err = e.call(ctx, wire.KindOverrideMaster, wire.OverrideMasterRequest{
		SessionID:  sessionID,
		MasterCode: masterCode,
	})
	return err
}

// SetApplyDelay changes the session-wide apply delay. The delay must
// be non-negative; the check happens before any network call.
func (e *Engine) SetApplyDelay(ctx context.Context, delayMs int) error {
	if delayMs < 0 {
		return wire.NewError(wire.CodeInvalidArgument, "apply delay must be non-negative, got %d", delayMs)
	}
	sessionID, err := e.requireCurrent()
	if err != nil {
		return err
	}
	_, err = e.call(ctx, wire.KindSetDelay, wire.SetDelayRequest{
		SessionID:    sessionID,
		ApplyDelayMs: delayMs,
	})
	return err
}

// requireCurrent returns the current session id or a NoActiveSession
// error.
func (e *Engine) requireCurrent() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == "" {
		return "", wire.NewError(wire.CodeNoActiveSession, "no active session")
	}
	return e.current, nil
}

// call sends an acknowledged request and blocks until the matching
// ack, the request timeout, or ctx cancellation. The correlation slot
// is released on every path, so a late ack is dropped rather than
// delivered to a finished call. Concurrent calls of any kind are
// tracked independently.
func (e *Engine) call(ctx context.Context, kind wire.Kind, payload any) (wire.Ack, error) {
	correlationID := uuid.NewString()
	envelope, err := wire.NewEnvelope(kind, correlationID, payload)
	if err != nil {
		return wire.Ack{}, err
	}

	ackCh := make(chan wire.Ack, 1)
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return wire.Ack{}, wire.NewError(wire.CodeTransportError, "engine is closed")
	}
	e.pending[correlationID] = ackCh
	e.mu.Unlock()

	release := func() {
		e.mu.Lock()
		delete(e.pending, correlationID)
		e.mu.Unlock()
	}

	if err := e.tr.Send(ctx, envelope); err != nil {
		release()
		if wire.IsCode(err, wire.CodeTransportError) {
			return wire.Ack{}, err
		}
		return wire.Ack{}, wire.NewError(wire.CodeTransportError, "send %s: %v", kind, err)
	}

	select {
	case ack := <-ackCh:
		release()
		if !ack.Success {
			return wire.Ack{}, ackError(ack)
		}
		return ack, nil
	case <-e.clk.After(e.requestTimeout):
		release()
		return wire.Ack{}, wire.NewError(wire.CodeTimeout, "%s request timed out after %s", kind, e.requestTimeout)
	case <-ctx.Done():
		release()
		return wire.Ack{}, fmt.Errorf("engine: %s request: %w", kind, ctx.Err())
	}
}

// ackError converts a negative ack into a classified error. The
// authority's reason string is preserved verbatim for display.
func ackError(ack wire.Ack) error {
	code := ack.ErrorCode
	if code == "" {
		code = wire.CodeRequestRejected
	}
	message := ack.Error
	if message == "" {
		message = "request rejected"
	}
	return &wire.Error{Code: code, Message: message}
}

// run consumes transport events until the transport closes.
func (e *Engine) run() {
	defer close(e.done)

	for event := range e.tr.Events() {
		switch ev := event.(type) {
		case transport.Connected:
			e.handleConnected()
		case transport.Disconnected:
			e.setConnState(StateDisconnected)
			e.bus.publish(EventDisconnected{Err: ev.Err})
		case transport.ConnectError:
			e.setConnState(StateConnecting)
			e.bus.publish(EventTransportError{Err: ev.Err})
		case transport.Received:
			e.route(ev.Envelope)
		}
	}
}

// handleConnected marks the connection usable and, when a session is
// remembered as current, re-issues the join before publishing
// EventConnected — subscribers never need their own reconnect logic.
// A failed rejoin surfaces as EventError rather than a panic, since
// it happens outside any caller's invocation.
func (e *Engine) handleConnected() {
	e.setConnState(StateConnected)

	e.mu.Lock()
	current := e.current
	e.mu.Unlock()

	if current == "" {
		e.bus.publish(EventConnected{})
		return
	}

	// The rejoin must not block the event loop: its ack arrives
	// through the same loop.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.requestTimeout)
		defer cancel()
		if _, err := e.Join(ctx, current); err != nil {
			e.logger.Warn("automatic rejoin failed", "session_id", current, "error", err)
			e.bus.publish(EventError{Err: fmt.Errorf("rejoin %s: %w", current, err)})
		}
		e.bus.publish(EventConnected{})
	}()
}

// route dispatches one received envelope: correlated acks resolve
// their pending call, broadcasts update the mirror (snapshots only)
// and feed the bus.
func (e *Engine) route(envelope wire.Envelope) {
	switch envelope.Kind {
	case wire.KindAck:
		e.routeAck(envelope)

	case wire.KindSnapshot:
		var snapshot wire.Session
		if err := envelope.DecodePayload(&snapshot); err != nil {
			e.logger.Warn("discarding malformed snapshot broadcast", "error", err)
			return
		}
		e.mu.Lock()
		e.mirror = &snapshot
		e.mu.Unlock()
		e.bus.publish(EventSnapshot{Session: snapshot})

	case wire.KindParticipantEvent:
		var change wire.ParticipantEvent
		if err := envelope.DecodePayload(&change); err != nil {
			e.logger.Warn("discarding malformed participant broadcast", "error", err)
			return
		}
		e.bus.publish(EventParticipant{Change: change})

	case wire.KindMasterUpdated:
		var update wire.MasterUpdated
		if err := envelope.DecodePayload(&update); err != nil {
			e.logger.Warn("discarding malformed master broadcast", "error", err)
			return
		}
		e.coalescer.Offer(update)

	case wire.KindAuthError:
		var authErr wire.AuthError
		if err := envelope.DecodePayload(&authErr); err != nil {
			e.logger.Warn("discarding malformed auth-error broadcast", "error", err)
			return
		}
		e.bus.publish(EventAuthError{Message: authErr.Error})

	default:
		e.logger.Debug("ignoring envelope of unknown kind", "kind", envelope.Kind)
	}
}

func (e *Engine) routeAck(envelope wire.Envelope) {
	if envelope.CorrelationID == "" {
		e.logger.Warn("discarding ack without correlation id")
		return
	}
	var ack wire.Ack
	if err := envelope.DecodePayload(&ack); err != nil {
		e.logger.Warn("discarding malformed ack", "correlation_id", envelope.CorrelationID, "error", err)
		return
	}

	e.mu.Lock()
	ackCh, ok := e.pending[envelope.CorrelationID]
	if ok {
		delete(e.pending, envelope.CorrelationID)
	}
	e.mu.Unlock()

	if !ok {
		// The call timed out or was cancelled; its slot is gone.
		e.logger.Debug("dropping late ack", "correlation_id", envelope.CorrelationID)
		return
	}
	ackCh <- ack
}

// scheduleApply is the coalescer's delivery target: it defers the
// single coalesced update by the session's configured apply delay.
func (e *Engine) scheduleApply(update wire.MasterUpdated) {
	e.mu.Lock()
	delayMs := 0
	if e.mirror != nil {
		delayMs = e.mirror.ApplyDelayMs
	}
	e.mu.Unlock()

	e.scheduler.Schedule(update, time.Duration(delayMs)*time.Millisecond)
}

func (e *Engine) setConnState(state ConnState) {
	e.mu.Lock()
	e.connState = state
	e.mu.Unlock()
}
