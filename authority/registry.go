// Copyright 2026 The Pulseroom Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"context"
	"encoding/base32"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/pulseroom/pulseroom/lib/clock"
	"github.com/pulseroom/pulseroom/wire"
)

// memberSendBuffer is the per-member broadcast queue depth. A member
// whose queue stays full is dropped rather than allowed to stall the
// whole session's fan-out.
const memberSendBuffer = 64

// Authority holds the canonical state of every live session and is
// the only place that mutates it. Mutations on one session are
// serialized by that session's mutex (receipt order is the total
// order); operations on different sessions proceed in parallel.
type Authority struct {
	logger  *slog.Logger
	clk     clock.Clock
	store   *Store   // nil disables persistence
	sampler *Sampler // nil disables CPU samples

	defaultApplyDelayMs int

	mu       sync.Mutex
	sessions map[string]*liveSession // by session id
	slugs    map[string]string       // join slug → session id
}

// liveSession is one session's canonical state plus its connected
// members. state and members are guarded by mu.
type liveSession struct {
	mu      sync.Mutex
	state   wire.Session
	members map[*Member]struct{}
}

// Member is one connected client of one or more sessions. Broadcasts
// are queued on Send; the connection's write loop drains it.
type Member struct {
	// UserID is the authenticated identity behind the connection.
	UserID string

	// Send receives broadcast envelopes. Closed by the authority when
	// the member is dropped for falling behind; the server also
	// closes the underlying socket then.
	Send chan wire.Envelope

	closeOnce sync.Once
}

// NewMember creates a member handle for a connection.
func NewMember(userID string) *Member {
	return &Member{
		UserID: userID,
		Send:   make(chan wire.Envelope, memberSendBuffer),
	}
}

func (m *Member) close() {
	m.closeOnce.Do(func() { close(m.Send) })
}

// AuthorityConfig holds the parameters for constructing an Authority.
type AuthorityConfig struct {
	// Logger receives operational messages. If nil, slog.Default().
	Logger *slog.Logger

	// Clock supplies timestamps. If nil, the real clock.
	Clock clock.Clock

	// Store persists sessions across restarts. Nil disables
	// persistence.
	Store *Store

	// Sampler supplies the CPU sample window included in snapshots.
	// Nil disables samples.
	Sampler *Sampler

	// DefaultApplyDelayMs is assigned to newly created sessions.
	DefaultApplyDelayMs int
}

// NewAuthority constructs an Authority. When a store is configured,
// previously persisted sessions are loaded immediately.
func NewAuthority(ctx context.Context, config AuthorityConfig) (*Authority, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}

	a := &Authority{
		logger:              logger,
		clk:                 clk,
		store:               config.Store,
		sampler:             config.Sampler,
		defaultApplyDelayMs: config.DefaultApplyDelayMs,
		sessions:            make(map[string]*liveSession),
		slugs:               make(map[string]string),
	}

	if a.store != nil {
		restored, err := a.store.LoadSessions(ctx)
		if err != nil {
			return nil, err
		}
		for _, state := range restored {
			// Participants are connection-scoped; nobody is joined to
			// a freshly restored session.
			state.Participants = nil
			a.sessions[state.ID] = &liveSession{
				state:   state,
				members: make(map[*Member]struct{}),
			}
			a.slugs[state.Slug] = state.ID
		}
		if len(restored) > 0 {
			logger.Info("restored persisted sessions", "count", len(restored))
		}
	}

	return a, nil
}

// CreateSession registers a new session with a fresh id and join
// slug. Created over the HTTP collaborator API, not the realtime
// connection; the first participant to join becomes the owner.
func (a *Authority) CreateSession(ctx context.Context, title string) (wire.Session, error) {
	if title == "" {
		return wire.Session{}, wire.NewError(wire.CodeInvalidArgument, "session title is required")
	}

	id := uuid.NewString()
	now := a.clk.Now().UTC()
	state := wire.Session{
		ID:           id,
		Title:        title,
		Slug:         newSlug(),
		ApplyDelayMs: a.defaultApplyDelayMs,
		Master:       wire.MasterArtifact{Version: 0, UpdatedAt: now},
	}

	a.mu.Lock()
	a.sessions[id] = &liveSession{
		state:   state,
		members: make(map[*Member]struct{}),
	}
	a.slugs[state.Slug] = id
	a.mu.Unlock()

	if err := a.persist(ctx, &state); err != nil {
		return wire.Session{}, err
	}

	a.logger.Info("session created", "session_id", id, "slug", state.Slug, "title", title)
	return state, nil
}

// Join adds the member's user to the session's participant set (or
// refreshes the existing entry — a user appears at most once) and
// registers the connection for broadcasts. Returns a full snapshot.
// sessionID may be the id or the join slug.
func (a *Authority) Join(ctx context.Context, sessionID string, member *Member) (wire.Session, error) {
	if member.UserID == "" {
		return wire.Session{}, wire.NewError(wire.CodeUnauthorized, "not authenticated")
	}

	session, err := a.lookup(sessionID)
	if err != nil {
		return wire.Session{}, err
	}

	session.mu.Lock()
	now := a.clk.Now().UTC()
	updated := false
	for i := range session.state.Participants {
		if session.state.Participants[i].UserID == member.UserID {
			session.state.Participants[i].JoinedAt = now
			updated = true
			break
		}
	}
	if !updated {
		role := wire.RoleMember
		if len(session.state.Participants) == 0 {
			role = wire.RoleOwner
		}
		session.state.Participants = append(session.state.Participants, wire.Participant{
			UserID:   member.UserID,
			Role:     role,
			JoinedAt: now,
		})
	}
	session.members[member] = struct{}{}
	snapshot := a.snapshotLocked(session)
	a.broadcastLocked(session, mustEnvelope(wire.KindParticipantEvent, wire.ParticipantEvent{
		SessionID: session.state.ID,
		UserID:    member.UserID,
		Action:    wire.ParticipantJoined,
	}))
	session.mu.Unlock()

	if err := a.persist(ctx, &snapshot); err != nil {
		return wire.Session{}, err
	}

	a.logger.Info("participant joined", "session_id", snapshot.ID, "user_id", member.UserID)
	return snapshot, nil
}

// Leave removes the member's user from the participant set and
// unregisters the connection.
func (a *Authority) Leave(ctx context.Context, sessionID string, member *Member) error {
	session, err := a.lookup(sessionID)
	if err != nil {
		return err
	}

	session.mu.Lock()
	delete(session.members, member)
	removed := false
	for i, p := range session.state.Participants {
		if p.UserID == member.UserID {
			session.state.Participants = append(session.state.Participants[:i], session.state.Participants[i+1:]...)
			removed = true
			break
		}
	}
	var snapshot wire.Session
	if removed {
		snapshot = a.snapshotLocked(session)
		a.broadcastLocked(session, mustEnvelope(wire.KindParticipantEvent, wire.ParticipantEvent{
			SessionID: session.state.ID,
			UserID:    member.UserID,
			Action:    wire.ParticipantLeft,
		}))
	}
	session.mu.Unlock()

	if removed {
		if err := a.persist(ctx, &snapshot); err != nil {
			return err
		}
		a.logger.Info("participant left", "session_id", snapshot.ID, "user_id", member.UserID)
	}
	return nil
}

// Disconnect unregisters a dropped connection from every session it
// was attached to. The participant entry is retained — removal on
// disconnect timeout is a policy decision left to deployments; the
// user can simply rejoin.
func (a *Authority) Disconnect(member *Member) {
	a.mu.Lock()
	sessions := make([]*liveSession, 0, len(a.sessions))
	for _, session := range a.sessions {
		sessions = append(sessions, session)
	}
	a.mu.Unlock()

	for _, session := range sessions {
		session.mu.Lock()
		delete(session.members, member)
		session.mu.Unlock()
	}
	member.close()
}

// PushDraft creates a channel (empty ChannelID) or updates one the
// caller authored. Every accepted push broadcasts a fresh snapshot.
func (a *Authority) PushDraft(ctx context.Context, request wire.PushDraftRequest, userID string) error {
	session, err := a.lookup(request.SessionID)
	if err != nil {
		return err
	}

	session.mu.Lock()
	if err := requireParticipantLocked(session, userID); err != nil {
		session.mu.Unlock()
		return err
	}

	now := a.clk.Now().UTC()
	status := request.Status
	if status == "" {
		status = wire.StatusDraft
	}
	if status != wire.StatusDraft && status != wire.StatusLive {
		session.mu.Unlock()
		return wire.NewError(wire.CodeRequestRejected, "unknown channel status %q", request.Status)
	}

	if request.ChannelID == "" {
		session.state.Channels = append(session.state.Channels, wire.Channel{
			ID:        uuid.NewString(),
			Name:      request.Name,
			AuthorID:  userID,
			Code:      request.Code,
			Status:    status,
			UpdatedAt: now,
		})
	} else {
		found := false
		for i := range session.state.Channels {
			channel := &session.state.Channels[i]
			if channel.ID != request.ChannelID {
				continue
			}
			if channel.AuthorID != userID {
				session.mu.Unlock()
				return wire.NewError(wire.CodeRequestRejected, "channel %s belongs to another participant", request.ChannelID)
			}
			channel.Code = request.Code
			if request.Name != "" {
				channel.Name = request.Name
			}
			channel.Status = status
			channel.UpdatedAt = now
			found = true
			break
		}
		if !found {
			session.mu.Unlock()
			return wire.NewError(wire.CodeNotFound, "unknown channel %q", request.ChannelID)
		}
	}

	snapshot := a.snapshotLocked(session)
	a.broadcastLocked(session, mustEnvelope(wire.KindSnapshot, snapshot))
	session.mu.Unlock()

	return a.persist(ctx, &snapshot)
}

// Publish transitions a channel's status. A transition to live
// recomposes the master pattern from all live channels in channel
// order and broadcasts the update; every publish also broadcasts a
// fresh snapshot.
func (a *Authority) Publish(ctx context.Context, request wire.PublishRequest, userID string) error {
	if request.ChannelID == "" {
		return wire.NewError(wire.CodeInvalidArgument, "channel id is required")
	}
	session, err := a.lookup(request.SessionID)
	if err != nil {
		return err
	}

	session.mu.Lock()
	if err := requireParticipantLocked(session, userID); err != nil {
		session.mu.Unlock()
		return err
	}

	status := request.Status
	if status == "" {
		status = wire.StatusLive
	}
	found := false
	for i := range session.state.Channels {
		channel := &session.state.Channels[i]
		if channel.ID != request.ChannelID {
			continue
		}
		if channel.AuthorID != userID {
			session.mu.Unlock()
			return wire.NewError(wire.CodeRequestRejected, "channel %s belongs to another participant", request.ChannelID)
		}
		channel.Status = status
		channel.UpdatedAt = a.clk.Now().UTC()
		found = true
		break
	}
	if !found {
		session.mu.Unlock()
		return wire.NewError(wire.CodeNotFound, "unknown channel %q", request.ChannelID)
	}

	a.recomposeMasterLocked(session)
	snapshot := a.snapshotLocked(session)
	a.broadcastLocked(session, mustEnvelope(wire.KindSnapshot, snapshot))
	a.broadcastLocked(session, mustEnvelope(wire.KindMasterUpdated, wire.MasterUpdated{
		SessionID:  session.state.ID,
		MasterCode: session.state.Master.Code,
		Version:    session.state.Master.Version,
	}))
	session.mu.Unlock()

	return a.persist(ctx, &snapshot)
}

// OverrideMaster replaces the master pattern wholesale. Owner only.
func (a *Authority) OverrideMaster(ctx context.Context, request wire.OverrideMasterRequest, userID string) error {
	session, err := a.lookup(request.SessionID)
	if err != nil {
		return err
	}

	session.mu.Lock()
	if err := requireOwnerLocked(session, userID); err != nil {
		session.mu.Unlock()
		return err
	}

	session.state.Master.Code = request.MasterCode
	session.state.Master.Version++
	session.state.Master.UpdatedAt = a.clk.Now().UTC()
	snapshot := a.snapshotLocked(session)
	a.broadcastLocked(session, mustEnvelope(wire.KindMasterUpdated, wire.MasterUpdated{
		SessionID:  session.state.ID,
		MasterCode: session.state.Master.Code,
		Version:    session.state.Master.Version,
	}))
	session.mu.Unlock()

	return a.persist(ctx, &snapshot)
}

// SetDelay changes the session-wide apply delay. Owner only; the new
// value reaches members through a snapshot broadcast.
func (a *Authority) SetDelay(ctx context.Context, request wire.SetDelayRequest, userID string) error {
	if request.ApplyDelayMs < 0 {
		return wire.NewError(wire.CodeInvalidArgument, "apply delay must be non-negative, got %d", request.ApplyDelayMs)
	}
	session, err := a.lookup(request.SessionID)
	if err != nil {
		return err
	}

	session.mu.Lock()
	if err := requireOwnerLocked(session, userID); err != nil {
		session.mu.Unlock()
		return err
	}
	session.state.ApplyDelayMs = request.ApplyDelayMs
	snapshot := a.snapshotLocked(session)
	a.broadcastLocked(session, mustEnvelope(wire.KindSnapshot, snapshot))
	session.mu.Unlock()

	return a.persist(ctx, &snapshot)
}

// Snapshot returns a copy of the session's current state, for the
// HTTP collaborator API. When refresh is set and a store is
// configured, the persisted row is consulted first so the caller sees
// state at least as current as the last applied realtime snapshot.
func (a *Authority) Snapshot(ctx context.Context, sessionID string, refresh bool) (wire.Session, error) {
	session, err := a.lookup(sessionID)
	if err != nil {
		return wire.Session{}, err
	}

	if refresh && a.store != nil {
		// Re-read the persisted row so external edits to the database
		// become visible without a restart. Participants are
		// connection-scoped and stay as they are.
		persisted, err := a.store.LoadSession(ctx, session.state.ID)
		if err != nil {
			return wire.Session{}, err
		}
		session.mu.Lock()
		session.state.Title = persisted.Title
		session.state.Slug = persisted.Slug
		session.state.Channels = persisted.Channels
		session.state.Master = persisted.Master
		session.state.ApplyDelayMs = persisted.ApplyDelayMs
		session.mu.Unlock()
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	return a.snapshotLocked(session), nil
}

// ApplyDelay returns the session's current apply delay in
// milliseconds.
func (a *Authority) ApplyDelay(sessionID string) (int, error) {
	session, err := a.lookup(sessionID)
	if err != nil {
		return 0, err
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.state.ApplyDelayMs, nil
}

// CPUWindow returns the authority's recent load sample window.
func (a *Authority) CPUWindow() []wire.CPUSample {
	if a.sampler == nil {
		return nil
	}
	return a.sampler.Window()
}

// lookup resolves a session by id or join slug.
func (a *Authority) lookup(sessionID string) (*liveSession, error) {
	if sessionID == "" {
		return nil, wire.NewError(wire.CodeInvalidArgument, "session id is required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if session, ok := a.sessions[sessionID]; ok {
		return session, nil
	}
	if id, ok := a.slugs[sessionID]; ok {
		return a.sessions[id], nil
	}
	return nil, wire.NewError(wire.CodeNotFound, "unknown session %q", sessionID)
}

// recomposeMasterLocked rebuilds the master pattern from live
// channels. The composition rule — concatenation in channel order —
// is deliberately simple; it is the authority's business, and the
// engine never interprets the result.
func (a *Authority) recomposeMasterLocked(session *liveSession) {
	var parts []string
	for _, channel := range session.state.Channels {
		if channel.Status == wire.StatusLive && channel.Code != "" {
			parts = append(parts, channel.Code)
		}
	}
	session.state.Master.Code = strings.Join(parts, "\n")
	session.state.Master.Version++
	session.state.Master.UpdatedAt = a.clk.Now().UTC()
}

// snapshotLocked deep-copies the session state and stamps in the
// current CPU sample window. Callers hold session.mu.
func (a *Authority) snapshotLocked(session *liveSession) wire.Session {
	snapshot := session.state
	snapshot.Participants = append([]wire.Participant(nil), session.state.Participants...)
	snapshot.Channels = append([]wire.Channel(nil), session.state.Channels...)
	snapshot.CPUSamples = a.CPUWindow()
	return snapshot
}

// broadcastLocked queues an envelope to every connected member,
// including the requester. A member whose queue is full is dropped:
// a stalled reader must not hold up the session. Callers hold
// session.mu.
func (a *Authority) broadcastLocked(session *liveSession, envelope wire.Envelope) {
	for member := range session.members {
		select {
		case member.Send <- envelope:
		default:
			delete(session.members, member)
			member.close()
			a.logger.Warn("dropping stalled member",
				"session_id", session.state.ID,
				"user_id", member.UserID,
			)
		}
	}
}

// persist writes the snapshot when a store is configured.
func (a *Authority) persist(ctx context.Context, snapshot *wire.Session) error {
	if a.store == nil {
		return nil
	}
	return a.store.SaveSession(ctx, *snapshot)
}

func requireParticipantLocked(session *liveSession, userID string) error {
	if userID == "" {
		return wire.NewError(wire.CodeUnauthorized, "not authenticated")
	}
	if _, ok := session.state.FindParticipant(userID); !ok {
		return wire.NewError(wire.CodeUnauthorized, "user %s is not a participant of session %s", userID, session.state.ID)
	}
	return nil
}

func requireOwnerLocked(session *liveSession, userID string) error {
	if err := requireParticipantLocked(session, userID); err != nil {
		return err
	}
	participant, _ := session.state.FindParticipant(userID)
	if participant.Role != wire.RoleOwner {
		return wire.NewError(wire.CodeUnauthorized, "user %s is not the session owner", userID)
	}
	return nil
}

// mustEnvelope wraps wire.NewEnvelope for payloads built from our own
// types, where a marshal failure is a programming error.
func mustEnvelope(kind wire.Kind, payload any) wire.Envelope {
	envelope, err := wire.NewEnvelope(kind, "", payload)
	if err != nil {
		panic("authority: " + err.Error())
	}
	return envelope
}

// newSlug derives a short, human-typable join code.
func newSlug() string {
	id := uuid.New()
	encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(id[:])
	return strings.ToLower(encoded[:6])
}
