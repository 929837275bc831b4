// Copyright 2026 The Pulseroom Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates envelope payloads.
type Kind string

// Client→authority request kinds. Every request is acknowledged with
// a KindAck envelope echoing the request's correlation id.
const (
	KindJoin           Kind = "join"
	KindLeave          Kind = "leave"
	KindPushDraft      Kind = "push-draft"
	KindPublish        Kind = "publish"
	KindOverrideMaster Kind = "override-master"
	KindSetDelay       Kind = "set-delay"
)

// Authority→client kinds. KindAck is correlated; the rest are
// broadcasts fanned out to every connected member of a session.
const (
	KindAck              Kind = "ack"
	KindSnapshot         Kind = "snapshot"
	KindParticipantEvent Kind = "participant-event"
	KindMasterUpdated    Kind = "master-updated"
	KindAuthError        Kind = "auth-error"
)

// Envelope is the unit of exchange on the session connection. Payload
// holds the kind-specific message, encoded as JSON.
type Envelope struct {
	// Kind selects the payload type.
	Kind Kind `json:"kind"`

	// CorrelationID ties an Ack to the request it answers. Set on
	// requests and acks, empty on broadcasts.
	CorrelationID string `json:"correlation_id,omitempty"`

	// Payload is the kind-specific message body.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope builds an envelope with the given payload marshalled
// into place.
func NewEnvelope(kind Kind, correlationID string, payload any) (Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("wire: encoding %s payload: %w", kind, err)
		}
		raw = encoded
	}
	return Envelope{Kind: kind, CorrelationID: correlationID, Payload: raw}, nil
}

// DecodePayload unmarshals the envelope payload into v.
func (e Envelope) DecodePayload(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("wire: decoding %s payload: %w", e.Kind, err)
	}
	return nil
}

// JoinRequest asks the authority to add the caller to a session.
type JoinRequest struct {
	SessionID string `json:"session_id"`
}

// LeaveRequest removes the caller from a session. The ack carries no
// payload beyond success.
type LeaveRequest struct {
	SessionID string `json:"session_id"`
}

// PushDraftRequest creates or updates a draft channel. ChannelID empty
// means "create a new channel owned by the caller"; non-empty mutates
// the existing channel in place (authors only).
type PushDraftRequest struct {
	SessionID string        `json:"session_id"`
	ChannelID string        `json:"channel_id,omitempty"`
	Name      string        `json:"name,omitempty"`
	Code      string        `json:"code"`
	Status    ChannelStatus `json:"status"`
}

// PublishRequest transitions a channel's status, normally draft→live.
type PublishRequest struct {
	SessionID string        `json:"session_id"`
	ChannelID string        `json:"channel_id"`
	Status    ChannelStatus `json:"status"`
}

// OverrideMasterRequest replaces the master pattern wholesale.
// Owner-only.
type OverrideMasterRequest struct {
	SessionID  string `json:"session_id"`
	MasterCode string `json:"master_code"`
}

// SetDelayRequest changes the session-wide apply delay. Owner-only.
type SetDelayRequest struct {
	SessionID    string `json:"session_id"`
	ApplyDelayMs int    `json:"apply_delay_ms"`
}

// Ack acknowledges a request. Success false carries the authority's
// rejection reason in Error, verbatim and suitable for display, with
// an optional machine-readable ErrorCode. Join acks additionally
// carry a full Snapshot so new and rejoining members never replay
// history.
type Ack struct {
	Success   bool     `json:"success"`
	Error     string   `json:"error,omitempty"`
	ErrorCode Code     `json:"error_code,omitempty"`
	Snapshot  *Session `json:"snapshot,omitempty"`
}

// ParticipantAction is the verb of a participant broadcast.
type ParticipantAction string

const (
	ParticipantJoined ParticipantAction = "joined"
	ParticipantLeft   ParticipantAction = "left"
)

// ParticipantEvent announces a membership change.
type ParticipantEvent struct {
	SessionID string            `json:"session_id"`
	UserID    string            `json:"user_id"`
	Action    ParticipantAction `json:"action"`
}

// MasterUpdated announces a new master pattern value. Receivers treat
// MasterCode as opaque; Version supersedes lower versions.
type MasterUpdated struct {
	SessionID  string `json:"session_id"`
	MasterCode string `json:"master_code"`
	Version    int64  `json:"version"`
}

// AuthError is pushed by the authority when a connection loses its
// standing (bad credentials, revoked membership). It is not tied to
// any pending request.
type AuthError struct {
	Error string `json:"error"`
}
