// Copyright 2026 The Pulseroom Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/json"
	"testing"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	envelope, err := NewEnvelope(KindJoin, "corr-1", JoinRequest{SessionID: "s1"})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if envelope.Kind != KindJoin || envelope.CorrelationID != "corr-1" {
		t.Fatalf("envelope = %+v", envelope)
	}

	var join JoinRequest
	if err := envelope.DecodePayload(&join); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if join.SessionID != "s1" {
		t.Fatalf("decoded session id %q", join.SessionID)
	}
}

func TestEnvelopeNilPayload(t *testing.T) {
	envelope, err := NewEnvelope(KindLeave, "corr-2", nil)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if envelope.Payload != nil {
		t.Fatalf("nil payload encoded as %s", envelope.Payload)
	}
}

func TestDecodePayloadRejectsMalformedBody(t *testing.T) {
	envelope := Envelope{Kind: KindAck, Payload: json.RawMessage(`{"success":`)}
	var ack Ack
	if err := envelope.DecodePayload(&ack); err == nil {
		t.Fatal("DecodePayload accepted truncated JSON")
	}
}

func TestSessionLookupHelpers(t *testing.T) {
	session := Session{
		Participants: []Participant{
			{UserID: "alice", Role: RoleOwner},
			{UserID: "bob", Role: RoleMember},
		},
		Channels: []Channel{
			{ID: "ch1", AuthorID: "alice", Status: StatusLive},
		},
	}

	participant, ok := session.FindParticipant("bob")
	if !ok || participant.Role != RoleMember {
		t.Fatalf("FindParticipant(bob) = %+v, %v", participant, ok)
	}
	if _, ok := session.FindParticipant("carol"); ok {
		t.Fatal("FindParticipant matched an absent user")
	}

	channel, ok := session.FindChannel("ch1")
	if !ok || channel.AuthorID != "alice" {
		t.Fatalf("FindChannel(ch1) = %+v, %v", channel, ok)
	}
	if _, ok := session.FindChannel("ch2"); ok {
		t.Fatal("FindChannel matched an absent channel")
	}
}
