// Copyright 2026 The Pulseroom Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import "time"

// Role is a participant's standing within a session.
type Role string

const (
	// RoleOwner is the session creator. Owner-only requests:
	// override-master and set-delay.
	RoleOwner Role = "owner"

	// RoleMember is every other joined participant.
	RoleMember Role = "member"
)

// ChannelStatus is the lifecycle state of a channel.
type ChannelStatus string

const (
	// StatusDraft is a private work-in-progress channel. Drafts do not
	// contribute to the master pattern.
	StatusDraft ChannelStatus = "draft"

	// StatusLive marks a published channel. The authority recomposes
	// the master pattern from live channels on every publish.
	StatusLive ChannelStatus = "live"
)

// Session is the authority's canonical record of one collaboration
// room. Clients hold a read-only mirror of the last snapshot they
// received; the mirror is replaced wholesale on every snapshot
// delivery, never patched from partial broadcasts.
type Session struct {
	// ID is the stable, authority-assigned session identifier.
	ID string `json:"id"`

	// Title is the human-readable session name.
	Title string `json:"title"`

	// Slug is the short join code handed out to participants.
	Slug string `json:"slug"`

	// Participants is the set of currently joined users. A user
	// appears at most once; rejoining updates the existing entry.
	Participants []Participant `json:"participants"`

	// Channels is the ordered set of draft and live channels. Order is
	// creation order and is the composition order for the master
	// pattern.
	Channels []Channel `json:"channels"`

	// Master is the current master pattern. The engine treats its
	// Code as opaque.
	Master MasterArtifact `json:"master"`

	// ApplyDelayMs is the session-wide delay, in milliseconds, between
	// an authority broadcast of a master update and its local
	// visibility. Non-negative.
	ApplyDelayMs int `json:"apply_delay_ms"`

	// CPUSamples is the authority's recent load-average window, newest
	// last. Purely observational.
	CPUSamples []CPUSample `json:"cpu_samples,omitempty"`
}

// Participant is one joined user.
type Participant struct {
	// UserID identifies the user. Unique within a session.
	UserID string `json:"user_id"`

	// Role is owner or member.
	Role Role `json:"role"`

	// JoinedAt is when the user most recently joined.
	JoinedAt time.Time `json:"joined_at"`
}

// Channel is a participant's named code submission.
type Channel struct {
	// ID is the authority-assigned channel identifier.
	ID string `json:"id"`

	// Name is an optional display name.
	Name string `json:"name,omitempty"`

	// AuthorID is the participant who created the channel. Only the
	// author may push further drafts to it.
	AuthorID string `json:"author_id"`

	// Code is the channel's pattern payload. Opaque to the engine.
	Code string `json:"code"`

	// Status is draft or live.
	Status ChannelStatus `json:"status"`

	// UpdatedAt is the time of the last push or publish.
	UpdatedAt time.Time `json:"updated_at"`
}

// MasterArtifact is the single authoritative shared payload composed
// from live channels. At most one value is current per session; the
// Version total-orders updates by authority receipt.
type MasterArtifact struct {
	// Code is the composed pattern. Opaque to the engine.
	Code string `json:"code"`

	// Version increments on every accepted master mutation.
	Version int64 `json:"version"`

	// UpdatedAt is the authority receipt time of the mutation that
	// produced this value.
	UpdatedAt time.Time `json:"updated_at"`
}

// CPUSample is one authority-side load observation. Timestamps within
// a session's sample history are monotonically non-decreasing.
type CPUSample struct {
	// At is the sample time.
	At time.Time `json:"at"`

	// Load1, Load5, and Load15 are the standard load averages.
	Load1  float64 `json:"load1"`
	Load5  float64 `json:"load5"`
	Load15 float64 `json:"load15"`

	// Warning is set when the authority considers itself under
	// pressure (load1 above its configured threshold).
	Warning string `json:"warning,omitempty"`
}

// FindParticipant returns the participant entry for userID, if any.
func (s *Session) FindParticipant(userID string) (Participant, bool) {
	for _, p := range s.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

// FindChannel returns the channel with the given id, if any.
func (s *Session) FindChannel(channelID string) (Channel, bool) {
	for _, c := range s.Channels {
		if c.ID == channelID {
			return c, true
		}
	}
	return Channel{}, false
}
