// Package domain contains entities without logic, just meta-data
// and the invariants that hold across the whole system.
package domain

import "time"

const (
	MaxUserIDLen      = 36
	MaxDisplayNameLen = 36
)

type (
	PartyID   string
	UserID    string
	ContentID string
)

// PartyStatus is monotone: pending -> active -> ended, never backward.
type PartyStatus string

const (
	StatusPending PartyStatus = "pending"
	StatusActive  PartyStatus = "active"
	StatusEnded   PartyStatus = "ended"
)

// CanTransition reports whether moving to next keeps the status monotone.
func (s PartyStatus) CanTransition(next PartyStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusActive || next == StatusEnded
	case StatusActive:
		return next == StatusEnded
	default:
		return false
	}
}

// Terminal reports whether no further mutation is allowed on the party.
func (s PartyStatus) Terminal() bool { return s == StatusEnded }

// Party is the durable record of a shared-viewing session.
// Exactly one host per party; ContentID may be empty until chosen.
type Party struct {
	ID        PartyID     `json:"party_id"`
	HostID    UserID      `json:"host_id"`
	ContentID ContentID   `json:"content_id,omitempty"`
	Status    PartyStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

// Participant is the durable roster entry. Joined=false means invited
// and awaiting; JoinedAt is set on first accept.
type Participant struct {
	PartyID  PartyID    `json:"party_id"`
	UserID   UserID     `json:"user_id"`
	Joined   bool       `json:"joined"`
	JoinedAt *time.Time `json:"joined_at,omitempty"`
}

// PartyDetails is the read-only snapshot returned by lifecycle lookups.
type PartyDetails struct {
	Party        Party         `json:"party"`
	Participants []Participant `json:"participants"`
}
