// Package proto defines the server->client message vocabulary of the
// coordination channel. Every message is a closed tagged variant with a
// "type" field; clients switch on it exactly once at the boundary.
package proto

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/pavelq/cowatch/internal/core"
	"github.com/pavelq/cowatch/internal/domain"
)

// Server->client message types.
const (
	TypeRoomState       = "room_state"
	TypePresenceChanged = "presence_changed"
	TypeSignalReceived  = "signal_received"
	TypePlaybackChanged = "playback_state_changed"
	TypeSuperseded      = "superseded"
	TypePartyEnded      = "party_ended"
	TypeError           = "error"
	TypePong            = "pong"
)

// Presence actions.
const (
	ActionJoined = "joined"
	ActionLeft   = "left"
)

// RoomState bootstraps a joiner: its own handle, the current roster and
// the playback state, if any update was ever accepted.
type RoomState struct {
	Type     string                `json:"type"`
	PartyID  domain.PartyID        `json:"party_id"`
	Self     core.HandleID         `json:"self"`
	Roster   []core.RosterEntry    `json:"roster"`
	Playback *domain.PlaybackState `json:"playback,omitempty"`
}

type PresenceChanged struct {
	Type        string         `json:"type"`
	Handle      core.HandleID  `json:"handle"`
	UserID      domain.UserID  `json:"user_id"`
	DisplayName string         `json:"display_name"`
	Action      string         `json:"action"`
	PartyID     domain.PartyID `json:"party_id"`
}

// SignalReceived ferries an opaque negotiation payload; the server never
// inspects Payload.
type SignalReceived struct {
	Type       string          `json:"type"`
	FromHandle core.HandleID   `json:"from_handle"`
	Payload    json.RawMessage `json:"payload"`
}

type PlaybackChanged struct {
	Type    string               `json:"type"`
	PartyID domain.PartyID       `json:"party_id"`
	State   domain.PlaybackState `json:"state"`
}

type Superseded struct {
	Type    string         `json:"type"`
	PartyID domain.PartyID `json:"party_id"`
	Reason  string         `json:"reason"`
}

type PartyEnded struct {
	Type    string         `json:"type"`
	PartyID domain.PartyID `json:"party_id"`
}

type Error struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type Pong struct {
	Type string `json:"type"`
}

// Encode marshals any server message into a frame. Marshal failures are
// programming errors; they are logged and produce a nil frame, which
// rooms skip.
func Encode(v any) core.Frame {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "proto").Msg("encode message")
		return nil
	}
	return core.Frame(b)
}

func NewPresence(partyID domain.PartyID, e core.RosterEntry, action string) core.Frame {
	return Encode(PresenceChanged{
		Type:        TypePresenceChanged,
		Handle:      e.Handle,
		UserID:      e.UserID,
		DisplayName: e.DisplayName,
		Action:      action,
		PartyID:     partyID,
	})
}

func NewSuperseded(partyID domain.PartyID) core.Frame {
	return Encode(Superseded{Type: TypeSuperseded, PartyID: partyID, Reason: "newer connection for this user"})
}

func NewSignal(from core.HandleID, payload json.RawMessage) core.Frame {
	return Encode(SignalReceived{Type: TypeSignalReceived, FromHandle: from, Payload: payload})
}

func NewPlayback(partyID domain.PartyID, s domain.PlaybackState) core.Frame {
	return Encode(PlaybackChanged{Type: TypePlaybackChanged, PartyID: partyID, State: s})
}

func NewPartyEnded(partyID domain.PartyID) core.Frame {
	return Encode(PartyEnded{Type: TypePartyEnded, PartyID: partyID})
}

func NewError(msg string) core.Frame {
	return Encode(Error{Type: TypeError, Error: msg})
}
