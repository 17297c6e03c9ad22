package ws

import (
	"context"
	"encoding/json"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/pavelq/cowatch/internal/core"
	"github.com/pavelq/cowatch/internal/domain"
	"github.com/pavelq/cowatch/internal/proto"
)

func (ctl *Controller) handleJoin(
	ctx context.Context,
	handle core.HandleID,
	conn *wsConn,
	data []byte,
) {
	type joinPayload struct {
		Type        string         `json:"type"`
		PartyID     domain.PartyID `json:"party_id"`
		UserID      domain.UserID  `json:"user_id"`
		DisplayName string         `json:"display_name,omitempty"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("bad join payload")
		ctl.send(conn, proto.NewError("bad_payload"))
		return
	}
	if p.PartyID == "" || p.UserID == "" || len(p.UserID) > domain.MaxUserIDLen {
		ctl.send(conn, proto.NewError("invalid_input"))
		return
	}
	p.DisplayName = truncateRunes(p.DisplayName, domain.MaxDisplayNameLen)
	if p.DisplayName == "" {
		p.DisplayName = string(p.UserID)
	}

	if ctl.Limiter != nil && !ctl.Limiter.Allow(p.UserID) {
		log.Warn().Str("module", "ws").Str("user_id", string(p.UserID)).Msg("join rate limited")
		ctl.send(conn, proto.NewError("rate_limited"))
		return
	}

	log.Info().Str("module", "ws").Str("handle", string(handle)).
		Str("party_id", string(p.PartyID)).Str("user_id", string(p.UserID)).Msg("join")

	state, err := ctl.Coord.Join(ctx, handle, p.PartyID, p.UserID, p.DisplayName, conn)
	if err != nil {
		ctl.sendErr(conn, err)
		return
	}
	ctl.send(conn, proto.Encode(state))
}

// truncateRunes bounds s to max runes without splitting a multibyte
// character.
func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

// handleLeave unregisters presence without tearing the transport down;
// the client may join another party on the same connection.
func (ctl *Controller) handleLeave(handle core.HandleID, conn *wsConn) {
	log.Info().Str("module", "ws").Str("handle", string(handle)).Msg("leave")
	ctl.Coord.Leave(handle)
	ctl.send(conn, proto.Encode(map[string]string{"type": "left"}))
}
