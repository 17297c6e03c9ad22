package ws

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/pavelq/cowatch/internal/core"
	"github.com/pavelq/cowatch/internal/domain"
	"github.com/pavelq/cowatch/internal/proto"
)

// handleSetPlayback merges a partial update into the party's playback
// state and rebroadcasts the result to everyone else. The sender gets
// no echo; the broadcast alone would bounce play/pause back and forth.
func (ctl *Controller) handleSetPlayback(handle core.HandleID, conn *wsConn, data []byte) {
	type playbackPayload struct {
		Type      string            `json:"type"`
		Playing   *bool             `json:"playing,omitempty"`
		Position  *float64          `json:"position,omitempty"`
		ContentID *domain.ContentID `json:"content_id,omitempty"`
	}
	var p playbackPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("bad playback payload")
		ctl.send(conn, proto.NewError("bad_payload"))
		return
	}

	update := domain.PlaybackUpdate{
		Playing:   p.Playing,
		Position:  p.Position,
		ContentID: p.ContentID,
	}
	state, err := ctl.Coord.SetPlayback(handle, update)
	if err != nil {
		ctl.sendErr(conn, err)
		return
	}
	log.Debug().Str("module", "ws").Str("handle", string(handle)).
		Bool("playing", state.Playing).Float64("position", state.Position).
		Str("content_id", string(state.ContentID)).Msg("playback updated")
}
