package ws

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/pavelq/cowatch/internal/core"
	"github.com/pavelq/cowatch/internal/proto"
)

// handleRelay forwards an opaque negotiation payload to one roommate.
// The payload is never inspected here or anywhere server-side.
func (ctl *Controller) handleRelay(handle core.HandleID, conn *wsConn, data []byte) {
	type relayPayload struct {
		Type     string          `json:"type"`
		ToHandle core.HandleID   `json:"to_handle"`
		Payload  json.RawMessage `json:"payload"`
	}
	var p relayPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("bad relay payload")
		ctl.send(conn, proto.NewError("bad_payload"))
		return
	}
	if p.ToHandle == "" || len(p.Payload) == 0 {
		ctl.send(conn, proto.NewError("invalid_input"))
		return
	}

	if err := ctl.Coord.Relay(handle, p.ToHandle, p.Payload); err != nil {
		ctl.sendErr(conn, err)
	}
}
