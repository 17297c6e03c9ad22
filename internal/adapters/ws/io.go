package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/pavelq/cowatch/internal/core"
	"github.com/pavelq/cowatch/internal/domain"
	"github.com/pavelq/cowatch/internal/proto"
)

// Client->server message types. The inbound envelope is a closed set;
// anything else is logged and ignored.
const (
	typeJoinParty   = "join_party"
	typeRejoin      = "rejoin"
	typeLeaveParty  = "leave_party"
	typeRelaySignal = "relay_signal"
	typeSetPlayback = "set_playback_state"
	typePing        = "ping"
)

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump reads until the transport dies, then unregisters presence.
// Transport-level disconnect is the only failure path; there is no
// separate heartbeat layer.
func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, handle core.HandleID, c *wsConn) {
	defer func() {
		log.Info().Str("module", "ws").Str("handle", string(handle)).Msg("readPump closing")
		ctl.Coord.Leave(handle)
		cancel()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				return
			}
			ctl.dispatch(ctx, handle, c, data)
		}
	}
}

func (ctl *Controller) dispatch(ctx context.Context, handle core.HandleID, c *wsConn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("bad json")
		ctl.send(c, proto.NewError("bad_payload"))
		return
	}

	switch env.Type {
	case typeJoinParty, typeRejoin:
		ctl.handleJoin(ctx, handle, c, data)
	case typeLeaveParty:
		ctl.handleLeave(handle, c)
	case typeRelaySignal:
		ctl.handleRelay(handle, c, data)
	case typeSetPlayback:
		ctl.handleSetPlayback(handle, c, data)
	case typePing:
		ctl.send(c, proto.Encode(proto.Pong{Type: proto.TypePong}))
	default:
		log.Warn().Str("module", "ws").Str("type", env.Type).Msg("unknown message")
		ctl.send(c, proto.NewError("unknown_type"))
	}
}

func (ctl *Controller) send(c *wsConn, f core.Frame) {
	if f == nil {
		return
	}
	_ = c.TrySend(f)
}

// sendErr maps the domain taxonomy onto wire error codes.
func (ctl *Controller) sendErr(c *wsConn, err error) {
	code := "internal"
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		code = "invalid_input"
	case errors.Is(err, domain.ErrNotInvited):
		code = "not_invited"
	case errors.Is(err, domain.ErrPartyNotFound):
		code = "party_not_found"
	case errors.Is(err, domain.ErrPartyEnded):
		code = "party_ended"
	case errors.Is(err, domain.ErrPartyFull):
		code = "party_full"
	case errors.Is(err, domain.ErrNotAuthorized):
		code = "not_authorized"
	}
	ctl.send(c, proto.NewError(code))
}
