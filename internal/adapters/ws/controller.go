// Package ws adapts the coordination channel onto a gorilla WebSocket:
// one connection per client, a buffered outbound queue per connection
// and a tagged-envelope dispatch for inbound messages.
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/pavelq/cowatch/internal/app"
	"github.com/pavelq/cowatch/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Controller struct {
	Coord   *app.Coordinator
	Limiter *JoinRateLimiter
}

func NewController(coord *app.Coordinator, limiter *JoinRateLimiter) *Controller {
	return &Controller{Coord: coord, Limiter: limiter}
}

// wsConn is the outbound half of one client connection. TrySend never
// blocks; a full queue reports backpressure so fan-outs stay fast.
type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// HandleWS upgrades the request and runs the connection until the
// client goes away. Each connection gets a fresh handle; reconnects
// therefore supersede rather than duplicate presence.
func (ctl *Controller) HandleWS(ctx context.Context, c *gin.Context) {
	handle := core.HandleID(uuid.NewString())
	log.Info().Str("module", "ws").Str("handle", string(handle)).Msg("new WS connection")

	sock, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("ws upgrade")
		return
	}

	conn := &wsConn{
		conn: sock,
		send: make(chan core.Frame, 64),
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, handle, conn)
}
