package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mattfrayser/whiteboard-backend/internal/handlers"
	"github.com/mattfrayser/whiteboard-backend/internal/metrics"
	"github.com/mattfrayser/whiteboard-backend/internal/middleware"
	"github.com/mattfrayser/whiteboard-backend/internal/user"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10 // Send pings at 90% of pong deadline
	sendBuffer = 256
)

// Client is one websocket connection. Outbound frames go through a buffered
// queue drained by the write pump; a full queue means the peer is too slow.
type Client struct {
	user *user.User
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
	log  zerolog.Logger
}

func newClient(conn *websocket.Conn, u *user.User, log zerolog.Logger) *Client {
	return &Client{
		user: u,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
		log:  log.With().Str("user", u.ID).Logger(),
	}
}

func (c *Client) ID() string {
	return c.user.ID
}

func (c *Client) User() *user.User {
	return c.user
}

// Send queues msg for the write pump without blocking.
func (c *Client) Send(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which closes the connection.
func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}

// writePump: single writer for the connection, also sends pings
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				c.Close()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// readPump: message loop, runs until the connection dies
func (c *Client) readPump(ctx context.Context, router Router, limits *middleware.RateLimit) {
	if limits.MaxMessageSize > 0 {
		// frames past twice the limit close the connection, smaller oversize frames are dropped
		c.conn.SetReadLimit(int64(limits.MaxMessageSize) * 2)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Msg("unexpected websocket close")
			}
			return
		}

		if !limits.ValidateMessageSize(len(msg)) {
			metrics.EventsDropped.WithLabelValues("too_large").Inc()
			c.log.Warn().Int("bytes", len(msg)).Msg("message too large, dropped")
			continue
		}

		if !c.user.Allow() {
			metrics.EventsDropped.WithLabelValues("rate_limited").Inc()
			c.log.Debug().Msg("rate limit exceeded, dropped")
			continue
		}

		if err := router.Route(ctx, c, msg); err != nil {
			ev := c.log.Debug()
			if !errors.Is(err, handlers.ErrMalformedEvent) && !errors.Is(err, handlers.ErrUnknownEvent) {
				ev = c.log.Warn()
			}
			ev.Err(err).Msg("event not applied")
		}
	}
}
