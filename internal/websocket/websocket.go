package websocket

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mattfrayser/whiteboard-backend/internal/handlers"
	"github.com/mattfrayser/whiteboard-backend/internal/logging"
	"github.com/mattfrayser/whiteboard-backend/internal/metrics"
	"github.com/mattfrayser/whiteboard-backend/internal/middleware"
	"github.com/mattfrayser/whiteboard-backend/internal/room"
	"github.com/mattfrayser/whiteboard-backend/internal/user"
)

// Router handles one inbound frame.
type Router interface {
	Route(ctx context.Context, c handlers.Conn, msg []byte) error
}

// Membership is the part of the hub a closing connection needs.
type Membership interface {
	LeaveAll(p room.Peer)
}

// Handler upgrades requests to websocket connections and runs them.
type Handler struct {
	upgrader    websocket.Upgrader
	router      Router
	hub         Membership
	ipLimiter   *middleware.IPRateLimit
	limits      *middleware.RateLimit
	colors      *user.ColorGenerator
	connections atomic.Int64
	clients     map[*Client]struct{}
	log         zerolog.Logger
	mu          sync.Mutex
}

// NewHandler: allowedOrigins lists exact Origin values; "*" accepts any
// origin and an empty list only same-host requests. ipLimiter may be nil.
func NewHandler(router Router, hub Membership, ipLimiter *middleware.IPRateLimit, limits *middleware.RateLimit, allowedOrigins []string) *Handler {
	if limits == nil {
		limits = middleware.DefaultRateLimit()
	}
	h := &Handler{
		router:    router,
		hub:       hub,
		ipLimiter: ipLimiter,
		limits:    limits,
		colors:    user.NewColorGenerator(),
		clients:   make(map[*Client]struct{}),
		log:       logging.WithComponent("websocket"),
	}
	h.upgrader.CheckOrigin = checkOrigin(allowedOrigins)
	return h
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimSpace(o)
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			set[o] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		_, ok := set[r.Header.Get("Origin")]
		return ok
	}
}

// GetClientIP: extracts the client IP from RemoteAddr (cannot be spoofed by headers)
func GetClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Connections: number of open connections
func (h *Handler) Connections() int {
	return int(h.connections.Load())
}

// CloseAll disconnects every open client. Hijacked connections are not
// touched by http.Server.Shutdown, so this is how they end on shutdown.
func (h *Handler) CloseAll() int {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	return len(clients)
}

// Serve blocks until ctx is done, then closes all clients.
func (h *Handler) Serve(ctx context.Context) error {
	<-ctx.Done()
	if n := h.CloseAll(); n > 0 {
		h.log.Info().Int("clients", n).Msg("closed clients for shutdown")
	}
	return ctx.Err()
}

func (h *Handler) String() string {
	return "websocket-connections"
}

func (h *Handler) track(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.connections.Add(1)
	metrics.Connections.Inc()
}

func (h *Handler) untrack(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	h.connections.Add(-1)
	metrics.Connections.Dec()
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientIP := GetClientIP(r)
	if h.ipLimiter != nil && !h.ipLimiter.Allow(clientIP) {
		metrics.ConnectionsRejected.WithLabelValues("ip_rate_limited").Inc()
		h.log.Warn().Str("ip", clientIP).Msg("connection rate limit exceeded")
		http.Error(w, "Too many connections", http.StatusTooManyRequests)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an error status
		metrics.ConnectionsRejected.WithLabelValues("upgrade").Inc()
		h.log.Debug().Err(err).Str("ip", clientIP).Msg("upgrade failed")
		return
	}

	u := user.New(h.colors.Next(), h.limits.UserLimits())
	c := newClient(conn, u, h.log)

	h.track(c)
	c.log.Info().Str("ip", clientIP).Msg("client connected")

	go c.writePump()
	c.readPump(r.Context(), h.router, h.limits)

	h.hub.LeaveAll(c)
	c.Close()
	h.untrack(c)
	c.log.Info().Msg("client disconnected")
}
