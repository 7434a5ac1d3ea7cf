// Package api wires the HTTP routes.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mattfrayser/whiteboard-backend/internal/logging"
	"github.com/mattfrayser/whiteboard-backend/internal/store"
)

// DocumentFinder is the read side of the room store.
type DocumentFinder interface {
	Find(ctx context.Context, name string) (*store.Document, error)
}

// Counter reports a current size.
type Counter func() int

type Config struct {
	AllowedOrigins []string
	// StaticDir is served at / when set
	StaticDir string
	// CheckRequestsPerMinute limits /check per client IP. Zero disables the limit.
	CheckRequestsPerMinute int
}

// Deps are the components the routes read from.
type Deps struct {
	Store       DocumentFinder
	WebSocket   http.Handler
	Rooms       Counter
	Connections Counter
	Pending     Counter
	// StoreState reports the store circuit breaker state, if any
	StoreState func() string
}

type handler struct {
	deps Deps
	log  zerolog.Logger
}

// NewRouter builds the chi router.
func NewRouter(cfg Config, deps Deps) http.Handler {
	h := &handler{deps: deps, log: logging.WithComponent("http")}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger(h.log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	if deps.WebSocket != nil {
		r.Get("/ws", deps.WebSocket.ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		if cfg.CheckRequestsPerMinute > 0 {
			r.Use(httprate.LimitByIP(cfg.CheckRequestsPerMinute, time.Minute))
		}
		r.Get("/check/{room}", h.check)
	})

	r.Get("/healthz", h.health)
	r.Handle("/metrics", promhttp.Handler())

	if cfg.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(cfg.StaticDir)))
	}

	return r
}

// check returns the persisted document for a room, bypassing memory. Misses
// and failures are reported in the body with status 200.
func (h *handler) check(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "room")

	doc, err := h.deps.Store.Find(r.Context(), name)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusOK, map[string]string{"error": "Room not found in DB"})
	case err != nil:
		h.log.Warn().Err(err).Str("room", name).Msg("check lookup failed")
		writeJSON(w, http.StatusOK, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, doc)
	}
}

type healthResponse struct {
	Status        string `json:"status"`
	Rooms         int    `json:"rooms"`
	Connections   int    `json:"connections"`
	PendingWrites int    `json:"pending_writes"`
	Store         string `json:"store,omitempty"`
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		Rooms:         count(h.deps.Rooms),
		Connections:   count(h.deps.Connections),
		PendingWrites: count(h.deps.Pending),
	}
	status := http.StatusOK
	if h.deps.StoreState != nil {
		resp.Store = h.deps.StoreState()
		if resp.Store == "open" {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

func count(c Counter) int {
	if c == nil {
		return 0
	}
	return c()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// requestLogger logs each request at debug level.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug().
				Str("request_id", chimiddleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("took", time.Since(start)).
				Msg("request")
		})
	}
}
