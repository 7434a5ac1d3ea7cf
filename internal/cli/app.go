package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mattfrayser/whiteboard-backend/internal/api"
	"github.com/mattfrayser/whiteboard-backend/internal/config"
	"github.com/mattfrayser/whiteboard-backend/internal/handlers"
	"github.com/mattfrayser/whiteboard-backend/internal/logging"
	"github.com/mattfrayser/whiteboard-backend/internal/middleware"
	"github.com/mattfrayser/whiteboard-backend/internal/object"
	"github.com/mattfrayser/whiteboard-backend/internal/room"
	"github.com/mattfrayser/whiteboard-backend/internal/store"
	"github.com/mattfrayser/whiteboard-backend/internal/supervisor"
	"github.com/mattfrayser/whiteboard-backend/internal/websocket"
)

// app is the wired server.
type app struct {
	cfg       *config.Config
	store     *store.Resilient
	rooms     *room.Manager
	hub       *room.Hub
	scheduler *room.Scheduler
	ipLimiter *middleware.IPRateLimit
	ws        *websocket.Handler
	handler   http.Handler
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		logging.Warn().Msg("using the memory store, rooms will not survive a restart")
		return store.NewMemoryStore(), nil
	case "badger":
		return store.OpenBadger(store.BadgerOptions{Path: cfg.Path, SyncWrites: cfg.SyncWrites})
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func newApp(cfg *config.Config) (*app, error) {
	inner, err := openStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	st := store.NewResilient(inner, cfg.Breaker())

	limits := cfg.RateLimit()
	rooms := room.NewManager(st)
	hub := room.NewHub()
	scheduler := room.NewScheduler(st, rooms, cfg.Sync.Debounce)
	validator := object.NewValidator(limits.ObjectLimits(), cfg.Limits.Sanitize)
	router := handlers.NewMessageRouter(rooms, hub, scheduler, validator, limits)
	ipLimiter := cfg.IPRateLimit()
	ws := websocket.NewHandler(router, hub, ipLimiter, limits, cfg.Server.AllowedOrigins)

	handler := api.NewRouter(api.Config{
		AllowedOrigins:         cfg.Server.AllowedOrigins,
		StaticDir:              cfg.Server.StaticDir,
		CheckRequestsPerMinute: cfg.Server.CheckRequestsPerMinute,
	}, api.Deps{
		Store:       st,
		WebSocket:   ws,
		Rooms:       rooms.Count,
		Connections: ws.Connections,
		Pending:     scheduler.Pending,
		StoreState:  st.State,
	})

	return &app{
		cfg:       cfg,
		store:     st,
		rooms:     rooms,
		hub:       hub,
		scheduler: scheduler,
		ipLimiter: ipLimiter,
		ws:        ws,
		handler:   handler,
	}, nil
}

// run serves until ctx is canceled, then flushes and closes the store.
func (a *app) run(ctx context.Context) error {
	timeout := a.cfg.Server.ShutdownTimeout

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{ShutdownTimeout: timeout})
	tree.AddSyncService(a.scheduler)

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	tree.AddAPIService(supervisor.NewHTTPServerService(srv, a.cfg.Server.Addr(), timeout))
	tree.AddAPIService(a.ws)
	if a.ipLimiter != nil {
		tree.AddAPIService(a.ipLimiter)
	}

	logging.Info().
		Str("addr", a.cfg.Server.Addr()).
		Str("store", a.cfg.Store.Driver).
		Dur("debounce", a.cfg.Sync.Debounce).
		Msg("whiteboard server starting")

	err := tree.Serve(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}

	// writes scheduled by connections that closed during shutdown
	if ferr := a.scheduler.FlushAll(context.Background()); ferr != nil {
		logging.Error().Err(ferr).Msg("final flush incomplete")
	}
	if cerr := a.store.Close(); cerr != nil {
		logging.Error().Err(cerr).Msg("closing store")
	}
	logging.Info().Msg("whiteboard server stopped")
	return err
}
