package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mattfrayser/whiteboard-backend/internal/logging"
)

// HTTPServer is the part of *http.Server the service drives.
type HTTPServer interface {
	Serve(l net.Listener) error
	Shutdown(ctx context.Context) error
}

// HTTPServerService binds addr and serves on it until its context ends.
// A bind or accept failure is returned so the supervisor restarts it.
type HTTPServerService struct {
	server  HTTPServer
	addr    string
	timeout time.Duration
	log     zerolog.Logger

	mu    sync.Mutex
	bound string
}

func NewHTTPServerService(server HTTPServer, addr string, shutdownTimeout time.Duration) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPServerService{
		server:  server,
		addr:    addr,
		timeout: shutdownTimeout,
		log:     logging.WithComponent("http"),
	}
}

// Addr is the address actually bound, empty while not listening.
func (h *HTTPServerService) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bound
}

func (h *HTTPServerService) setBound(addr string) {
	h.mu.Lock()
	h.bound = addr
	h.mu.Unlock()
}

func (h *HTTPServerService) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", h.addr, err)
	}
	h.setBound(ln.Addr().String())
	defer h.setBound("")
	h.log.Info().Str("addr", ln.Addr().String()).Msg("listening")

	served := make(chan error, 1)
	go func() { served <- h.server.Serve(ln) }()

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", h.addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
	defer cancel()
	err = h.server.Shutdown(shutdownCtx)
	// Serve returns as soon as Shutdown starts
	<-served
	if err != nil {
		return fmt.Errorf("shutdown %s: %w", h.addr, err)
	}
	h.log.Info().Msg("stopped listening")
	return ctx.Err()
}

func (h *HTTPServerService) String() string {
	return "http-server"
}
