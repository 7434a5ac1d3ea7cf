package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thejerf/suture/v4"

	"github.com/mattfrayser/whiteboard-backend/internal/room"
	"github.com/mattfrayser/whiteboard-backend/internal/store"
)

type fakeHTTPServer struct {
	serveErr    error
	shutdownErr error
	serves      atomic.Int32
	shutdowns   atomic.Int32
	started     chan struct{}
	stop        chan struct{}
	stopOnce    sync.Once
}

func newFakeHTTPServer() *fakeHTTPServer {
	return &fakeHTTPServer{
		started: make(chan struct{}, 8),
		stop:    make(chan struct{}),
	}
}

func (f *fakeHTTPServer) Serve(ln net.Listener) error {
	defer ln.Close()
	f.serves.Add(1)
	select {
	case f.started <- struct{}{}:
	default:
	}
	if f.serveErr != nil {
		return f.serveErr
	}
	<-f.stop
	return http.ErrServerClosed
}

func (f *fakeHTTPServer) Shutdown(context.Context) error {
	f.shutdowns.Add(1)
	f.stopOnce.Do(func() { close(f.stop) })
	return f.shutdownErr
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitStarted(t *testing.T, f *fakeHTTPServer) {
	t.Helper()
	select {
	case <-f.started:
	case <-time.After(time.Second):
		t.Fatal("server did not start")
	}
}

const anyPort = "127.0.0.1:0"

func TestHTTPServerService(t *testing.T) {
	var _ suture.Service = (*HTTPServerService)(nil)

	t.Run("graceful shutdown", func(t *testing.T) {
		srv := newFakeHTTPServer()
		svc := NewHTTPServerService(srv, anyPort, time.Second)

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() { errCh <- svc.Serve(ctx) }()
		waitStarted(t, srv)
		assert.NotEmpty(t, svc.Addr())
		cancel()

		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(2 * time.Second):
			t.Fatal("Serve did not return")
		}
		assert.EqualValues(t, 1, srv.shutdowns.Load())
		assert.Empty(t, svc.Addr())
	})

	t.Run("address in use", func(t *testing.T) {
		taken, err := net.Listen("tcp", anyPort)
		require.NoError(t, err)
		defer taken.Close()

		srv := newFakeHTTPServer()
		err = NewHTTPServerService(srv, taken.Addr().String(), time.Second).Serve(context.Background())
		assert.ErrorContains(t, err, "listen")
		assert.Zero(t, srv.serves.Load(), "Serve is not reached without a listener")
	})

	t.Run("serve failure", func(t *testing.T) {
		srv := newFakeHTTPServer()
		srv.serveErr = errors.New("accept: too many open files")
		err := NewHTTPServerService(srv, anyPort, time.Second).Serve(context.Background())
		assert.ErrorIs(t, err, srv.serveErr)
	})

	t.Run("shutdown failure", func(t *testing.T) {
		srv := newFakeHTTPServer()
		srv.shutdownErr = errors.New("shutdown timeout")
		svc := NewHTTPServerService(srv, anyPort, time.Second)

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() { errCh <- svc.Serve(ctx) }()
		waitStarted(t, srv)
		cancel()
		assert.ErrorIs(t, <-errCh, srv.shutdownErr)
	})

	t.Run("defaults", func(t *testing.T) {
		svc := NewHTTPServerService(newFakeHTTPServer(), anyPort, 0)
		assert.Equal(t, 10*time.Second, svc.timeout)
		assert.Equal(t, "http-server", svc.String())
	})
}

func TestHTTPServerServiceServesRequests(t *testing.T) {
	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("board"))
		}),
		ReadHeaderTimeout: time.Second,
	}
	svc := NewHTTPServerService(srv, anyPort, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()
	require.Eventually(t, func() bool { return svc.Addr() != "" }, time.Second, 5*time.Millisecond)

	resp, err := http.Get("http://" + svc.Addr() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "board", string(body))

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}

func TestTreeDefaults(t *testing.T) {
	def := DefaultTreeConfig()
	assert.Equal(t, 5.0, def.FailureThreshold)
	assert.Equal(t, 30.0, def.FailureDecay)
	assert.Equal(t, 15*time.Second, def.FailureBackoff)
	assert.Equal(t, 10*time.Second, def.ShutdownTimeout)

	tree := NewTree(quietLogger(), TreeConfig{})
	require.NotNil(t, tree.root)
}

func TestTreeRestartsFailedListener(t *testing.T) {
	srv := newFakeHTTPServer()
	srv.serveErr = errors.New("listener died")

	tree := NewTree(quietLogger(), TreeConfig{
		FailureThreshold: 10,
		FailureBackoff:   10 * time.Millisecond,
		ShutdownTimeout:  time.Second,
	})
	tree.AddAPIService(NewHTTPServerService(srv, anyPort, time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	require.Eventually(t, func() bool { return srv.serves.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-errCh
}

func TestTreeFlushesPendingWritesOnShutdown(t *testing.T) {
	st := store.NewMemoryStore()
	rooms := room.NewManager(st)
	sched := room.NewScheduler(st, rooms, time.Hour)
	srv := newFakeHTTPServer()

	tree := NewTree(quietLogger(), TreeConfig{ShutdownTimeout: time.Second})
	tree.AddSyncService(sched)
	tree.AddAPIService(NewHTTPServerService(srv, anyPort, time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)
	waitStarted(t, srv)

	r := rooms.GetOrLoad(ctx, "A")
	r.Do(func(s *room.State) { s.SetSlide(4) })
	sched.Schedule("A")
	require.Equal(t, 1, sched.Pending())

	cancel()
	select {
	case <-errCh:
	case <-time.After(3 * time.Second):
		t.Fatal("tree did not stop")
	}

	doc, err := st.Find(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, 4, doc.CurrentSlide)
	assert.Zero(t, sched.Pending())
	assert.EqualValues(t, 1, srv.shutdowns.Load())

	report, err := tree.UnstoppedServiceReport()
	require.NoError(t, err)
	assert.Empty(t, report)
}
