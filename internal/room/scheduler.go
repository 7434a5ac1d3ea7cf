package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mattfrayser/whiteboard-backend/internal/logging"
	"github.com/mattfrayser/whiteboard-backend/internal/metrics"
	"github.com/mattfrayser/whiteboard-backend/internal/store"
)

// DefaultDebounce is the quiet period before a room is written back.
const DefaultDebounce = time.Second

// SnapshotSource provides deep copies of resident rooms.
type SnapshotSource interface {
	Snapshot(name string) (*store.Document, bool)
}

type pendingWrite struct {
	timer *time.Timer
	gen   uint64
}

// Scheduler coalesces room mutations into debounced upserts. Each Schedule
// call restarts the room's quiet period; when it elapses the room's full
// state at that moment is written. Failed writes are logged and not retried;
// the next mutation schedules another attempt.
type Scheduler struct {
	store   store.Store
	rooms   SnapshotSource
	delay   time.Duration
	pending map[string]*pendingWrite
	flushMu map[string]*sync.Mutex
	gen     uint64
	log     zerolog.Logger
	mu      sync.Mutex
}

func NewScheduler(st store.Store, rooms SnapshotSource, delay time.Duration) *Scheduler {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Scheduler{
		store:   st,
		rooms:   rooms,
		delay:   delay,
		pending: make(map[string]*pendingWrite),
		flushMu: make(map[string]*sync.Mutex),
		log:     logging.WithComponent("writeback"),
	}
}

// Schedule (re)arms the room's timer.
func (s *Scheduler) Schedule(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	gen := s.gen

	if p, ok := s.pending[name]; ok {
		p.timer.Stop()
		p.gen = gen
		p.timer = time.AfterFunc(s.delay, func() { s.fire(name, gen) })
		return
	}

	s.pending[name] = &pendingWrite{
		gen:   gen,
		timer: time.AfterFunc(s.delay, func() { s.fire(name, gen) }),
	}
	metrics.PendingWrites.Set(float64(len(s.pending)))
}

// fire runs on the timer goroutine. A timer that was superseded after it
// had already fired sees a newer generation and does nothing.
func (s *Scheduler) fire(name string, gen uint64) {
	s.mu.Lock()
	p, ok := s.pending[name]
	if !ok || p.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.pending, name)
	metrics.PendingWrites.Set(float64(len(s.pending)))
	s.mu.Unlock()

	_ = s.flush(context.Background(), name)
}

// flushLock serializes flushes of one room so an older snapshot never lands
// after a newer one.
func (s *Scheduler) flushLock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	fl, ok := s.flushMu[name]
	if !ok {
		fl = &sync.Mutex{}
		s.flushMu[name] = fl
	}
	return fl
}

func (s *Scheduler) flush(ctx context.Context, name string) error {
	fl := s.flushLock(name)
	fl.Lock()
	defer fl.Unlock()

	doc, ok := s.rooms.Snapshot(name)
	if !ok {
		return nil
	}

	start := time.Now()
	_, err := s.store.Upsert(ctx, doc)
	metrics.FlushDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.FlushesTotal.WithLabelValues("error").Inc()
		s.log.Error().Err(err).Str("room", name).Msg("write-back failed")
		return fmt.Errorf("flush %s: %w", name, err)
	}

	metrics.FlushesTotal.WithLabelValues("ok").Inc()
	s.log.Debug().
		Str("room", name).
		Int("current_slide", doc.CurrentSlide).
		Int("slides", len(doc.Slides)).
		Dur("took", time.Since(start)).
		Msg("room written back")
	return nil
}

// Pending: number of rooms with an armed timer
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.pending)
}

// FlushAll cancels every armed timer and writes those rooms immediately.
func (s *Scheduler) FlushAll(ctx context.Context) error {
	s.mu.Lock()
	names := make([]string, 0, len(s.pending))
	for name, p := range s.pending {
		p.timer.Stop()
		names = append(names, name)
	}
	s.pending = make(map[string]*pendingWrite)
	metrics.PendingWrites.Set(0)
	s.mu.Unlock()

	var errs []error
	for _, name := range names {
		if err := s.flush(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	if len(names) > 0 {
		s.log.Info().Int("rooms", len(names)).Int("failed", len(errs)).Msg("flushed pending write-backs")
	}
	return errors.Join(errs...)
}

// Serve blocks until ctx is done, then flushes whatever is still pending.
func (s *Scheduler) Serve(ctx context.Context) error {
	<-ctx.Done()

	if err := s.FlushAll(context.WithoutCancel(ctx)); err != nil {
		s.log.Error().Err(err).Msg("shutdown flush incomplete")
	}
	return ctx.Err()
}

func (s *Scheduler) String() string {
	return "writeback-scheduler"
}
