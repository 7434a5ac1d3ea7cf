package store

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/mattfrayser/whiteboard-backend/internal/logging"
)

// BreakerConfig configures the circuit breaker wrapped around a Store.
type BreakerConfig struct {
	Name string
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold uint32
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval clears counts while closed. Zero never clears.
	Interval time.Duration
	// Timeout is how long the breaker stays open.
	Timeout time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "room-store",
		FailureThreshold: 5,
		MaxRequests:      1,
		Timeout:          10 * time.Second,
	}
}

// Resilient fails fast while the underlying store keeps erroring, so room
// loads fall back to a fresh room without waiting on a dead backend.
// ErrNotFound is a normal answer and never trips the breaker.
type Resilient struct {
	inner Store
	cb    *gobreaker.CircuitBreaker[*Document]
}

func NewResilient(inner Store, cfg BreakerConfig) *Resilient {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	log := logging.WithComponent("store")

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("store circuit breaker state changed")
		},
	}

	return &Resilient{
		inner: inner,
		cb:    gobreaker.NewCircuitBreaker[*Document](settings),
	}
}

func (r *Resilient) Find(ctx context.Context, name string) (*Document, error) {
	return r.cb.Execute(func() (*Document, error) {
		return r.inner.Find(ctx, name)
	})
}

func (r *Resilient) Upsert(ctx context.Context, doc *Document) (*Document, error) {
	return r.cb.Execute(func() (*Document, error) {
		return r.inner.Upsert(ctx, doc)
	})
}

// State reports the breaker state (closed, half-open, open).
func (r *Resilient) State() string {
	return r.cb.State().String()
}

func (r *Resilient) Close() error {
	return r.inner.Close()
}
