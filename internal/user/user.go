package user

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Limits for a single connection.
type Limits struct {
	MessagesPerSecond float64
	Burst             int
	// CursorInterval is the minimum gap between relayed cursor moves. Zero
	// relays every move.
	CursorInterval time.Duration
}

// User is the identity behind one connection. It lives as long as the
// connection; nothing is kept after disconnect.
type User struct {
	ID    string
	Color string

	limiter        *rate.Limiter
	cursorInterval time.Duration
	lastCursor     time.Time
	mu             sync.Mutex
}

// New creates a user with a random id.
func New(color string, limits Limits) *User {
	u := &User{
		ID:             uuid.NewString(),
		Color:          color,
		cursorInterval: limits.CursorInterval,
	}
	if limits.MessagesPerSecond > 0 {
		burst := limits.Burst
		if burst < 1 {
			burst = 1
		}
		u.limiter = rate.NewLimiter(rate.Limit(limits.MessagesPerSecond), burst)
	}
	return u
}

// Allow reports whether another inbound message fits the rate limit.
func (u *User) Allow() bool {
	if u.limiter == nil {
		return true
	}
	return u.limiter.Allow()
}

// AllowCursor reports whether a cursor move at now should be relayed, and
// records it if so.
func (u *User) AllowCursor(now time.Time) bool {
	if u.cursorInterval <= 0 {
		return true
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.lastCursor.IsZero() && now.Sub(u.lastCursor) < u.cursorInterval {
		return false
	}
	u.lastCursor = now
	return true
}
