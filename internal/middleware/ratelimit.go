package middleware

import (
	"time"

	"github.com/mattfrayser/whiteboard-backend/internal/object"
	"github.com/mattfrayser/whiteboard-backend/internal/user"
)

// RateLimit: per-connection and per-object limits
type RateLimit struct {
	MaxMessageSize     int
	MaxObjectDepth     int
	MaxObjectElements  int
	MaxObjectsPerSlide int
	MessagesPerSecond  float64
	BurstSize          int
	CursorInterval     time.Duration
}

// DefaultRateLimit: limits used when nothing is configured
func DefaultRateLimit() *RateLimit {
	return &RateLimit{
		MaxMessageSize:     512 * 1024,
		MaxObjectDepth:     10,
		MaxObjectElements:  1000,
		MaxObjectsPerSlide: 5000,
		MessagesPerSecond:  60,
		BurstSize:          30,
	}
}

// ValidateMessageSize: checks if a message is within the size limit
func (rl *RateLimit) ValidateMessageSize(msgSize int) bool {
	return rl.MaxMessageSize <= 0 || msgSize <= rl.MaxMessageSize
}

// CanAddObject: checks if a slide holding count objects has room for another
func (rl *RateLimit) CanAddObject(count int) bool {
	return rl.MaxObjectsPerSlide <= 0 || count < rl.MaxObjectsPerSlide
}

// ObjectLimits: complexity limits for the object validator
func (rl *RateLimit) ObjectLimits() object.Limits {
	return object.Limits{
		MaxDepth:    rl.MaxObjectDepth,
		MaxElements: rl.MaxObjectElements,
	}
}

// UserLimits: limits applied to each connection's user
func (rl *RateLimit) UserLimits() user.Limits {
	return user.Limits{
		MessagesPerSecond: rl.MessagesPerSecond,
		Burst:             rl.BurstSize,
		CursorInterval:    rl.CursorInterval,
	}
}
