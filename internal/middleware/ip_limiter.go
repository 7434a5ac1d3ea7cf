package middleware

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipLimiterEntry: tracks a rate limiter and its last use time
type ipLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimit: connection attempts allowed per IP address
type IPRateLimit struct {
	limiters map[string]*ipLimiterEntry
	every    time.Duration
	burst    int
	maxIdle  time.Duration
	now      func() time.Time
	mu       sync.Mutex
}

// NewIPRateLimit: one new connection per `every`, bursting to burst.
// Defaults to 10 per minute with a burst of 5.
func NewIPRateLimit(every time.Duration, burst int) *IPRateLimit {
	if every <= 0 {
		every = 6 * time.Second
	}
	if burst < 1 {
		burst = 5
	}
	return &IPRateLimit{
		limiters: make(map[string]*ipLimiterEntry),
		every:    every,
		burst:    burst,
		maxIdle:  time.Hour,
		now:      time.Now,
	}
}

// Allow: checks if an IP is allowed to open another connection
func (iprl *IPRateLimit) Allow(ip string) bool {
	iprl.mu.Lock()
	defer iprl.mu.Unlock()

	now := iprl.now()
	entry, exists := iprl.limiters[ip]
	if !exists {
		entry = &ipLimiterEntry{limiter: rate.NewLimiter(rate.Every(iprl.every), iprl.burst)}
		iprl.limiters[ip] = entry
	}
	entry.lastSeen = now

	return entry.limiter.AllowN(now, 1)
}

// Cleanup: removes limiters idle for longer than maxIdle
func (iprl *IPRateLimit) Cleanup() int {
	iprl.mu.Lock()
	defer iprl.mu.Unlock()

	now := iprl.now()
	removed := 0
	for ip, entry := range iprl.limiters {
		if now.Sub(entry.lastSeen) > iprl.maxIdle {
			delete(iprl.limiters, ip)
			removed++
		}
	}
	return removed
}

// Len: number of tracked IPs
func (iprl *IPRateLimit) Len() int {
	iprl.mu.Lock()
	defer iprl.mu.Unlock()

	return len(iprl.limiters)
}

// Serve runs Cleanup every 15 minutes until ctx is done.
func (iprl *IPRateLimit) Serve(ctx context.Context) error {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			iprl.Cleanup()
		}
	}
}

func (iprl *IPRateLimit) String() string {
	return "ip-limiter-cleanup"
}
