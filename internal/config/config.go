// Package config loads server configuration from defaults, an optional YAML
// file and the environment, in that order of precedence.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mattfrayser/whiteboard-backend/internal/logging"
	"github.com/mattfrayser/whiteboard-backend/internal/middleware"
	"github.com/mattfrayser/whiteboard-backend/internal/store"
)

type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Store   StoreConfig   `koanf:"store"`
	Sync    SyncConfig    `koanf:"sync"`
	Limits  LimitsConfig  `koanf:"limits"`
	Logging LoggingConfig `koanf:"logging"`
}

type ServerConfig struct {
	Host      string `koanf:"host"`
	Port      int    `koanf:"port" validate:"min=1,max=65535"`
	StaticDir string `koanf:"static_dir"`
	// AllowedOrigins for websocket upgrades and CORS; "*" allows any
	AllowedOrigins  []string      `koanf:"allowed_origins"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	// CheckRequestsPerMinute limits the inspection endpoint per client IP
	CheckRequestsPerMinute int `koanf:"check_requests_per_minute" validate:"gte=0"`
}

type StoreConfig struct {
	Driver     string `koanf:"driver" validate:"oneof=memory badger"`
	Path       string `koanf:"path" validate:"required_if=Driver badger"`
	SyncWrites bool   `koanf:"sync_writes"`
	// Consecutive failures before the store breaker opens, and how long it stays open
	BreakerFailures uint32        `koanf:"breaker_failures" validate:"gte=1"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout" validate:"gt=0"`
}

type SyncConfig struct {
	// Debounce is the quiet period before a room is written back
	Debounce time.Duration `koanf:"debounce" validate:"gt=0"`
}

type LimitsConfig struct {
	MaxMessageSize       int           `koanf:"max_message_size" validate:"gte=0"`
	MessagesPerSecond    float64       `koanf:"messages_per_second" validate:"gte=0"`
	Burst                int           `koanf:"burst" validate:"gte=0"`
	MaxObjectDepth       int           `koanf:"max_object_depth" validate:"gte=0"`
	MaxObjectElements    int           `koanf:"max_object_elements" validate:"gte=0"`
	MaxObjectsPerSlide   int           `koanf:"max_objects_per_slide" validate:"gte=0"`
	CursorInterval       time.Duration `koanf:"cursor_interval" validate:"gte=0"`
	ConnectionsPerMinute int           `koanf:"connections_per_minute" validate:"gte=0"`
	ConnectionBurst      int           `koanf:"connection_burst" validate:"gte=0"`
	// Sanitize strips HTML from object string attributes
	Sanitize bool `koanf:"sanitize"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn warning error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                   "0.0.0.0",
			Port:                   3000,
			AllowedOrigins:         []string{"*"},
			ShutdownTimeout:        10 * time.Second,
			CheckRequestsPerMinute: 60,
		},
		Store: StoreConfig{
			Driver:          "badger",
			Path:            "data/rooms",
			BreakerFailures: 5,
			BreakerTimeout:  10 * time.Second,
		},
		Sync: SyncConfig{
			Debounce: time.Second,
		},
		Limits: LimitsConfig{
			MaxMessageSize:       512 * 1024,
			MessagesPerSecond:    60,
			Burst:                30,
			MaxObjectDepth:       10,
			MaxObjectElements:    1000,
			MaxObjectsPerSlide:   5000,
			ConnectionsPerMinute: 10,
			ConnectionBurst:      5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Addr: host:port to listen on
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// RateLimit: per-connection limits for the websocket transport
func (c *Config) RateLimit() *middleware.RateLimit {
	return &middleware.RateLimit{
		MaxMessageSize:     c.Limits.MaxMessageSize,
		MaxObjectDepth:     c.Limits.MaxObjectDepth,
		MaxObjectElements:  c.Limits.MaxObjectElements,
		MaxObjectsPerSlide: c.Limits.MaxObjectsPerSlide,
		MessagesPerSecond:  c.Limits.MessagesPerSecond,
		BurstSize:          c.Limits.Burst,
		CursorInterval:     c.Limits.CursorInterval,
	}
}

// IPRateLimit: connection limiter, or nil when disabled
func (c *Config) IPRateLimit() *middleware.IPRateLimit {
	if c.Limits.ConnectionsPerMinute <= 0 {
		return nil
	}
	return middleware.NewIPRateLimit(time.Minute/time.Duration(c.Limits.ConnectionsPerMinute), c.Limits.ConnectionBurst)
}

// Breaker: circuit breaker settings for the room store
func (c *Config) Breaker() store.BreakerConfig {
	cfg := store.DefaultBreakerConfig()
	cfg.FailureThreshold = c.Store.BreakerFailures
	cfg.Timeout = c.Store.BreakerTimeout
	return cfg
}

// Log: logger settings
func (c *Config) Log() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Logging.Level
	cfg.Format = c.Logging.Format
	cfg.Caller = c.Logging.Caller
	return cfg
}
