// Package logging holds the process logger. Components take a child logger
// once, at construction, with WithComponent.
//
//	logging.Init(logging.Config{Level: "debug", Format: "console"})
//	log := logging.WithComponent("writeback")
//	log.Info().Str("room", name).Msg("flushed")
package logging

import (
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	// Level: trace, debug, info, warn (or warning), error, fatal, disabled
	Level string
	// Format is json or console
	Format string
	// Caller adds file:line to every entry
	Caller bool
	// Output defaults to os.Stderr
	Output io.Writer
}

func DefaultConfig() Config {
	return Config{Level: "info", Format: "json"}
}

var current atomic.Pointer[zerolog.Logger]

//nolint:gochecknoinits // packages log before main calls Init
func init() {
	Init(DefaultConfig())
}

// Init replaces the process logger. Component loggers taken earlier keep
// their old settings.
func Init(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}

	ctx := zerolog.New(out).Level(parseLevel(cfg.Level)).With().Timestamp()
	if cfg.Caller {
		ctx = ctx.Caller()
	}
	l := ctx.Logger()
	current.Store(&l)
}

func parseLevel(s string) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		return zerolog.WarnLevel
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Logger returns a copy of the process logger.
func Logger() zerolog.Logger {
	return *current.Load()
}

// WithComponent returns a child logger tagged with a component field.
func WithComponent(name string) zerolog.Logger {
	return current.Load().With().Str("component", name).Logger()
}

func Info() *zerolog.Event { return current.Load().Info() }
func Warn() *zerolog.Event { return current.Load().Warn() }
func Error() *zerolog.Event { return current.Load().Error() }
