// Package log wires zerolog for every service of the irrigation engine.
package log

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config captures options for the process-wide logger.
type Config struct {
	Level   string    // "debug", "info", ...; falls back to LOG_LEVEL
	Output  io.Writer // defaults to os.Stdout
	Service string    // attached to every entry
}

var (
	mu   sync.RWMutex
	base = zerolog.New(os.Stdout).With().Timestamp().Str("service", "irrigationd").Logger()
)

// Configure replaces the base logger. Components created afterwards pick
// up the new settings.
func Configure(cfg Config) {
	level := zerolog.InfoLevel
	lvl := cfg.Level
	if lvl == "" {
		lvl = os.Getenv("LOG_LEVEL")
	}
	if lvl != "" {
		if parsed, err := zerolog.ParseLevel(lvl); err == nil {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	service := cfg.Service
	if service == "" {
		service = "irrigationd"
	}

	mu.Lock()
	base = zerolog.New(out).With().Timestamp().Str("service", service).Logger()
	mu.Unlock()
}

// Base returns the configured base logger.
func Base() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// WithComponent returns a child logger annotated with the component name.
func WithComponent(component string) zerolog.Logger {
	return Base().With().Str("component", component).Logger()
}
