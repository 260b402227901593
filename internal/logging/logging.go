// Package logging wires zerolog the way every flare-im service does:
// JSON by default (Loki-friendly), pretty console output for local dev.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config controls logger construction.
type Config struct {
	Level  string // debug|info|warn|error
	Format string // json|pretty
}

// New builds a component-tagged zerolog.Logger per Config.
func New(component string, cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out = os.Stdout
	var logger zerolog.Logger
	if strings.ToLower(cfg.Format) == "pretty" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).
			With().Timestamp().Str("component", component).Logger()
	} else {
		logger = zerolog.New(out).With().Timestamp().Str("component", component).Logger()
	}
	return logger
}
