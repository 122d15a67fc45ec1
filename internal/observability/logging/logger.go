// Package logging configures the process-wide zerolog logger and derives
// component, session and segment scoped children from it.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const serviceName = "live-speech-relay"

// Config holds logging configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	TimeFormat string
}

func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "json",
		TimeFormat: time.RFC3339,
	}
}

// Init builds a logger writing to stdout and installs it as the global
// logger. Unknown or empty levels fall back to info.
func Init(cfg Config) {
	log.Logger = New(cfg, os.Stdout)
}

// New builds a service logger writing to out and sets the global level.
func New(cfg Config, out io.Writer) zerolog.Logger {
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.RFC3339
	}
	zerolog.TimeFieldFormat = cfg.TimeFormat
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	return zerolog.New(out).
		With().
		Timestamp().
		Caller().
		Str("service", serviceName).
		Logger()
}

func parseLevel(s string) zerolog.Level {
	if s == "" {
		return zerolog.InfoLevel
	}
	level, err := zerolog.ParseLevel(s)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// Logger returns the global service logger.
func Logger() zerolog.Logger {
	return log.Logger
}

func WithComponent(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// WithSession tags the component logger with the relay session.
func WithSession(component, sessionID string) zerolog.Logger {
	return log.With().
		Str("component", component).
		Str("sessionId", sessionID).
		Logger()
}

// WithSegment additionally tags the recognition segment, which changes on
// every stream rotation.
func WithSegment(component, sessionID string, segmentID int64) zerolog.Logger {
	return log.With().
		Str("component", component).
		Str("sessionId", sessionID).
		Int64("segmentId", segmentID).
		Logger()
}
