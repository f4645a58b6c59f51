// Package logging configures zerolog for the tap.
//
// Logs always go to stderr by default: stdout carries the Singer message
// stream and must stay machine-readable.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger. Unknown levels fall back to info.
func Setup(cfg Config) zerolog.Logger {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ParseLevel converts a level name; "warning" is accepted for warn.
func ParseLevel(level LogLevel) (zerolog.Level, error) {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "info", "":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// CronLogger adapts a zerolog logger to the cron scheduler's logger
// interface (github.com/robfig/cron/v3 Logger).
type CronLogger struct {
	Logger zerolog.Logger
}

// Info logs scheduler events at debug level; they fire on every tick.
func (l CronLogger) Info(msg string, keysAndValues ...any) {
	withFields(l.Logger.Debug(), keysAndValues).Msg(msg)
}

// Error logs scheduler failures such as recovered panics.
func (l CronLogger) Error(err error, msg string, keysAndValues ...any) {
	withFields(l.Logger.Error().Err(err), keysAndValues).Msg(msg)
}

func withFields(e *zerolog.Event, keysAndValues []any) *zerolog.Event {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		e = e.Interface(key, keysAndValues[i+1])
	}
	return e
}

// Log Level Guidelines:
//
// Debug: page-level detail
//   - Page fetched (stream, page, records)
//   - Pagination complete, bookmark unchanged
//   - Worker lifecycle, scheduler ticks
//
// Info: run-level events
//   - Sync started/complete (run_id, duration)
//   - Stream sync started/complete (stream, bookmark, pages, records)
//   - Stopped at bookmark, bookmark committed
//   - Daemon startup/shutdown
//
// Warn: recoverable conditions
//   - Retry attempts, Retry-After penalties
//   - Child sync failed (before the run is aborted)
//
// Error: the run cannot continue
//   - Retries exhausted, client errors (401/403/404)
//   - Sync failed, state backend unavailable
//
// Context Fields:
//   - run_id: UUID of the sync run
//   - stream: stream name
//   - parent_id: parent record id of a child run
//   - endpoint: request path
//   - status_code: HTTP status code
//   - error_class: client, server, rate_limit, network
//   - page: 1-based page number within a run
//   - bookmark: replication start point
