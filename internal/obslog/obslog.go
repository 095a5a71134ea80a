// Package obslog provides the structured zerolog-based logger every other
// package in this module depends on for its narrow Logger interface (Event,
// Debug, Info), grounded on the teacher's internal/logging package.
package obslog

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config configures a Logger.
type Config struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	// Default: info.
	Level string

	// Format is the output format: json or console. Default: json.
	Format string

	// Output is the writer log lines are written to. Default: os.Stderr.
	Output io.Writer
}

// DefaultConfig mirrors the teacher's logging.DefaultConfig defaults.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "json", Output: os.Stderr}
}

// Logger wraps a zerolog.Logger with the event-emission surface every
// reconciliation package (driver, pairs, applier, snapshot, ...) expects:
// a named structured Event, a Debug line for diagnostics not meant to reach
// the run's event stream, and a plain Info message.
type Logger struct {
	z   zerolog.Logger
	pub EventPublisher
}

// EventPublisher is the narrow publishing surface Logger accepts; no
// implementation of it exists in this module. Logger forwards every Event
// call to it in addition to writing the zerolog line, so a single call site
// can produce both an operator-facing log line and a machine-consumable
// event. Nil is a valid, no-op publisher.
type EventPublisher interface {
	Publish(name string, fields map[string]any)
}

// New builds a Logger from cfg. pub may be nil.
func New(cfg Config, pub EventPublisher) Logger {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.TimestampFieldName = "time"
	zerolog.LevelFieldName = "level"
	zerolog.MessageFieldName = "message"
	zerolog.ErrorFieldName = "error"

	output := cfg.Output
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: "15:04:05"}
	}

	z := zerolog.New(output).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()
	return Logger{z: z, pub: pub}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// With returns a child Logger carrying the given fields on every line.
func (l Logger) With(fields map[string]any) Logger {
	ctx := l.z.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return Logger{z: ctx.Logger(), pub: l.pub}
}

// Event logs name at info level with fields attached and, if a publisher is
// wired, forwards the same (name, fields) pair onto the event bus. This is
// the call site every package in §6.3's event taxonomy uses.
func (l Logger) Event(name string, fields map[string]any) {
	ev := l.z.Info().Str("event", name)
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(name)
	if l.pub != nil {
		l.pub.Publish(name, fields)
	}
}

// Debug logs a diagnostic line not meant to reach the event bus.
func (l Logger) Debug(event string, fields map[string]any) {
	ev := l.z.Debug().Str("event", event)
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(event)
}

// Info logs a plain operator-facing message.
func (l Logger) Info(msg string, fields map[string]any) {
	ev := l.z.Info()
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

// Warn logs a warning, used by the rate:low threshold check (§13 supplemented
// feature) and adapter degradation notices.
func (l Logger) Warn(msg string, fields map[string]any) {
	ev := l.z.Warn()
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

// Error logs a failure with its error attached.
func (l Logger) Error(msg string, err error, fields map[string]any) {
	ev := l.z.Error().Err(err)
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}
