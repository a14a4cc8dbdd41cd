// Package logger is the hub's structured logging layer over slog. Every
// subsystem (repo service, commit pipeline, LFS, git bridge) receives a
// *Logger at construction and tags its records with key-value pairs such as
// repo, revision and oid, so one JSON stream can be filtered per repository.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger. The embedded methods (Debug, Info, Warn, Error)
// are the whole logging API of the hub.
type Logger struct {
	*slog.Logger
}

// Config selects the output shape. Level and Format come from the app
// configuration; Output defaults to stdout.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, text
	Output io.Writer
}

// DefaultConfig is JSON at info level on stdout, the shape the hub runs with
// in production.
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: "json",
		Output: os.Stdout,
	}
}

// New creates a Logger. A nil config gets DefaultConfig. Debug level also
// turns on source locations, which the other levels omit to keep records
// small.
func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}

	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(cfg.Output, opts)
	default:
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}

	return &Logger{Logger: slog.New(handler)}
}

// parseLevel maps a config string to a slog level. Unknown values fall back
// to info rather than failing startup.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a Logger that tags every record with the given pairs. Services
// use it to pin their component name once at construction.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Err is the conventional attribute for an error value.
func Err(err error) slog.Attr {
	return slog.Any("error", err)
}
