// Package logger provides the process-wide structured logger. Every string
// and error attribute is passed through redact before it is written.
package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/thetolkienblack/home-lab-automation/internal/pkg/redact"
)

var current atomic.Pointer[slog.Logger]

// Config holds logger configuration.
type Config struct {
	Level   slog.Level
	JSON    bool
	Verbose bool
	// Output defaults to os.Stderr so stdout stays free for command output.
	Output io.Writer
}

// Init replaces the global logger.
func Init(cfg Config) {
	level := cfg.Level
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   cfg.Verbose,
		ReplaceAttr: scrub,
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	l := slog.New(handler)
	current.Store(l)
	slog.SetDefault(l)
}

// scrub masks credentials in attribute values and trims source paths.
func scrub(_ []string, a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		return slog.String(a.Key, redact.String(a.Value.String()))
	case slog.KindAny:
		switch v := a.Value.Any().(type) {
		case error:
			return slog.String(a.Key, redact.Error(v))
		case *slog.Source:
			if v != nil {
				short := *v
				short.File = filepath.Base(v.File)
				return slog.Any(a.Key, &short)
			}
		}
	}
	return a
}

// Default returns the global logger, initializing it at INFO level on first use.
func Default() *slog.Logger {
	if l := current.Load(); l != nil {
		return l
	}
	Init(Config{Level: slog.LevelInfo})
	return current.Load()
}

// WithRunID returns a logger tagged with a migration run.
func WithRunID(runID string) *slog.Logger {
	return Default().With(slog.String("run_id", runID))
}

// ForService returns a logger tagged with a service and its engine.
func ForService(service, engine string, args ...any) *slog.Logger {
	return Default().With(slog.String("service", service), slog.String("engine", engine)).With(args...)
}

func Info(msg string, args ...any) {
	Default().Info(msg, args...)
}

func Debug(msg string, args ...any) {
	Default().Debug(msg, args...)
}

func Warn(msg string, args ...any) {
	Default().Warn(msg, args...)
}

// With returns a logger with additional attributes.
func With(args ...any) *slog.Logger {
	return Default().With(args...)
}
