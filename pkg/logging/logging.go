// Package logging builds the process-wide slog handler.
package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MatusOllah/slogcolor"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kabili207/mesh-relay-node/pkg/config"
)

// ParseLevel maps a config level name to a slog level. Unknown names are info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup builds a logger for cfg, installs it as the slog default and returns
// it with a function that closes any log files.
func Setup(cfg config.LogSettings) (*slog.Logger, func() error, error) {
	level := ParseLevel(cfg.Level)

	outputs := cfg.Outputs
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	var (
		handlers []slog.Handler
		closers  []io.Closer
	)
	for _, out := range outputs {
		switch strings.ToLower(out) {
		case "stdout":
			handlers = append(handlers, newHandler(os.Stdout, cfg.Format, level))
		case "stderr":
			handlers = append(handlers, newHandler(os.Stderr, cfg.Format, level))
		default:
			if dir := filepath.Dir(out); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, nil, err
				}
			}
			lj := &lumberjack.Logger{
				Filename:   out,
				MaxSize:    max(cfg.MaxSizeMB, 1),
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAgeDays,
				Compress:   cfg.Compress,
			}
			closers = append(closers, lj)
			// Colour codes do not belong in files.
			format := cfg.Format
			if format == "color" {
				format = "text"
			}
			handlers = append(handlers, newHandler(lj, format, level))
		}
	}

	var h slog.Handler
	if len(handlers) == 1 {
		h = handlers[0]
	} else {
		h = fanout(handlers)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	closeFn := func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c.Close())
		}
		return errors.Join(errs...)
	}
	return logger, closeFn, nil
}

func newHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	switch format {
	case "json":
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	case "text":
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	default:
		opts := *slogcolor.DefaultOptions
		opts.Level = level
		opts.TimeFormat = time.DateTime
		return slogcolor.NewHandler(w, &opts)
	}
}

// fanout sends every record to all of its handlers.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
