// Package logx builds the process logger from the logging config section.
package logx

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/r9s-ai/proxy-unifier/pkg/config"
)

type Options struct {
	Level  string
	Format string
	File   string
	Rotate config.RotateConfig
	// Stderr defaults to os.Stderr.
	Stderr io.Writer
}

func OptionsFromConfig(c config.LoggingConfig) Options {
	return Options{Level: c.Level, Format: c.Format, File: c.File, Rotate: c.Rotate}
}

// New returns a logger and a close func that flushes and releases the sink.
func New(opts Options) (*zap.Logger, func() error, error) {
	level, err := zapcore.ParseLevel(strings.TrimSpace(opts.Level))
	if err != nil {
		return nil, nil, fmt.Errorf("logging.level: %w", err)
	}

	var (
		sink    zapcore.WriteSyncer
		closeFn = func() error { return nil }
		color   bool
	)
	switch {
	case opts.File != "" && opts.Rotate.Enabled:
		w, err := NewRotateWriter(RotateOptions{
			Path:       opts.File,
			MaxSizeMB:  opts.Rotate.MaxSizeMB,
			MaxBackups: opts.Rotate.MaxBackups,
			MaxAgeDays: opts.Rotate.MaxAgeDays,
			Compress:   opts.Rotate.Compress,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open rotating log %s: %w", opts.File, err)
		}
		sink, closeFn = w, w.Close
	case opts.File != "":
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("open log %s: %w", opts.File, err)
		}
		sink, closeFn = zapcore.AddSync(f), f.Close
	default:
		out := opts.Stderr
		if out == nil {
			out = os.Stderr
		}
		sink = zapcore.Lock(zapcore.AddSync(out))
		color = IsTerminal(out)
	}

	core := zapcore.NewCore(encoder(opts.Format, color), sink, level)
	log := zap.New(core, zap.ErrorOutput(zapcore.Lock(os.Stderr)))
	return log, func() error {
		_ = log.Sync()
		return closeFn()
	}, nil
}

func encoder(format string, color bool) zapcore.Encoder {
	if strings.EqualFold(format, "json") {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		return zapcore.NewJSONEncoder(cfg)
	}
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	if color {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return zapcore.NewConsoleEncoder(cfg)
}

// IsTerminal reports whether w is a character device such as an interactive shell.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
