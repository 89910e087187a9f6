// Package logging builds the process-wide zerolog logger. Output never goes
// to stdout, which carries the MCP protocol.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/schovi/devcontrol/internal/config"
)

// Init builds a logger from cfg, installs it as the global zerolog logger and
// returns it with a closer for the log file, if one was opened.
func Init(app string, cfg config.LoggingConfig) (zerolog.Logger, io.Closer, error) {
	out, closer, err := destination(cfg.File)
	if err != nil {
		return zerolog.Nop(), nil, err
	}
	logger, err := New(app, cfg, out)
	if err != nil {
		closer.Close()
		return zerolog.Nop(), nil, err
	}
	log.Logger = logger
	return logger, closer, nil
}

// New builds a logger writing to w.
func New(app string, cfg config.LoggingConfig, w io.Writer) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	switch cfg.Format {
	case "", "console":
		w = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
			NoColor:    cfg.File != "",
		}
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", cfg.Format)
	}

	return zerolog.New(w).Level(level).With().Timestamp().Str("app", app).Logger(), nil
}

func destination(file string) (io.Writer, io.Closer, error) {
	if file == "" {
		return os.Stderr, nopCloser{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return f, f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
