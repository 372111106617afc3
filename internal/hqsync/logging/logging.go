// Package logging sets up the sync agent's slog.Logger: a colorized
// tint console handler plus a plain-text file handler, fanned out by
// multiHandler. Grounded on the teacher's cmd/client/main.go logging
// setup (tint for the terminal, go-isatty to detect whether to emit
// color, a text handler for the log file) and utils.MultiLogHandler
// for combining the two.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// Config controls where and how verbosely the agent logs.
type Config struct {
	// LogFilePath is the plain-text log file. Empty disables file logging.
	LogFilePath string
	// Level is the minimum level emitted to both handlers.
	Level slog.Level
	// Console, when non-nil, overrides the console writer (tests use this
	// to capture output instead of writing to the real stdout).
	Console io.Writer
}

// WithDefaults fills unset fields: info level, stdout console.
func (c Config) WithDefaults() Config {
	if c.Console == nil {
		c.Console = os.Stdout
	}
	return c
}

// Setup builds a *slog.Logger per cfg and installs it as slog's
// default. Returns a closer that flushes and closes the log file, if
// one was opened; callers should defer it.
func Setup(cfg Config) (*slog.Logger, func() error, error) {
	cfg = cfg.WithDefaults()

	isTerminal := false
	if f, ok := cfg.Console.(*os.File); ok {
		isTerminal = isatty.IsTerminal(f.Fd())
	}

	consoleHandler := tint.NewHandler(cfg.Console, &tint.Options{
		Level:      cfg.Level,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isTerminal,
	})

	handlers := []slog.Handler{consoleHandler}

	closer := func() error { return nil }

	if cfg.LogFilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFilePath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("logging: create log dir: %w", err)
		}
		file, err := os.OpenFile(cfg.LogFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("logging: open log file: %w", err)
		}

		fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{
			Level: cfg.Level,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey && len(groups) == 0 {
					return slog.Attr{Key: slog.TimeKey, Value: slog.StringValue(time.Now().UTC().Format(time.RFC3339))}
				}
				return a
			},
		})
		handlers = append(handlers, fileHandler)
		closer = file.Close
	}

	logger := slog.New(newMultiHandler(handlers...))
	slog.SetDefault(logger)

	return logger, closer, nil
}
