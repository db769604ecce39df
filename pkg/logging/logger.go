// Package logging builds the application logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// Options selects where and how much to log.
type Options struct {
	// Level is debug, info, warn or error. Empty means info.
	Level string
	// File, when set, receives every record in addition to Console.
	File string
	// JSON switches the file handler to JSON lines.
	JSON bool
	// Console receives text records. Nil means stderr; io.Discard keeps the
	// terminal clean, e.g. while a full-screen UI runs.
	Console io.Writer
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

// New creates the application logger. It writes to stderr, away from the
// status output on stdout, and standardises the "error" key to "err". The
// returned closer releases the log file, if any.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	handlerOpts := &slog.HandlerOptions{Level: level, ReplaceAttr: replaceAttr}

	handlers := []slog.Handler{slog.NewTextHandler(console, handlerOpts)}
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		closer = f
		if opts.JSON {
			handlers = append(handlers, slog.NewJSONHandler(f, handlerOpts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(f, handlerOpts))
		}
	}
	return slog.New(slogmulti.Fanout(handlers...)), closer, nil
}

func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == "error" {
		a.Key = "err"
	}
	return a
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
