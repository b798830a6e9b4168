// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the slog logger shared by the CLI, the HTTP server
// and the export pipeline.
//
// The sink is "stderr", "stdout" or "file:<path>". Records are text
// formatted. Key material never reaches a logger: callers log identifiers,
// counts, sizes and error kinds only.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
)

// =============================================================================
// LEVELS
// =============================================================================

// ParseLevel maps a level name to a slog.Level. Unknown names fall back to
// info; "warning" is accepted for warn.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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

// =============================================================================
// LOGGER
// =============================================================================

// Logger is a *slog.Logger plus the sink it owns.
type Logger struct {
	*slog.Logger

	closer io.Closer
	once   sync.Once
	closed atomic.Bool
}

// Close releases the file sink, if any. Safe to call more than once.
func (l *Logger) Close() error {
	var err error
	l.once.Do(func() {
		if l.closer != nil {
			err = l.closer.Close()
		}
		l.closed.Store(true)
	})
	return err
}

// Closed reports whether Close has run.
func (l *Logger) Closed() bool {
	return l.closed.Load()
}

// New creates a text logger writing to sink at the given level.
func New(level, sink string) (*Logger, error) {
	w, closer, err := openSink(sink)
	if err != nil {
		return nil, err
	}
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})),
		closer: closer,
	}, nil
}

// NewWriter creates a text logger writing to w. Used by tests and by
// commands that log into an existing stream.
func NewWriter(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l
}

func openSink(sink string) (io.Writer, io.Closer, error) {
	switch {
	case sink == "" || sink == "stderr":
		return os.Stderr, nil, nil
	case sink == "stdout":
		return os.Stdout, nil, nil
	case strings.HasPrefix(sink, "file:"):
		path := strings.TrimPrefix(sink, "file:")
		if path == "" {
			return nil, nil, fmt.Errorf("log sink %q has no path", sink)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", path, err)
		}
		return f, f, nil
	default:
		return nil, nil, fmt.Errorf("unknown log sink %q", sink)
	}
}
