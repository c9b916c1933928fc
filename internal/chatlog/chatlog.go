// Package chatlog writes one JSON line per chat request to an append-only file.
// The file is write-only observability output and is never read back.
package chatlog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Entry is one chat request outcome. Exactly one of Reply and Reason is set.
type Entry struct {
	Time        time.Time
	SessionID   string
	Input       string
	Reply       string
	Reason      string
	Temperature float64
	MaxTokens   int
	Attempts    int
}

// Recorder accepts chat log entries.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// FileRecorder appends entries to a single O_APPEND handle. Each entry is encoded
// into one buffer and written with one write call, so records never interleave.
type FileRecorder struct {
	mu      sync.Mutex
	file    *os.File
	handler slog.Handler
}

// Open opens (or creates) the log file at path for appending.
func Open(path string) (*FileRecorder, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open chat log %s: %w", path, err)
	}

	return &FileRecorder{
		file:    file,
		handler: slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelInfo}),
	}, nil
}

// Record writes entry as a single JSON line.
func (r *FileRecorder) Record(ctx context.Context, entry Entry) error {
	level := slog.LevelInfo
	msg := "chat exchange"
	if entry.Reason != "" {
		level = slog.LevelWarn
		msg = "chat failure"
	}

	when := entry.Time
	if when.IsZero() {
		when = time.Now().UTC()
	}

	record := slog.NewRecord(when, level, msg, 0)
	record.AddAttrs(
		slog.String("session", entry.SessionID),
		slog.String("input", entry.Input),
	)
	if entry.Reason != "" {
		record.AddAttrs(slog.String("error", entry.Reason))
	} else {
		record.AddAttrs(slog.String("reply", entry.Reply))
	}
	if entry.Attempts > 0 {
		record.AddAttrs(
			slog.Int("attempts", entry.Attempts),
			slog.Float64("temperature", entry.Temperature),
			slog.Int("maxTokens", entry.MaxTokens),
		)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return os.ErrClosed
	}
	return r.handler.Handle(ctx, record)
}

// Close syncs and closes the file. Record fails after Close.
func (r *FileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	syncErr := r.file.Sync()
	closeErr := r.file.Close()
	r.file = nil
	if closeErr != nil {
		return closeErr
	}
	return syncErr
}

// Nop discards entries.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }
