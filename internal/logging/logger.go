// Package logging configures runtime JSONL logging output.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	appDir  = "earshot"
	logFile = "log.jsonl"

	// DefaultMaxBytes caps the active log before it is rotated on startup.
	DefaultMaxBytes int64 = 5 << 20
)

// Options tunes the runtime logger.
type Options struct {
	// Debug lowers the level to Debug, which includes per-sample level logs.
	Debug bool
	// Component, when set, is attached to every record.
	Component string
	// MaxBytes overrides DefaultMaxBytes; negative disables rotation.
	MaxBytes int64
}

// Runtime owns the logger and the file behind it.
type Runtime struct {
	Logger *slog.Logger
	Path   string
	closer io.Closer
}

// Close closes the log file.
func (r Runtime) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// New opens StateDir()/log.jsonl for append. An oversized log from earlier
// runs is moved to log.jsonl.1 first, replacing any older backup.
func New(opts Options) (Runtime, error) {
	dir, err := StateDir()
	if err != nil {
		return Runtime{}, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Runtime{}, fmt.Errorf("create log dir: %w", err)
	}

	path := filepath.Join(dir, logFile)
	limit := opts.MaxBytes
	if limit == 0 {
		limit = DefaultMaxBytes
	}
	if limit > 0 {
		if err := rotate(path, limit); err != nil {
			return Runtime{}, err
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return Runtime{}, fmt.Errorf("open log: %w", err)
	}

	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level})).
		With("pid", os.Getpid())
	if opts.Component != "" {
		logger = logger.With("component", opts.Component)
	}
	return Runtime{Logger: logger, Path: path, closer: f}, nil
}

func rotate(path string, limit int64) error {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat log: %w", err)
	}
	if info.Size() < limit {
		return nil
	}
	if err := os.Rename(path, path+".1"); err != nil {
		return fmt.Errorf("rotate log: %w", err)
	}
	return nil
}

// StateDir is $XDG_STATE_HOME/earshot, falling back to ~/.local/state/earshot.
// The log, gate preferences, and history database live here.
func StateDir() (string, error) {
	if xdg := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); xdg != "" {
		return filepath.Join(xdg, appDir), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve state dir: %w", err)
	}
	return filepath.Join(home, ".local", "state", appDir), nil
}
