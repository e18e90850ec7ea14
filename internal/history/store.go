// Package history keeps finalized transcripts in a local SQLite database.
package history

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rbright/earshot/internal/logging"
	"github.com/rbright/earshot/internal/session"
	_ "modernc.org/sqlite"
)

// FileName is the database file inside the state dir.
const FileName = "history.db"

// schemaVersion is the latest user_version. Bump it when adding migrations.
const schemaVersion = 1

// Entry is one finalized capture session.
type Entry struct {
	ID           string
	Transcript   string
	Language     string
	ErrorKind    string
	ErrorMessage string
	Restarts     int
	Segments     int
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Duration is the wall time the session spent capturing.
func (e Entry) Duration() time.Duration {
	return e.FinishedAt.Sub(e.StartedAt)
}

// FromResult converts a controller result into an unsaved entry.
func FromResult(res session.Result, language string) Entry {
	e := Entry{
		Transcript: res.Transcript,
		Language:   language,
		Restarts:   res.Restarts,
		Segments:   res.Segments,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
	if res.Err != nil {
		e.ErrorKind = string(res.Err.Kind)
		e.ErrorMessage = res.Err.Message
	}
	return e
}

// Store is safe for concurrent use.
type Store struct {
	db *sql.DB

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// DefaultPath resolves the database under the state dir.
func DefaultPath() (string, error) {
	dir, err := logging.StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Open creates or migrates the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if err := verifyWAL(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	_ = os.Chmod(path, 0o600)

	return &Store{db: db, entropy: ulid.Monotonic(rand.Reader, 0)}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save assigns an ID to e and inserts it.
func (s *Store) Save(ctx context.Context, e Entry) (Entry, error) {
	if e.FinishedAt.IsZero() {
		e.FinishedAt = time.Now()
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = e.FinishedAt
	}

	id, err := s.newID(e.FinishedAt)
	if err != nil {
		return Entry{}, err
	}
	e.ID = id

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transcripts (id, transcript, language, error_kind, error_message, restarts, segments, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Transcript, e.Language, e.ErrorKind, e.ErrorMessage, e.Restarts, e.Segments,
		e.StartedAt.UnixMilli(), e.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("insert transcript: %w", err)
	}
	return e, nil
}

// List returns up to limit entries, newest first. limit <= 0 means 20.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transcript, language, error_kind, error_message, restarts, segments, started_at, finished_at
		FROM transcripts
		ORDER BY finished_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var started, finished int64
		if err := rows.Scan(&e.ID, &e.Transcript, &e.Language, &e.ErrorKind, &e.ErrorMessage,
			&e.Restarts, &e.Segments, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		e.StartedAt = time.UnixMilli(started)
		e.FinishedAt = time.UnixMilli(finished)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) newID(at time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(at), s.entropy)
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id.String(), nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if version < 1 {
		const schema = `
		CREATE TABLE IF NOT EXISTS transcripts (
		  id            TEXT PRIMARY KEY,
		  transcript    TEXT NOT NULL,
		  language      TEXT NOT NULL DEFAULT '',
		  error_kind    TEXT NOT NULL DEFAULT '',
		  error_message TEXT NOT NULL DEFAULT '',
		  restarts      INTEGER NOT NULL DEFAULT 0,
		  segments      INTEGER NOT NULL DEFAULT 0,
		  started_at    INTEGER NOT NULL,
		  finished_at   INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_transcripts_finished ON transcripts(finished_at DESC);`
		if _, err := db.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("migration 1: %w", err)
		}
	}

	if version < schemaVersion {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d;", schemaVersion)); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
	}
	return nil
}

func verifyWAL(ctx context.Context, db *sql.DB) error {
	var mode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode;").Scan(&mode); err != nil {
		return fmt.Errorf("verify journal mode: %w", err)
	}
	if mode != "wal" {
		return fmt.Errorf("expected WAL journal mode, got %s", mode)
	}
	return nil
}
