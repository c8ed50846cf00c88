// Package store persists completed coaching sessions in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/teslashibe/go-cprcoach/pkg/summary"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

var (
	// ErrNotFound is returned when no session has the requested id.
	ErrNotFound = errors.New("store: session not found")

	// ErrDuplicate is returned when a session id is saved twice.
	ErrDuplicate = errors.New("store: session already exists")

	// ErrInvalid is returned for records that fail validation.
	ErrInvalid = errors.New("store: invalid session")
)

// Record is a saved session summary with its metadata.
type Record struct {
	SessionID          string    `json:"sessionId"`
	Mode               string    `json:"mode"`
	AvgBPM             float64   `json:"avgBPM"`
	ElbowLockedPercent float64   `json:"elbowLockedPercent"`
	CompressionCount   int       `json:"compressionCount"`
	Duration           float64   `json:"duration"` // seconds
	Score              int       `json:"score"`
	Date               string    `json:"date"` // "2026-02-21"
	Time               string    `json:"time"` // "14:30:00"
	Song               string    `json:"song,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
}

// NewRecord builds the record for a session that ended at endedAt.
func NewRecord(sessionID, mode, song string, s summary.Summary, endedAt time.Time) Record {
	return Record{
		SessionID:          sessionID,
		Mode:               mode,
		AvgBPM:             s.AvgBPM,
		ElbowLockedPercent: s.ElbowLockedPercent,
		CompressionCount:   s.CompressionCount,
		Duration:           s.DurationSeconds,
		Score:              s.Score,
		Date:               endedAt.Format(time.DateOnly),
		Time:               endedAt.Format(time.TimeOnly),
		Song:               song,
		CreatedAt:          endedAt,
	}
}

// Validate checks the fields the schema requires.
func (r Record) Validate() error {
	switch {
	case strings.TrimSpace(r.SessionID) == "":
		return fmt.Errorf("%w: sessionId is required", ErrInvalid)
	case r.Mode != "train" && r.Mode != "test":
		return fmt.Errorf("%w: mode must be train or test, got %q", ErrInvalid, r.Mode)
	case r.Date == "" || r.Time == "":
		return fmt.Errorf("%w: date and time are required", ErrInvalid)
	case r.Duration < 0 || r.CompressionCount < 0:
		return fmt.Errorf("%w: duration and compressionCount must be non-negative", ErrInvalid)
	}
	return nil
}

// Store is a SQLite-backed session repository. It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and runs migrations.
// Use MemoryPath for a throwaway database.
func Open(path string) (*Store, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("store: create data dir: %w", err)
		}
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	// Every pooled connection to :memory: would see its own empty database.
	if path == MemoryPath {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			session_id           TEXT PRIMARY KEY,
			mode                 TEXT NOT NULL CHECK (mode IN ('train', 'test')),
			avg_bpm              REAL NOT NULL,
			elbow_locked_percent REAL NOT NULL,
			compression_count    INTEGER NOT NULL,
			duration             REAL NOT NULL,
			score                INTEGER NOT NULL DEFAULT 0,
			date                 TEXT NOT NULL,
			time                 TEXT NOT NULL,
			song                 TEXT NOT NULL DEFAULT '',
			created_at           INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save inserts a new record. A zero CreatedAt is set to now.
func (s *Store) Save(ctx context.Context, r Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, mode, avg_bpm, elbow_locked_percent, compression_count,
			duration, score, date, time, song, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID, r.Mode, r.AvgBPM, r.ElbowLockedPercent, r.CompressionCount,
		r.Duration, r.Score, r.Date, r.Time, r.Song, r.CreatedAt.UnixNano(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrDuplicate, r.SessionID)
		}
		return fmt.Errorf("store: save session: %w", err)
	}
	return nil
}

const selectColumns = `session_id, mode, avg_bpm, elbow_locked_percent, compression_count,
	duration, score, date, time, song, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		r       Record
		created int64
	)
	err := row.Scan(&r.SessionID, &r.Mode, &r.AvgBPM, &r.ElbowLockedPercent, &r.CompressionCount,
		&r.Duration, &r.Score, &r.Date, &r.Time, &r.Song, &created)
	if err != nil {
		return Record{}, err
	}
	r.CreatedAt = time.Unix(0, created)
	return r, nil
}

// Get returns the record with the given session id.
func (s *Store) Get(ctx context.Context, sessionID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM sessions WHERE session_id = ?`, sessionID)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get session: %w", err)
	}
	return &r, nil
}

// List returns all records, newest first.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM sessions ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Delete removes a record and returns it.
func (s *Store) Delete(ctx context.Context, sessionID string) (*Record, error) {
	r, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return r, nil
}

// Count returns the number of saved sessions.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count sessions: %w", err)
	}
	return n, nil
}
