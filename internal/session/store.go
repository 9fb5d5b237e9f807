package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	_ "modernc.org/sqlite"
)

var ErrRunNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    model TEXT NOT NULL,
    shadcn INTEGER NOT NULL DEFAULT 0,
    image_url TEXT NOT NULL,
    outcome TEXT NOT NULL,
    code_length INTEGER NOT NULL DEFAULT 0,
    error TEXT,
    started_at DATETIME NOT NULL,
    finished_at DATETIME NOT NULL,
    metadata_json TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_runs_model ON runs(model);
`

// Store persists generation run history. Session state itself is never
// stored.
type Store struct {
	db *sql.DB
}

func NewStore() (*Store, error) {
	return NewStoreWithPath(DefaultDBPath())
}

func NewStoreWithPath(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// DefaultDBPath is history.db under the user's XDG data directory.
func DefaultDBPath() string {
	return filepath.Join(xdg.DataHome, "buildfy", "history.db")
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) RecordRun(ctx context.Context, run *Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, model, shadcn, image_url, outcome, code_length, error, started_at, finished_at, metadata_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Model, run.UseComponentLibrary, run.ImageRef, string(run.Outcome),
		run.CodeLength, nullString(run.Error), run.StartedAt, run.FinishedAt, run.Metadata.ToJSON())
	return err
}

func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, model, shadcn, image_url, outcome, code_length, error, started_at, finished_at, metadata_json
		 FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// ListRuns returns the most recent runs first. A limit of zero or less
// returns all of them.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, model, shadcn, image_url, outcome, code_length, error, started_at, finished_at, metadata_json
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *Store) CountRuns(ctx context.Context, outcome RunOutcome) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM runs WHERE outcome = ?`, string(outcome)).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var outcome string
	var errText, metadataJSON sql.NullString
	err := row.Scan(&run.ID, &run.Model, &run.UseComponentLibrary, &run.ImageRef, &outcome,
		&run.CodeLength, &errText, &run.StartedAt, &run.FinishedAt, &metadataJSON)
	if err != nil {
		return nil, err
	}
	run.Outcome = RunOutcome(outcome)
	run.Error = errText.String
	run.Metadata = ParseRunMetadata(metadataJSON.String)
	return run, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func FormatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}
