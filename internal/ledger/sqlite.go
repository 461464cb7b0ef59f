package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a ledger backed by a single-table SQLite database. The
// primary key enforces one row per directory id.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(path string, opts ...Option) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS progress (
			id      TEXT PRIMARY KEY,
			state   TEXT NOT NULL,
			updated INTEGER NOT NULL,
			path    TEXT NOT NULL DEFAULT ''
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &SQLiteStore{db: db, path: path, logger: buildOptions(opts).logger}, nil
}

func (s *SQLiteStore) IsCompleted(id string) bool {
	var state string
	err := s.db.QueryRow("SELECT state FROM progress WHERE id = ?", id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return false
	}
	if err != nil {
		s.logger.Error("ledger lookup failed; treating directory as not completed",
			"id", id, "path", s.path, "error", err)
		return false
	}
	return State(state) == Completed
}

func (s *SQLiteStore) MarkInProgress(id, path string) error {
	return s.mark(id, path, InProgress)
}

func (s *SQLiteStore) MarkCompleted(id, path string) error {
	return s.mark(id, path, Completed)
}

func (s *SQLiteStore) mark(id, path string, state State) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO progress (id, state, updated, path) VALUES (?, ?, ?, ?)",
		id, string(state), now().Unix(), path,
	)
	if err != nil {
		return fmt.Errorf("mark %s %s: %w", id, state, err)
	}
	return nil
}

func (s *SQLiteStore) Reset() error {
	if _, err := s.db.Exec("DELETE FROM progress"); err != nil {
		return fmt.Errorf("reset ledger: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Records() (map[string]Record, error) {
	rows, err := s.db.Query("SELECT id, state, updated, path FROM progress")
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Record)
	for rows.Next() {
		var (
			rec     Record
			state   string
			updated int64
		)
		if err := rows.Scan(&rec.ID, &state, &updated, &rec.OriginalPath); err != nil {
			return nil, fmt.Errorf("scan ledger: %w", err)
		}
		rec.State = State(state)
		rec.Updated = time.Unix(updated, 0)
		out[rec.ID] = rec
	}
	return out, rows.Err()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
