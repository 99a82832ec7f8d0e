package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store is an append-only journal of inbound events, grouped into sessions.
// One session covers one daemon run. The synchronizer never reads it back on
// its own; replay is an explicit choice of transport.
type Store struct {
	db *sql.DB
}

// NewStore opens the SQLite journal at dbPath in WAL mode.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		label TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL -- unix milliseconds
	);

	-- journal_seq is the replay order; seq is the transport's own counter.
	CREATE TABLE IF NOT EXISTS events (
		journal_seq INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL UNIQUE,
		session_id TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
		event_type TEXT NOT NULL,
		seq INTEGER NOT NULL DEFAULT 0,
		ts_ingest DATETIME NOT NULL,
		payload JSON NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, journal_seq);
	CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at);
	`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create journal tables: %w", err)
	}

	return nil
}
