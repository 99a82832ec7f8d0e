package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arsdragonfly/fluxduct/pkg/events"
)

// ErrSessionNotFound is returned when a session id has no journal entry.
var ErrSessionNotFound = errors.New("session not found")

// SessionInfo describes one recorded session.
type SessionInfo struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	StartedAt time.Time `json:"started_at"`
	Events    int64     `json:"events"`
}

// Record is one journaled event.
type Record struct {
	JournalSeq int64        `json:"journal_seq"`
	EventID    string       `json:"event_id"`
	SessionID  string       `json:"session_id"`
	Event      events.Event `json:"event"`
}

// Session appends to a single session. It satisfies engine.Recorder.
type Session struct {
	store *Store
	id    string
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Record appends evt to the session.
func (s *Session) Record(ctx context.Context, evt events.Event) error {
	_, err := s.store.AppendEvent(ctx, s.id, evt)
	return err
}

// BeginSession starts a new session with a fresh id.
func (s *Store) BeginSession(ctx context.Context, label string) (*Session, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO sessions (session_id, label, started_at) VALUES (?, ?, ?)",
		id, label, time.Now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to begin session: %w", err)
	}
	return &Session{store: s, id: id}, nil
}

// AppendEvent writes evt to the journal and returns its journal sequence.
func (s *Store) AppendEvent(ctx context.Context, sessionID string, evt events.Event) (int64, error) {
	ts := evt.TsIngest
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	payload := []byte(evt.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, session_id, event_type, seq, ts_ingest, payload)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), sessionID, string(evt.Type), evt.Seq, ts, string(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to append %s event: %w", evt.Type, err)
	}
	return res.LastInsertId()
}

// ReadEvents returns up to limit events of a session whose journal sequence
// is greater than afterSeq, in journal order. A limit of zero or less reads
// everything.
func (s *Store) ReadEvents(ctx context.Context, sessionID string, afterSeq int64, limit int) ([]Record, error) {
	query := `SELECT journal_seq, event_id, session_id, event_type, seq, ts_ingest, payload
		FROM events WHERE session_id = ? AND journal_seq > ? ORDER BY journal_seq ASC`
	args := []any{sessionID, afterSeq}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec     Record
			evtType string
			payload string
		)
		if err := rows.Scan(&rec.JournalSeq, &rec.EventID, &rec.SessionID, &evtType, &rec.Event.Seq, &rec.Event.TsIngest, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		rec.Event.Type = events.Type(evtType)
		rec.Event.Payload = json.RawMessage(payload)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return out, nil
}

// Sessions lists sessions, newest first.
func (s *Store) Sessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.session_id, s.label, s.started_at, COUNT(e.journal_seq)
		FROM sessions s LEFT JOIN events e ON e.session_id = s.session_id
		GROUP BY s.session_id
		ORDER BY s.started_at DESC, s.rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var (
			info    SessionInfo
			started int64
		)
		if err := rows.Scan(&info.ID, &info.Label, &started, &info.Events); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		info.StartedAt = time.UnixMilli(started).UTC()
		out = append(out, info)
	}
	return out, rows.Err()
}

// LatestSession returns the id of the most recently started session.
func (s *Store) LatestSession(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		"SELECT session_id FROM sessions ORDER BY started_at DESC, rowid DESC LIMIT 1").Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query latest session: %w", err)
	}
	return id, nil
}

// HasSession reports whether id names a recorded session.
func (s *Store) HasSession(ctx context.Context, id string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions WHERE session_id = ?", id).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to query session: %w", err)
	}
	return n > 0, nil
}

// DeleteSessionsBefore removes sessions started before cutoff, except keep,
// together with their events. It returns the number of sessions removed.
func (s *Store) DeleteSessionsBefore(ctx context.Context, cutoff time.Time, keep string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Events are removed explicitly; foreign_keys is a per-connection pragma.
	const expired = "SELECT session_id FROM sessions WHERE started_at < ? AND session_id != ?"
	if _, err := tx.ExecContext(ctx, "DELETE FROM events WHERE session_id IN ("+expired+")", cutoff.UnixMilli(), keep); err != nil {
		return 0, fmt.Errorf("failed to delete events: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE started_at < ? AND session_id != ?", cutoff.UnixMilli(), keep)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}
	return n, nil
}
