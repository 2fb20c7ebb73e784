// Package history persists submitted commands so the UI can offer
// cross-session history and autocomplete seeds.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one recorded command submission.
type Entry struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Command   string    `json:"command"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is a sqlite-backed command log.
type Store struct {
	conn *sql.DB
}

// Open creates (if needed) and migrates the history database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history: database path cannot be empty")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("history: create database directory %q: %w", dir, err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open database at %q: %w", path, err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("history: ping database: %w", err)
	}

	if err := migrate(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &Store{conn: conn}, nil
}

func migrate(ctx context.Context, conn *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS commands (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	command    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_commands_session ON commands(session_id, id);
`
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("history: run migrations: %w", err)
	}
	return nil
}

// Record appends one submitted command.
func (s *Store) Record(ctx context.Context, sessionID, command string) error {
	if sessionID == "" || command == "" {
		return fmt.Errorf("history: session id and command are required")
	}
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO commands (session_id, command, created_at) VALUES (?, ?, ?)`,
		sessionID, command, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("history: record command: %w", err)
	}
	return nil
}

// Recent returns the newest entries across all sessions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, session_id, command, created_at FROM commands ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("history: query recent: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// BySession returns the newest entries for one session, newest first.
func (s *Store) BySession(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, session_id, command, created_at FROM commands WHERE session_id = ? ORDER BY id DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("history: query session %q: %w", sessionID, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Command, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("history: scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate entries: %w", err)
	}
	return entries, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
