// ============================================================================
// Pulse - Local Voice Assistant Daemon
// ============================================================================
//
// Package:     history
// Description: SQLite store for the firing history of scheduled events
// License:     MIT
// ============================================================================

package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/weirdtangent/pulse-os/pkg/core/logging"
)

// Firing is one recorded event transition (fired or stopped)
type Firing struct {
	ID        int64     `json:"id"`
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Label     string    `json:"label"`
	State     string    `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// Store persists firing history in SQLite
type Store struct {
	logger *logging.Logger
	db     *sql.DB
}

// NewStore opens (creating if needed) the history database at path
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	store := &Store{
		logger: logging.New("history"),
		db:     db,
	}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS firings (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id   TEXT NOT NULL,
		event_type TEXT NOT NULL,
		label      TEXT NOT NULL DEFAULT '',
		state      TEXT NOT NULL,
		reason     TEXT NOT NULL DEFAULT '',
		at         TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_firings_at ON firings(at);
	CREATE INDEX IF NOT EXISTS idx_firings_event ON firings(event_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record appends one firing row. Errors are logged, not returned, so a broken
// history database never interferes with event handling.
func (s *Store) Record(ctx context.Context, eventID string, eventType, label, state, reason string, at time.Time) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO firings (event_id, event_type, label, state, reason, at) VALUES (?, ?, ?, ?, ?, ?)`,
		eventID, eventType, label, state, reason, at.UTC())
	if err != nil {
		s.logger.Warn("Failed to record firing", "event", eventID, "error", err)
	}
}

// Recent returns the most recent firings, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]*Firing, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_id, event_type, label, state, reason, at
		 FROM firings ORDER BY at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query firings: %w", err)
	}
	defer rows.Close()

	var out []*Firing
	for rows.Next() {
		var f Firing
		if err := rows.Scan(&f.ID, &f.EventID, &f.EventType, &f.Label, &f.State, &f.Reason, &f.At); err != nil {
			return nil, fmt.Errorf("failed to scan firing row: %w", err)
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

// Prune removes rows older than the retention window and returns the count
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UTC()
	result, err := s.db.ExecContext(ctx, `DELETE FROM firings WHERE at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}
