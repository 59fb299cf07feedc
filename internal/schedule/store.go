// ============================================================================
// Pulse - Local Voice Assistant Daemon
// ============================================================================
//
// Package:     schedule
// Description: JSON snapshot persistence for scheduled events
// License:     MIT
// ============================================================================

package schedule

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/weirdtangent/pulse-os/pkg/core/logging"
)

// Store persists the full event set as one JSON document. Every write
// replaces the whole file atomically: the document is written to a temp file
// in the same directory and renamed over the real path, so a crash mid-write
// cannot corrupt the store.
type Store struct {
	path   string
	logger *logging.Logger
}

type storeDocument struct {
	Events []json.RawMessage `json:"events"`
}

// NewStore creates a store backed by the file at path
func NewStore(path string) *Store {
	return &Store{
		path:   path,
		logger: logging.New("schedule.store"),
	}
}

// Load reads all events from disk. A missing, unreadable or corrupt file is
// treated as an empty store; a single malformed record is skipped without
// aborting the rest.
func (s *Store) Load() []*Event {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Failed to read event store, starting empty", "path", s.path, "error", err)
		}
		return nil
	}

	var doc storeDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("Corrupt event store, starting empty", "path", s.path, "error", err)
		return nil
	}

	events := make([]*Event, 0, len(doc.Events))
	for i, raw := range doc.Events {
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			s.logger.Warn("Skipping malformed event record", "index", i, "error", err)
			continue
		}
		if ev.ID == "" || ev.Type == "" {
			s.logger.Warn("Skipping event record with missing identity", "index", i)
			continue
		}
		events = append(events, &ev)
	}

	return events
}

// Save writes the full event set to disk atomically
func (s *Store) Save(events []*Event) error {
	doc := storeDocument{Events: make([]json.RawMessage, 0, len(events))}
	for _, ev := range events {
		raw, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event %s: %w", ev.ID, err)
		}
		doc.Events = append(doc.Events, raw)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal event store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".events-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp store file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp store file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace event store: %w", err)
	}

	return nil
}
