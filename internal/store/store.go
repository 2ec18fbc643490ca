package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrDuplicate    = errors.New("duplicate record")
	ErrDatabaseInit = errors.New("database initialization failed")
	ErrNoConflict   = errors.New("entry has no conflict to resolve")
)

// Store represents the database connection.
type Store struct {
	conn *sql.DB
}

// Open creates a new database connection and initializes the schema.
func Open(dbPath string) (*Store, error) {
	// Ensure the directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("%w: failed to create directory: %w", ErrDatabaseInit, err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", ErrDatabaseInit, err)
	}

	// Limit the pool; SQLite serializes writers anyway and this keeps file
	// descriptor usage bounded.
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(0)
	conn.SetConnMaxIdleTime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: failed to set pragma: %w", ErrDatabaseInit, err)
		}
	}

	s := &Store{conn: conn}

	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// Conn returns the underlying database connection.
func (s *Store) Conn() *sql.DB {
	return s.conn
}

// Ping checks the database connection.
func (s *Store) Ping() error {
	return s.conn.Ping()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	migrations := []string{
		// Local journal entries, including remote link state, the pending
		// push flag and the conflict snapshot columns. The snapshot columns
		// are all-or-nothing together with has_conflict.
		`CREATE TABLE IF NOT EXISTS entries (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			body TEXT NOT NULL DEFAULT '',
			event_date DATETIME NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			linked_calendar_id TEXT,
			linked_event_id TEXT,
			linked_event_updated_at DATETIME,
			needs_remote_sync INTEGER NOT NULL DEFAULT 0,
			has_conflict INTEGER NOT NULL DEFAULT 0,
			conflict_remote_title TEXT,
			conflict_remote_body TEXT,
			conflict_remote_updated_at DATETIME,
			conflict_remote_event_date DATETIME,
			conflict_detected_at DATETIME
		)`,

		`CREATE INDEX IF NOT EXISTS idx_entries_needs_sync ON entries(needs_remote_sync)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_has_conflict ON entries(has_conflict)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_linked_event ON entries(linked_calendar_id, linked_event_id)`,

		// Short-window remote event cache, engine-owned.
		`CREATE TABLE IF NOT EXISTS cached_events (
			calendar_id TEXT NOT NULL,
			event_id TEXT NOT NULL,
			title TEXT NOT NULL,
			body TEXT NOT NULL DEFAULT '',
			start_at DATETIME NOT NULL,
			end_at DATETIME,
			status TEXT NOT NULL DEFAULT 'confirmed',
			linked_entry_id TEXT,
			updated_at DATETIME NOT NULL,
			cached_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (calendar_id, event_id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_cached_events_start ON cached_events(start_at)`,
		`CREATE INDEX IF NOT EXISTS idx_cached_events_linked ON cached_events(linked_entry_id)`,

		// Long-window archive cache, populated only by the archive importer.
		`CREATE TABLE IF NOT EXISTS archived_events (
			calendar_id TEXT NOT NULL,
			event_id TEXT NOT NULL,
			title TEXT NOT NULL,
			body TEXT NOT NULL DEFAULT '',
			start_at DATETIME NOT NULL,
			end_at DATETIME,
			status TEXT NOT NULL DEFAULT 'confirmed',
			linked_entry_id TEXT,
			updated_at DATETIME NOT NULL,
			cached_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (calendar_id, event_id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_archived_events_start ON archived_events(start_at)`,

		// Known calendars with their incremental sync cursor.
		`CREATE TABLE IF NOT EXISTS calendars (
			calendar_id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			sync_token TEXT,
			last_list_sync_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// Highest completed range per calendar for the archive importer.
		`CREATE TABLE IF NOT EXISTS archive_checkpoints (
			calendar_id TEXT PRIMARY KEY,
			completed_range_index INTEGER NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// Small key/value state: rate limiter timestamp and similar.
		`CREATE TABLE IF NOT EXISTS sync_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// Append-only audit records. Calendar ids are stored hashed; no
		// entry or event content ever lands here.
		`CREATE TABLE IF NOT EXISTS audit_records (
			id TEXT PRIMARY KEY,
			started_at DATETIME NOT NULL,
			ended_at DATETIME NOT NULL,
			sync_type TEXT NOT NULL,
			calendar_hash TEXT NOT NULL,
			updated_count INTEGER NOT NULL DEFAULT 0,
			deleted_count INTEGER NOT NULL DEFAULT 0,
			skipped_count INTEGER NOT NULL DEFAULT 0,
			conflict_count INTEGER NOT NULL DEFAULT 0,
			had_410_fallback INTEGER NOT NULL DEFAULT 0,
			had_429_retry INTEGER NOT NULL DEFAULT 0,
			http_status INTEGER,
			error_type TEXT,
			error_message TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_audit_records_created_at ON audit_records(created_at DESC)`,
	}

	for _, migration := range migrations {
		if _, err := s.conn.Exec(migration); err != nil {
			if !isDuplicateColumnError(err) {
				return fmt.Errorf("%w: migration failed: %w", ErrDatabaseInit, err)
			}
		}
	}

	return nil
}

// isDuplicateColumnError checks if the error is due to a duplicate column in ALTER TABLE.
func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "duplicate column") || strings.Contains(errStr, "already exists")
}
