package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Keys used in the sync_state key/value table.
const (
	stateKeyLastSyncStart = "last_sync_start"
)

// GetState returns a raw state value, or ErrNotFound.
func (s *Store) GetState(key string) (string, error) {
	var value string
	err := s.conn.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get state %q: %w", key, err)
	}
	return value, nil
}

// SetState stores a raw state value.
func (s *Store) SetState(key, value string) error {
	query := `INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	_, err := s.conn.Exec(query, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set state %q: %w", key, err)
	}
	return nil
}

// GetLastSyncStart returns the persisted start time of the last accepted
// sync, or the zero time if none has run yet.
func (s *Store) GetLastSyncStart() (time.Time, error) {
	value, err := s.GetState(stateKeyLastSyncStart)
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse last sync start: %w", err)
	}
	return t, nil
}

// SetLastSyncStart persists the start time of an accepted sync.
func (s *Store) SetLastSyncStart(t time.Time) error {
	return s.SetState(stateKeyLastSyncStart, t.UTC().Format(time.RFC3339Nano))
}

// GetArchiveCheckpoint returns the highest completed range index for a
// calendar, or ErrNotFound if no batch has completed yet.
func (s *Store) GetArchiveCheckpoint(calendarID string) (*ArchiveCheckpoint, error) {
	cp := &ArchiveCheckpoint{}
	err := s.conn.QueryRow(`SELECT calendar_id, completed_range_index, updated_at
		FROM archive_checkpoints WHERE calendar_id = ?`, calendarID).
		Scan(&cp.CalendarID, &cp.CompletedRangeIndex, &cp.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get archive checkpoint: %w", err)
	}
	return cp, nil
}

// UpsertArchiveCheckpoint records the highest completed range for a calendar.
// Persisted after every batch so a cancelled or crashed import resumes at
// the next range instead of restarting.
func (s *Store) UpsertArchiveCheckpoint(calendarID string, rangeIndex int) error {
	query := `INSERT INTO archive_checkpoints (calendar_id, completed_range_index, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(calendar_id) DO UPDATE SET
			completed_range_index = excluded.completed_range_index,
			updated_at = excluded.updated_at`
	_, err := s.conn.Exec(query, calendarID, rangeIndex, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert archive checkpoint: %w", err)
	}
	return nil
}

// DeleteArchiveCheckpoints clears all archive progress, forcing the next
// import to start from the epoch.
func (s *Store) DeleteArchiveCheckpoints() error {
	_, err := s.conn.Exec(`DELETE FROM archive_checkpoints`)
	if err != nil {
		return fmt.Errorf("failed to delete archive checkpoints: %w", err)
	}
	return nil
}
