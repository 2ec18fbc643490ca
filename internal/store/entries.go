package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const entryColumns = `id, title, body, event_date, created_at, updated_at,
	linked_calendar_id, linked_event_id, linked_event_updated_at,
	needs_remote_sync, has_conflict,
	conflict_remote_title, conflict_remote_body, conflict_remote_updated_at,
	conflict_remote_event_date, conflict_detected_at`

// CreateEntry inserts a new journal entry. A new entry always starts out
// pending for push.
func (s *Store) CreateEntry(entry *Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = now
	}
	entry.NeedsRemoteSync = true

	query := `INSERT INTO entries (id, title, body, event_date, created_at, updated_at, needs_remote_sync)
		VALUES (?, ?, ?, ?, ?, ?, 1)`
	_, err := s.conn.Exec(query, entry.ID, entry.Title, entry.Body, entry.EventDate,
		entry.CreatedAt, entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create entry: %w", err)
	}
	return nil
}

// GetEntryByID returns an entry by its ID.
func (s *Store) GetEntryByID(id string) (*Entry, error) {
	row := s.conn.QueryRow(`SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)
	return scanEntry(row)
}

// UpdateEntryContent updates the user-editable fields of an entry and marks
// it pending for push.
func (s *Store) UpdateEntryContent(id, title, body string, eventDate time.Time) error {
	query := `UPDATE entries SET title = ?, body = ?, event_date = ?,
		updated_at = ?, needs_remote_sync = 1 WHERE id = ?`
	res, err := s.conn.Exec(query, title, body, eventDate, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update entry: %w", err)
	}
	return requireRowAffected(res)
}

// DeleteEntry removes an entry.
func (s *Store) DeleteEntry(id string) error {
	res, err := s.conn.Exec(`DELETE FROM entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	return requireRowAffected(res)
}

// ListEntries returns all entries, most recently updated first.
func (s *Store) ListEntries() ([]*Entry, error) {
	return s.listEntries(`SELECT ` + entryColumns + ` FROM entries
		ORDER BY updated_at DESC`)
}

// ListPendingEntries returns entries awaiting a push, oldest first.
func (s *Store) ListPendingEntries() ([]*Entry, error) {
	return s.listEntries(`SELECT ` + entryColumns + ` FROM entries
		WHERE needs_remote_sync = 1 ORDER BY updated_at ASC`)
}

// ListConflictedEntries returns entries whose conflicts await resolution.
func (s *Store) ListConflictedEntries() ([]*Entry, error) {
	return s.listEntries(`SELECT ` + entryColumns + ` FROM entries
		WHERE has_conflict = 1 ORDER BY conflict_detected_at ASC`)
}

// MarkEntrySynced records a successful push: link fields advance to the
// values returned by the remote call and the pending flag clears.
func (s *Store) MarkEntrySynced(id, calendarID, eventID string, remoteUpdatedAt time.Time) error {
	query := `UPDATE entries SET linked_calendar_id = ?, linked_event_id = ?,
		linked_event_updated_at = ?, needs_remote_sync = 0 WHERE id = ?`
	res, err := s.conn.Exec(query, calendarID, eventID, remoteUpdatedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark entry synced: %w", err)
	}
	return requireRowAffected(res)
}

// ApplyRemoteToEntry overwrites the entry's display fields from the remote
// version, advances the conflict baseline and clears any stale conflict.
func (s *Store) ApplyRemoteToEntry(id, title, body string, eventDate, remoteUpdatedAt time.Time) error {
	query := `UPDATE entries SET title = ?, body = ?, event_date = ?,
		linked_event_updated_at = ?, updated_at = ?,
		has_conflict = 0,
		conflict_remote_title = NULL, conflict_remote_body = NULL,
		conflict_remote_updated_at = NULL, conflict_remote_event_date = NULL,
		conflict_detected_at = NULL
		WHERE id = ?`
	res, err := s.conn.Exec(query, title, body, eventDate.UTC(), remoteUpdatedAt.UTC(),
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to apply remote version: %w", err)
	}
	return requireRowAffected(res)
}

// FlagEntryConflict marks an entry conflicted and stores the remote snapshot.
// The local title, body and date are left untouched.
func (s *Store) FlagEntryConflict(id, remoteTitle, remoteBody string, remoteEventDate, remoteUpdatedAt, detectedAt time.Time) error {
	query := `UPDATE entries SET has_conflict = 1,
		conflict_remote_title = ?, conflict_remote_body = ?,
		conflict_remote_updated_at = ?, conflict_remote_event_date = ?,
		conflict_detected_at = ?
		WHERE id = ?`
	res, err := s.conn.Exec(query, remoteTitle, remoteBody,
		remoteUpdatedAt.UTC(), remoteEventDate.UTC(), detectedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to flag conflict: %w", err)
	}
	return requireRowAffected(res)
}

// ClearEntryLink detaches an entry from its remote event. Used when the
// remote side cancelled the event; the local entry survives unlinked.
func (s *Store) ClearEntryLink(id string) error {
	query := `UPDATE entries SET linked_calendar_id = NULL, linked_event_id = NULL,
		linked_event_updated_at = NULL, needs_remote_sync = 0,
		has_conflict = 0,
		conflict_remote_title = NULL, conflict_remote_body = NULL,
		conflict_remote_updated_at = NULL, conflict_remote_event_date = NULL,
		conflict_detected_at = NULL
		WHERE id = ?`
	res, err := s.conn.Exec(query, id)
	if err != nil {
		return fmt.Errorf("failed to clear entry link: %w", err)
	}
	return requireRowAffected(res)
}

// ResolveConflictUseLocal keeps the local version: the conflict snapshot is
// discarded and the entry is queued for an overwriting push. Fails with
// ErrNoConflict if the entry is not conflicted.
func (s *Store) ResolveConflictUseLocal(id string) error {
	return s.inResolveTx(id, func(tx *sql.Tx) error {
		query := `UPDATE entries SET has_conflict = 0, needs_remote_sync = 1,
			conflict_remote_title = NULL, conflict_remote_body = NULL,
			conflict_remote_updated_at = NULL, conflict_remote_event_date = NULL,
			conflict_detected_at = NULL
			WHERE id = ?`
		_, err := tx.Exec(query, id)
		return err
	})
}

// ResolveConflictUseRemote keeps the remote version: title, body and date are
// overwritten from the conflict snapshot and the baseline advances to the
// snapshot's remote timestamp. Fails with ErrNoConflict if the entry is not
// conflicted.
func (s *Store) ResolveConflictUseRemote(id string) error {
	return s.inResolveTx(id, func(tx *sql.Tx) error {
		query := `UPDATE entries SET
			title = conflict_remote_title,
			body = conflict_remote_body,
			event_date = conflict_remote_event_date,
			linked_event_updated_at = conflict_remote_updated_at,
			updated_at = ?,
			has_conflict = 0, needs_remote_sync = 0,
			conflict_remote_title = NULL, conflict_remote_body = NULL,
			conflict_remote_updated_at = NULL, conflict_remote_event_date = NULL,
			conflict_detected_at = NULL
			WHERE id = ?`
		_, err := tx.Exec(query, time.Now().UTC(), id)
		return err
	})
}

// inResolveTx runs a resolution mutation after verifying the entry exists and
// is conflicted, all within one transaction.
func (s *Store) inResolveTx(id string, mutate func(tx *sql.Tx) error) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	var hasConflict bool
	err = tx.QueryRow(`SELECT has_conflict FROM entries WHERE id = ?`, id).Scan(&hasConflict)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load entry: %w", err)
	}
	if !hasConflict {
		return ErrNoConflict
	}

	if err := mutate(tx); err != nil {
		return fmt.Errorf("failed to resolve conflict: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit resolution: %w", err)
	}
	return nil
}

func (s *Store) listEntries(query string, args ...any) ([]*Entry, error) {
	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows for the scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	entry := &Entry{}
	err := row.Scan(
		&entry.ID, &entry.Title, &entry.Body, &entry.EventDate,
		&entry.CreatedAt, &entry.UpdatedAt,
		&entry.LinkedCalendarID, &entry.LinkedEventID, &entry.LinkedEventUpdatedAt,
		&entry.NeedsRemoteSync, &entry.HasConflict,
		&entry.ConflictRemoteTitle, &entry.ConflictRemoteBody,
		&entry.ConflictRemoteUpdatedAt, &entry.ConflictRemoteEventDate,
		&entry.ConflictDetectedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan entry: %w", err)
	}
	return entry, nil
}

func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
