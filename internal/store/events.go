package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const eventColumns = `calendar_id, event_id, title, body, start_at, end_at,
	status, linked_entry_id, updated_at, cached_at`

// UpsertCachedEvent inserts or replaces a short-window cache row. Upserts are
// idempotent on (calendar_id, event_id) so re-applying a page after a partial
// failure never inflates counts.
func (s *Store) UpsertCachedEvent(ev *CachedEvent) error {
	return s.upsertEvent("cached_events", ev)
}

// DeleteCachedEvent removes a short-window cache row. Deleting a missing row
// is not an error.
func (s *Store) DeleteCachedEvent(calendarID, eventID string) error {
	_, err := s.conn.Exec(`DELETE FROM cached_events WHERE calendar_id = ? AND event_id = ?`,
		calendarID, eventID)
	if err != nil {
		return fmt.Errorf("failed to delete cached event: %w", err)
	}
	return nil
}

// GetCachedEvent returns one short-window cache row.
func (s *Store) GetCachedEvent(calendarID, eventID string) (*CachedEvent, error) {
	row := s.conn.QueryRow(`SELECT `+eventColumns+` FROM cached_events
		WHERE calendar_id = ? AND event_id = ?`, calendarID, eventID)
	return scanEvent(row)
}

// ListCachedEvents returns all short-window cache rows for a calendar,
// ordered by start time.
func (s *Store) ListCachedEvents(calendarID string) ([]*CachedEvent, error) {
	return s.listEvents(`SELECT `+eventColumns+` FROM cached_events
		WHERE calendar_id = ? ORDER BY start_at ASC`, calendarID)
}

// ListLinkedCachedEvents returns cached events that carry a back-reference to
// a local entry, across all calendars.
func (s *Store) ListLinkedCachedEvents() ([]*CachedEvent, error) {
	return s.listEvents(`SELECT ` + eventColumns + ` FROM cached_events
		WHERE linked_entry_id IS NOT NULL ORDER BY calendar_id, start_at ASC`)
}

// EvictCachedEventsOutside deletes cache rows whose start falls outside
// [from, to] and returns the number removed.
func (s *Store) EvictCachedEventsOutside(from, to time.Time) (int, error) {
	res, err := s.conn.Exec(`DELETE FROM cached_events WHERE start_at < ? OR start_at > ?`,
		from.UTC(), to.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to evict cached events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count evicted events: %w", err)
	}
	return int(n), nil
}

// CountCachedEvents returns the number of short-window cache rows.
func (s *Store) CountCachedEvents() (int, error) {
	return s.countRows("cached_events")
}

// UpsertArchivedEvent inserts or replaces a long-window archive row with the
// same idempotent upsert semantics as the short-window cache.
func (s *Store) UpsertArchivedEvent(ev *CachedEvent) error {
	return s.upsertEvent("archived_events", ev)
}

// DeleteArchivedEvent removes an archive row.
func (s *Store) DeleteArchivedEvent(calendarID, eventID string) error {
	_, err := s.conn.Exec(`DELETE FROM archived_events WHERE calendar_id = ? AND event_id = ?`,
		calendarID, eventID)
	if err != nil {
		return fmt.Errorf("failed to delete archived event: %w", err)
	}
	return nil
}

// GetArchivedEvent returns one archive row.
func (s *Store) GetArchivedEvent(calendarID, eventID string) (*CachedEvent, error) {
	row := s.conn.QueryRow(`SELECT `+eventColumns+` FROM archived_events
		WHERE calendar_id = ? AND event_id = ?`, calendarID, eventID)
	return scanEvent(row)
}

// ListArchivedEvents returns all archive rows for a calendar, ordered by
// start time.
func (s *Store) ListArchivedEvents(calendarID string) ([]*CachedEvent, error) {
	return s.listEvents(`SELECT `+eventColumns+` FROM archived_events
		WHERE calendar_id = ? ORDER BY start_at ASC`, calendarID)
}

// ListLinkedArchivedEvents returns archive rows carrying an entry
// back-reference.
func (s *Store) ListLinkedArchivedEvents() ([]*CachedEvent, error) {
	return s.listEvents(`SELECT ` + eventColumns + ` FROM archived_events
		WHERE linked_entry_id IS NOT NULL ORDER BY calendar_id, start_at ASC`)
}

// CountArchivedEvents returns the number of archive rows.
func (s *Store) CountArchivedEvents() (int, error) {
	return s.countRows("archived_events")
}

func (s *Store) upsertEvent(table string, ev *CachedEvent) error {
	if ev.CachedAt.IsZero() {
		ev.CachedAt = time.Now().UTC()
	}
	if ev.Status == "" {
		ev.Status = EventStatusConfirmed
	}
	query := `INSERT INTO ` + table + ` (calendar_id, event_id, title, body, start_at,
		end_at, status, linked_entry_id, updated_at, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(calendar_id, event_id) DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			start_at = excluded.start_at,
			end_at = excluded.end_at,
			status = excluded.status,
			linked_entry_id = excluded.linked_entry_id,
			updated_at = excluded.updated_at,
			cached_at = excluded.cached_at`
	_, err := s.conn.Exec(query, ev.CalendarID, ev.EventID, ev.Title, ev.Body,
		ev.StartAt.UTC(), nullableTime(ev.EndAt), ev.Status, ev.LinkedEntryID,
		ev.UpdatedAt.UTC(), ev.CachedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert %s row: %w", table, err)
	}
	return nil
}

func (s *Store) listEvents(query string, args ...any) ([]*CachedEvent, error) {
	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*CachedEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *Store) countRows(table string) (int, error) {
	var n int
	if err := s.conn.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

func scanEvent(row scanner) (*CachedEvent, error) {
	ev := &CachedEvent{}
	err := row.Scan(&ev.CalendarID, &ev.EventID, &ev.Title, &ev.Body,
		&ev.StartAt, &ev.EndAt, &ev.Status, &ev.LinkedEntryID,
		&ev.UpdatedAt, &ev.CachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}
	return ev, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
