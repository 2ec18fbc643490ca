package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UpsertCalendar inserts or updates a calendar descriptor. The stored sync
// token is preserved on update; tokens move only via SetSyncToken and
// ClearSyncToken.
func (s *Store) UpsertCalendar(cal *Calendar) error {
	now := time.Now().UTC()
	if cal.CreatedAt.IsZero() {
		cal.CreatedAt = now
	}
	cal.UpdatedAt = now

	query := `INSERT INTO calendars (calendar_id, display_name, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(calendar_id) DO UPDATE SET
			display_name = excluded.display_name,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at`
	_, err := s.conn.Exec(query, cal.CalendarID, cal.DisplayName, cal.Enabled,
		cal.CreatedAt, cal.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert calendar: %w", err)
	}
	return nil
}

// GetCalendar returns a calendar descriptor by id.
func (s *Store) GetCalendar(calendarID string) (*Calendar, error) {
	row := s.conn.QueryRow(`SELECT calendar_id, display_name, enabled, sync_token,
		last_list_sync_at, created_at, updated_at FROM calendars WHERE calendar_id = ?`,
		calendarID)
	return scanCalendar(row)
}

// ListCalendars returns every known calendar, enabled or not.
func (s *Store) ListCalendars() ([]*Calendar, error) {
	rows, err := s.conn.Query(`SELECT calendar_id, display_name, enabled, sync_token,
		last_list_sync_at, created_at, updated_at FROM calendars
		ORDER BY display_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars: %w", err)
	}
	defer rows.Close()

	var cals []*Calendar
	for rows.Next() {
		cal, err := scanCalendar(rows)
		if err != nil {
			return nil, err
		}
		cals = append(cals, cal)
	}
	return cals, rows.Err()
}

// ListEnabledCalendars returns all calendars with sync enabled.
func (s *Store) ListEnabledCalendars() ([]*Calendar, error) {
	rows, err := s.conn.Query(`SELECT calendar_id, display_name, enabled, sync_token,
		last_list_sync_at, created_at, updated_at FROM calendars
		WHERE enabled = 1 ORDER BY display_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars: %w", err)
	}
	defer rows.Close()

	var cals []*Calendar
	for rows.Next() {
		cal, err := scanCalendar(rows)
		if err != nil {
			return nil, err
		}
		cals = append(cals, cal)
	}
	return cals, rows.Err()
}

// SetCalendarEnabled toggles sync for a calendar.
func (s *Store) SetCalendarEnabled(calendarID string, enabled bool) error {
	res, err := s.conn.Exec(`UPDATE calendars SET enabled = ?, updated_at = ? WHERE calendar_id = ?`,
		enabled, time.Now().UTC(), calendarID)
	if err != nil {
		return fmt.Errorf("failed to set calendar enabled: %w", err)
	}
	return requireRowAffected(res)
}

// SetSyncToken persists the incremental cursor for a calendar together with
// the time of the completed traversal.
func (s *Store) SetSyncToken(calendarID, token string, syncedAt time.Time) error {
	res, err := s.conn.Exec(`UPDATE calendars SET sync_token = ?, last_list_sync_at = ?,
		updated_at = ? WHERE calendar_id = ?`,
		token, syncedAt.UTC(), time.Now().UTC(), calendarID)
	if err != nil {
		return fmt.Errorf("failed to set sync token: %w", err)
	}
	return requireRowAffected(res)
}

// ClearSyncToken drops the incremental cursor, forcing the next pull to run
// as a full sync. Used after the remote reports the token expired.
func (s *Store) ClearSyncToken(calendarID string) error {
	res, err := s.conn.Exec(`UPDATE calendars SET sync_token = NULL, updated_at = ?
		WHERE calendar_id = ?`, time.Now().UTC(), calendarID)
	if err != nil {
		return fmt.Errorf("failed to clear sync token: %w", err)
	}
	return requireRowAffected(res)
}

func scanCalendar(row scanner) (*Calendar, error) {
	cal := &Calendar{}
	var token sql.NullString
	err := row.Scan(&cal.CalendarID, &cal.DisplayName, &cal.Enabled, &token,
		&cal.LastListSyncAt, &cal.CreatedAt, &cal.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan calendar: %w", err)
	}
	cal.SyncToken = token.String
	return cal, nil
}
