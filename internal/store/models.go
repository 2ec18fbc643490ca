package store

import (
	"time"
)

// EventStatus represents the remote status of a calendar event.
type EventStatus string

const (
	EventStatusConfirmed EventStatus = "confirmed"
	EventStatusCancelled EventStatus = "cancelled"
)

// SyncType identifies what kind of sync run produced an audit record.
type SyncType string

const (
	SyncTypeIncremental SyncType = "incremental"
	SyncTypeFull        SyncType = "full"
	SyncTypeArchive     SyncType = "archive"
	SyncTypePush        SyncType = "push"
	SyncTypeReflect     SyncType = "reflect"
)

// Entry is a locally authored journal entry. An entry becomes linked to a
// remote event after its first successful push; LinkedEventUpdatedAt then
// holds the remote timestamp observed at the last successful sync and serves
// as the conflict baseline.
type Entry struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	EventDate time.Time `json:"event_date"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	LinkedCalendarID     *string    `json:"linked_calendar_id"`
	LinkedEventID        *string    `json:"linked_event_id"`
	LinkedEventUpdatedAt *time.Time `json:"linked_event_updated_at"`

	NeedsRemoteSync bool `json:"needs_remote_sync"`
	HasConflict     bool `json:"has_conflict"`

	// Conflict snapshot. Either all of these are set together with
	// HasConflict, or none are.
	ConflictRemoteTitle     *string    `json:"conflict_remote_title,omitempty"`
	ConflictRemoteBody      *string    `json:"conflict_remote_body,omitempty"`
	ConflictRemoteUpdatedAt *time.Time `json:"conflict_remote_updated_at,omitempty"`
	ConflictRemoteEventDate *time.Time `json:"conflict_remote_event_date,omitempty"`
	ConflictDetectedAt      *time.Time `json:"conflict_detected_at,omitempty"`
}

// IsLinked reports whether the entry has completed at least one push.
func (e *Entry) IsLinked() bool {
	return e.LinkedCalendarID != nil && e.LinkedEventID != nil
}

// CachedEvent is a remote event held in the rolling short-window cache.
// Rows are created, updated and deleted only by the pull engine.
type CachedEvent struct {
	CalendarID    string      `json:"calendar_id"`
	EventID       string      `json:"event_id"`
	Title         string      `json:"title"`
	Body          string      `json:"body"`
	StartAt       time.Time   `json:"start_at"`
	EndAt         *time.Time  `json:"end_at"`
	Status        EventStatus `json:"status"`
	LinkedEntryID *string     `json:"linked_entry_id"`
	UpdatedAt     time.Time   `json:"updated_at"`
	CachedAt      time.Time   `json:"cached_at"`
}

// Calendar describes a remote calendar and its incremental sync cursor.
type Calendar struct {
	CalendarID     string     `json:"calendar_id"`
	DisplayName    string     `json:"display_name"`
	Enabled        bool       `json:"enabled"`
	SyncToken      string     `json:"-"`
	LastListSyncAt *time.Time `json:"last_list_sync_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ArchiveCheckpoint records the highest completed import range for a calendar.
type ArchiveCheckpoint struct {
	CalendarID          string    `json:"calendar_id"`
	CompletedRangeIndex int       `json:"completed_range_index"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// AuditRecord is one privacy-scrubbed row describing a sync run. The calendar
// id is stored as CalendarHash (first 8 hex characters of its SHA-256); titles
// and bodies are never stored.
type AuditRecord struct {
	ID             string    `json:"id"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at"`
	SyncType       SyncType  `json:"sync_type"`
	CalendarHash   string    `json:"calendar_hash"`
	UpdatedCount   int       `json:"updated_count"`
	DeletedCount   int       `json:"deleted_count"`
	SkippedCount   int       `json:"skipped_count"`
	ConflictCount  int       `json:"conflict_count"`
	Had410Fallback bool      `json:"had_410_fallback"`
	Had429Retry    bool      `json:"had_429_retry"`
	HTTPStatus     *int      `json:"http_status,omitempty"`
	ErrorType      *string   `json:"error_type,omitempty"`
	ErrorMessage   *string   `json:"error_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
