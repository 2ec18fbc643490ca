// Package audit writes the append-only, privacy-scrubbed record of sync
// runs. Engines only ever write here; nothing reads it back for control
// flow. Calendar ids are stored hashed and no entry or event content is
// ever persisted.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/journalbridge/journalbridge/internal/store"
)

// HashCalendarID returns the first 8 hex characters of the SHA-256 of a
// calendar id. This is what lands in the audit log instead of the raw id.
func HashCalendarID(calendarID string) string {
	sum := sha256.Sum256([]byte(calendarID))
	return hex.EncodeToString(sum[:])[:8]
}

// Logger appends scrubbed audit records.
type Logger struct {
	store *store.Store
}

// NewLogger creates an audit logger backed by the store.
func NewLogger(st *store.Store) *Logger {
	return &Logger{store: st}
}

// Record scrubs and appends one audit record. calendarID is the raw id; it
// is hashed before persisting. Audit failures are logged, never propagated:
// observability must not break a sync run.
func (l *Logger) Record(calendarID string, rec *store.AuditRecord) {
	rec.CalendarHash = HashCalendarID(calendarID)
	if err := l.store.InsertAuditRecord(rec); err != nil {
		log.Printf("Failed to write audit record: %v", err)
	}
}

// ExportJSON returns the most recent audit records as a JSON document for
// diagnostics.
func (l *Logger) ExportJSON(limit int) ([]byte, error) {
	records, err := l.store.ListAuditRecords(limit)
	if err != nil {
		return nil, fmt.Errorf("failed to export audit records: %w", err)
	}
	if records == nil {
		records = []*store.AuditRecord{}
	}
	return json.MarshalIndent(records, "", "  ")
}

// Prune removes records older than the retention window and returns the
// number removed.
func (l *Logger) Prune(retention time.Duration) (int, error) {
	return l.store.DeleteAuditRecordsBefore(time.Now().Add(-retention))
}
