package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InsertAuditRecord appends a sync audit row. The table is append-only;
// nothing in the engine reads it back for control flow.
func (s *Store) InsertAuditRecord(rec *AuditRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO audit_records (id, started_at, ended_at, sync_type, calendar_hash,
		updated_count, deleted_count, skipped_count, conflict_count,
		had_410_fallback, had_429_retry, http_status, error_type, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.conn.Exec(query, rec.ID, rec.StartedAt.UTC(), rec.EndedAt.UTC(),
		rec.SyncType, rec.CalendarHash,
		rec.UpdatedCount, rec.DeletedCount, rec.SkippedCount, rec.ConflictCount,
		rec.Had410Fallback, rec.Had429Retry,
		rec.HTTPStatus, rec.ErrorType, rec.ErrorMessage, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// ListAuditRecords returns the most recent audit rows, newest first.
func (s *Store) ListAuditRecords(limit int) ([]*AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.conn.Query(`SELECT id, started_at, ended_at, sync_type, calendar_hash,
		updated_count, deleted_count, skipped_count, conflict_count,
		had_410_fallback, had_429_retry, http_status, error_type, error_message, created_at
		FROM audit_records ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer rows.Close()

	var records []*AuditRecord
	for rows.Next() {
		rec := &AuditRecord{}
		err := rows.Scan(&rec.ID, &rec.StartedAt, &rec.EndedAt, &rec.SyncType,
			&rec.CalendarHash, &rec.UpdatedCount, &rec.DeletedCount,
			&rec.SkippedCount, &rec.ConflictCount,
			&rec.Had410Fallback, &rec.Had429Retry,
			&rec.HTTPStatus, &rec.ErrorType, &rec.ErrorMessage, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteAuditRecordsBefore prunes audit rows older than the cutoff and
// returns the number removed.
func (s *Store) DeleteAuditRecordsBefore(cutoff time.Time) (int, error) {
	res, err := s.conn.Exec(`DELETE FROM audit_records WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned audit records: %w", err)
	}
	return int(n), nil
}
