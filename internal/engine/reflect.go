package engine

import (
	"errors"
	"log"
	"time"

	"github.com/journalbridge/journalbridge/internal/store"
)

// Reflector applies pulled remote deltas onto linked local entries and flags
// true conflicts for user resolution. It never touches the network.
type Reflector struct {
	store *store.Store
	// tolerance absorbs clock skew and near-simultaneous edits: the local
	// copy must be newer than the remote by more than this to count as a
	// conflict.
	tolerance time.Duration
}

// NewReflector creates a reflection engine.
func NewReflector(st *store.Store, tolerance time.Duration) *Reflector {
	return &Reflector{store: st, tolerance: tolerance}
}

// ReflectSummary reports what a reflection pass did.
type ReflectSummary struct {
	Applied      int `json:"applied"`
	Conflicts    int `json:"conflicts"`
	AutoResolved int `json:"auto_resolved"`
	Skipped      int `json:"skipped"`

	// ConflictsByCalendar attributes flagged conflicts to the calendar the
	// delta arrived from, for audit recording.
	ConflictsByCalendar map[string]int `json:"-"`
}

// Apply walks the deltas of a completed pull cycle. Remote cancellations
// auto-resolve by unlinking the entry; a detected conflict snapshots the
// remote version without overwriting local fields; everything else applies
// the remote version and advances the baseline.
func (r *Reflector) Apply(deltas []RemoteDelta) (*ReflectSummary, error) {
	summary := &ReflectSummary{}

	for _, delta := range deltas {
		if delta.EntryRef == "" {
			summary.Skipped++
			continue
		}

		entry, err := r.store.GetEntryByID(delta.EntryRef)
		if errors.Is(err, store.ErrNotFound) {
			// Back-reference to an entry that no longer exists locally.
			summary.Skipped++
			continue
		}
		if err != nil {
			return summary, classifyStore(err)
		}

		if delta.Cancelled {
			if err := r.store.ClearEntryLink(entry.ID); err != nil {
				return summary, classifyStore(err)
			}
			summary.AutoResolved++
			continue
		}

		if r.isConflict(entry, delta) {
			now := time.Now().UTC()
			err := r.store.FlagEntryConflict(entry.ID, delta.Title, delta.Body,
				delta.EventDate, delta.UpdatedAt, now)
			if err != nil {
				return summary, classifyStore(err)
			}
			summary.Conflicts++
			if summary.ConflictsByCalendar == nil {
				summary.ConflictsByCalendar = make(map[string]int)
			}
			summary.ConflictsByCalendar[delta.CalendarID]++
			continue
		}

		err = r.store.ApplyRemoteToEntry(entry.ID, delta.Title, delta.Body,
			delta.EventDate, delta.UpdatedAt)
		if err != nil {
			return summary, classifyStore(err)
		}
		summary.Applied++
	}

	if summary.Conflicts > 0 {
		log.Printf("Reflection flagged %d conflicts for resolution", summary.Conflicts)
	}
	return summary, nil
}

// isConflict is the conflict predicate: a baseline must exist (the entry has
// completed at least one successful sync) and the local copy must be newer
// than the remote copy by strictly more than the tolerance band.
func (r *Reflector) isConflict(entry *store.Entry, delta RemoteDelta) bool {
	if entry.LinkedEventUpdatedAt == nil {
		return false
	}
	return entry.UpdatedAt.Sub(delta.UpdatedAt) > r.tolerance
}
