package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/journalbridge/journalbridge/internal/audit"
	"github.com/journalbridge/journalbridge/internal/calapi"
	"github.com/journalbridge/journalbridge/internal/retry"
	"github.com/journalbridge/journalbridge/internal/store"
)

// defaultEventDuration is used for the remote end time; journal entries are
// point-in-time and the remote model wants a range.
const defaultEventDuration = time.Hour

// PushEngine pushes locally authored or edited entries to the remote
// service. Pushes are idempotent: linked entries update in place, and a
// failure leaves the pending flag untouched so the operation can be retried
// without side effects.
type PushEngine struct {
	store  *store.Store
	client *calapi.Client
	retry  *retry.Executor
	audit  *audit.Logger

	// defaultCalendarID receives entries that have never been pushed when
	// the caller does not name a target.
	defaultCalendarID string
}

// NewPushEngine creates a push engine.
func NewPushEngine(st *store.Store, client *calapi.Client, exec *retry.Executor, auditLog *audit.Logger, defaultCalendarID string) *PushEngine {
	return &PushEngine{
		store:             st,
		client:            client,
		retry:             exec,
		audit:             auditLog,
		defaultCalendarID: defaultCalendarID,
	}
}

// PushEntry pushes one entry. If the entry is linked the push is an update
// keyed on the linked ids; otherwise it inserts into targetCalendarID (or
// the default calendar). An already-synced entry is a no-op. On success the
// link fields advance to the remote's returned values and the pending flag
// clears; on failure the flag stays set.
func (p *PushEngine) PushEntry(ctx context.Context, entryID, targetCalendarID string) error {
	entry, err := p.store.GetEntryByID(entryID)
	if err != nil {
		return classifyStore(err)
	}
	if !entry.NeedsRemoteSync {
		return nil
	}
	_, err = p.push(ctx, entry, targetCalendarID)
	return err
}

// push performs the insert-or-update for one pending entry and returns the
// calendar it landed on.
func (p *PushEngine) push(ctx context.Context, entry *store.Entry, targetCalendarID string) (string, error) {
	event := &calapi.Event{
		Summary:     entry.Title,
		Description: entry.Body,
		Status:      calapi.StatusConfirmed,
		Start:       &calapi.EventTime{DateTime: entry.EventDate.UTC()},
		End:         &calapi.EventTime{DateTime: entry.EventDate.UTC().Add(defaultEventDuration)},
	}
	// The back-reference lets the pull side recognize this event when it
	// round-trips.
	event.SetEntryRef(entry.ID)

	calendarID := targetCalendarID
	if entry.IsLinked() {
		calendarID = *entry.LinkedCalendarID
	} else if calendarID == "" {
		calendarID = p.defaultCalendarID
	}
	if calendarID == "" {
		return "", fmt.Errorf("no target calendar for unlinked entry %s", entry.ID)
	}

	op := func(ctx context.Context) (any, error) {
		if entry.IsLinked() {
			return p.client.UpdateEvent(ctx, calendarID, *entry.LinkedEventID, event)
		}
		return p.client.InsertEvent(ctx, calendarID, event)
	}

	// Pushes for one entry are serialized on the entry id. A concurrent
	// caller becomes a follower and receives the leader's stored event, so
	// both persist the same link state.
	val, err := p.retry.DoValue(ctx, "push:"+entry.ID, retry.PolicyDefault, op, nil)
	if err != nil {
		// The pending flag stays set; a later push retries safely.
		return calendarID, classify(err)
	}
	stored, ok := val.(*calapi.Event)
	if !ok || stored == nil {
		return calendarID, fmt.Errorf("push for entry %s returned no event", entry.ID)
	}

	remoteUpdated := stored.Updated
	if remoteUpdated.IsZero() {
		remoteUpdated = time.Now().UTC()
	}
	if err := p.store.MarkEntrySynced(entry.ID, calendarID, stored.ID, remoteUpdated); err != nil {
		return calendarID, classifyStore(err)
	}
	return calendarID, nil
}

// PushSummary reports the outcome of a pending drain.
type PushSummary struct {
	Pushed int `json:"pushed"`
	Failed int `json:"failed"`
}

// ResendPending drains every pending entry sequentially. A failing entry is
// logged and skipped; it stays pending and does not block the rest. One
// audit record covers the run.
func (p *PushEngine) ResendPending(ctx context.Context) (*PushSummary, error) {
	started := time.Now().UTC()
	summary := &PushSummary{}

	entries, err := p.store.ListPendingEntries()
	if err != nil {
		return summary, classifyStore(err)
	}

	var lastErr error
	lastCalendar := p.defaultCalendarID
	for _, entry := range entries {
		if ctx.Err() != nil {
			lastErr = ErrCancelled
			break
		}
		calendarID, err := p.push(ctx, entry, "")
		if err != nil {
			log.Printf("Push failed for entry %s: %v", entry.ID, err)
			summary.Failed++
			lastErr = err
			continue
		}
		summary.Pushed++
		if calendarID != "" {
			lastCalendar = calendarID
		}
	}

	rec := &store.AuditRecord{
		StartedAt:    started,
		EndedAt:      time.Now().UTC(),
		SyncType:     store.SyncTypePush,
		UpdatedCount: summary.Pushed,
		SkippedCount: summary.Failed,
	}
	if lastErr != nil && !errors.Is(lastErr, ErrCancelled) {
		setAuditError(rec, lastErr)
	}
	p.audit.Record(lastCalendar, rec)

	if errors.Is(lastErr, ErrCancelled) {
		return summary, ErrCancelled
	}
	return summary, nil
}
