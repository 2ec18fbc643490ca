package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/journalbridge/journalbridge/internal/audit"
	"github.com/journalbridge/journalbridge/internal/calapi"
	"github.com/journalbridge/journalbridge/internal/retry"
	"github.com/journalbridge/journalbridge/internal/store"
)

// maxConcurrentCalendars bounds how many calendars pull at once. Calendars
// touch disjoint cache partitions, so they may run concurrently; token
// writes for one calendar stay on its own goroutine.
const maxConcurrentCalendars = 4

// Window is the rolling sync window [From, To].
type Window struct {
	From time.Time
	To   time.Time
}

// WindowAround builds the short-window range around now.
func WindowAround(now time.Time, pastDays, futureDays int) Window {
	return Window{
		From: now.AddDate(0, 0, -pastDays),
		To:   now.AddDate(0, 0, futureDays),
	}
}

// SyncSummary aggregates the outcome of a sync cycle.
type SyncSummary struct {
	Updated   int `json:"updated"`
	Deleted   int `json:"deleted"`
	Skipped   int `json:"skipped"`
	Conflicts int `json:"conflicts"`
}

// RemoteDelta is one applied remote change handed to the reflection engine.
type RemoteDelta struct {
	CalendarID string
	EventID    string
	EntryRef   string
	Title      string
	Body       string
	EventDate  time.Time
	UpdatedAt  time.Time
	Cancelled  bool
}

// PullResult is the output of one pull cycle: the summary and the deltas the
// reflection engine applies onto linked entries.
type PullResult struct {
	Summary SyncSummary
	Deltas  []RemoteDelta
}

// PullEngine pulls remote calendars into the short-window cache, preferring
// incremental traversal via stored sync tokens and falling back to a full
// window sync when a token expires.
type PullEngine struct {
	store  *store.Store
	client *calapi.Client
	retry  *retry.Executor
	audit  *audit.Logger

	mu      sync.Mutex
	running bool
}

// NewPullEngine creates a pull engine.
func NewPullEngine(st *store.Store, client *calapi.Client, exec *retry.Executor, auditLog *audit.Logger) *PullEngine {
	return &PullEngine{
		store:  st,
		client: client,
		retry:  exec,
		audit:  auditLog,
	}
}

// tryStart claims the single pull cycle slot. Overlapping cycles are
// rejected, not queued.
func (p *PullEngine) tryStart() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return false
	}
	p.running = true
	return true
}

func (p *PullEngine) finish() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
}

// Running reports whether a pull cycle is currently in flight.
func (p *PullEngine) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// RunPullSync pulls every given calendar over the window. Calendars run
// concurrently; a calendar whose retries exhaust aborts only its own cycle
// and the others proceed. Returns ErrSyncInProgress if a cycle is already
// running.
func (p *PullEngine) RunPullSync(ctx context.Context, calendars []*store.Calendar, window Window) (*PullResult, error) {
	if !p.tryStart() {
		return nil, ErrSyncInProgress
	}
	defer p.finish()

	result := &PullResult{}
	var (
		resultMu sync.Mutex
		calErrs  []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentCalendars)

	for _, cal := range calendars {
		g.Go(func() error {
			calResult, err := p.syncCalendar(gctx, cal, window)

			resultMu.Lock()
			defer resultMu.Unlock()
			result.Summary.Updated += calResult.Summary.Updated
			result.Summary.Deleted += calResult.Summary.Deleted
			result.Summary.Skipped += calResult.Summary.Skipped
			result.Deltas = append(result.Deltas, calResult.Deltas...)
			if err != nil {
				log.Printf("Pull failed for calendar %s: %v", audit.HashCalendarID(cal.CalendarID), err)
				calErrs = append(calErrs, fmt.Errorf("calendar %s: %w", audit.HashCalendarID(cal.CalendarID), err))
			}
			// Per-calendar failures never abort the group.
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, err
	}
	return result, errors.Join(calErrs...)
}

// syncCalendar runs one calendar's pull: incremental when a token exists,
// otherwise a full window sync. A 410 on the incremental path clears the
// stored token and restarts as a full sync. Exactly one audit record is
// written per invocation.
func (p *PullEngine) syncCalendar(ctx context.Context, cal *store.Calendar, window Window) (*PullResult, error) {
	started := time.Now().UTC()
	rec := &store.AuditRecord{
		StartedAt: started,
		SyncType:  store.SyncTypeFull,
	}
	result := &PullResult{}

	var err error
	if cal.SyncToken != "" {
		rec.SyncType = store.SyncTypeIncremental
		err = p.traverse(ctx, cal, calapi.ListEventsRequest{
			CalendarID: cal.CalendarID,
			SyncToken:  cal.SyncToken,
		}, result, rec)

		if calapi.IsTokenExpired(err) {
			// Token expired: drop it and restart as a full sync over the
			// window. Idempotent upserts make the overlap safe.
			rec.Had410Fallback = true
			rec.SyncType = store.SyncTypeFull
			if clearErr := p.store.ClearSyncToken(cal.CalendarID); clearErr != nil {
				err = classifyStore(clearErr)
			} else {
				err = p.traverse(ctx, cal, calapi.ListEventsRequest{
					CalendarID: cal.CalendarID,
					TimeMin:    window.From,
					TimeMax:    window.To,
				}, result, rec)
			}
		}
	} else {
		err = p.traverse(ctx, cal, calapi.ListEventsRequest{
			CalendarID: cal.CalendarID,
			TimeMin:    window.From,
			TimeMax:    window.To,
		}, result, rec)
	}

	err = classify(err)

	rec.EndedAt = time.Now().UTC()
	rec.UpdatedCount = result.Summary.Updated
	rec.DeletedCount = result.Summary.Deleted
	rec.SkippedCount = result.Summary.Skipped
	if err != nil {
		setAuditError(rec, err)
	}
	p.audit.Record(cal.CalendarID, rec)

	return result, err
}

// traverse walks all pages of an events.list call, applying each page to the
// cache immediately so partial progress stays visible if a later page fails.
// The new sync token arrives on the last page and is persisted only after
// that page applies; a mid-traversal failure leaves the old token valid.
func (p *PullEngine) traverse(ctx context.Context, cal *store.Calendar, req calapi.ListEventsRequest, result *PullResult, rec *store.AuditRecord) error {
	retryKey := "pull:" + cal.CalendarID
	notify := func(err error, attempt int, next time.Duration) {
		if calapi.IsRateLimited(err) {
			rec.Had429Retry = true
		}
	}

	for {
		var page *calapi.EventsPage
		err := p.retry.Do(ctx, retryKey, retry.PolicyDefault, func(ctx context.Context) error {
			var opErr error
			page, opErr = p.client.ListEvents(ctx, req)
			return opErr
		}, notify)
		if err != nil {
			return err
		}

		if err := p.applyPage(cal.CalendarID, page.Items, result); err != nil {
			return err
		}

		if page.NextPageToken == "" {
			if page.NextSyncToken != "" {
				if err := p.store.SetSyncToken(cal.CalendarID, page.NextSyncToken, time.Now().UTC()); err != nil {
					return classifyStore(err)
				}
			}
			return nil
		}
		req.PageToken = page.NextPageToken
	}
}

// applyPage upserts confirmed events and deletes cancelled ones. Items
// without an id or start time are counted as skipped.
func (p *PullEngine) applyPage(calendarID string, items []*calapi.Event, result *PullResult) error {
	for _, item := range items {
		if item.ID == "" {
			result.Summary.Skipped++
			continue
		}

		if item.Status == calapi.StatusCancelled {
			entryRef := item.EntryRef()
			if entryRef == "" {
				// Cancelled payloads are often skeletal; recover the
				// back-reference from the cached row before it goes away.
				if cached, err := p.store.GetCachedEvent(calendarID, item.ID); err == nil && cached.LinkedEntryID != nil {
					entryRef = *cached.LinkedEntryID
				}
			}
			if err := p.store.DeleteCachedEvent(calendarID, item.ID); err != nil {
				return classifyStore(err)
			}
			result.Summary.Deleted++
			if entryRef != "" {
				result.Deltas = append(result.Deltas, RemoteDelta{
					CalendarID: calendarID,
					EventID:    item.ID,
					EntryRef:   entryRef,
					UpdatedAt:  item.Updated,
					Cancelled:  true,
				})
			}
			continue
		}

		if item.Start == nil {
			result.Summary.Skipped++
			continue
		}

		cached := &store.CachedEvent{
			CalendarID: calendarID,
			EventID:    item.ID,
			Title:      item.Summary,
			Body:       item.Description,
			StartAt:    item.Start.DateTime,
			Status:     store.EventStatusConfirmed,
			UpdatedAt:  item.Updated,
		}
		if item.End != nil {
			end := item.End.DateTime
			cached.EndAt = &end
		}
		if ref := item.EntryRef(); ref != "" {
			cached.LinkedEntryID = &ref
		}
		if err := p.store.UpsertCachedEvent(cached); err != nil {
			return classifyStore(err)
		}
		result.Summary.Updated++

		if ref := item.EntryRef(); ref != "" {
			result.Deltas = append(result.Deltas, RemoteDelta{
				CalendarID: calendarID,
				EventID:    item.ID,
				EntryRef:   ref,
				Title:      item.Summary,
				Body:       item.Description,
				EventDate:  item.Start.DateTime,
				UpdatedAt:  item.Updated,
			})
		}
	}
	return nil
}

// setAuditError fills the failure columns of an audit record.
func setAuditError(rec *store.AuditRecord, err error) {
	errType := errorTypeName(err)
	msg := err.Error()
	rec.ErrorType = &errType
	rec.ErrorMessage = &msg
	if status := calapi.StatusCode(err); status != 0 {
		rec.HTTPStatus = &status
	}
}
