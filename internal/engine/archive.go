package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/journalbridge/journalbridge/internal/audit"
	"github.com/journalbridge/journalbridge/internal/calapi"
	"github.com/journalbridge/journalbridge/internal/config"
	"github.com/journalbridge/journalbridge/internal/retry"
	"github.com/journalbridge/journalbridge/internal/store"
)

// interBatchDelay spaces consecutive archive batches so a bulk import never
// monopolizes the request budget of foreground syncs.
const interBatchDelay = 250 * time.Millisecond

// Outcome is the terminal state of an archive import run. Cancellation is a
// first-class outcome, not an error: partial progress is retained and a
// later run resumes from the checkpoint.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// Progress is a snapshot of a running import, delivered to the progress
// callback after every completed batch with cumulative counts.
type Progress struct {
	CompletedBatches int    `json:"completed_batches"`
	TotalBatches     int    `json:"total_batches"`
	Imported         int    `json:"imported"`
	Deleted          int    `json:"deleted"`
	Skipped          int    `json:"skipped"`
	CurrentCalendar  string `json:"current_calendar,omitempty"` // hashed
}

// ProgressFunc receives cumulative progress after each completed batch.
type ProgressFunc func(Progress)

// workUnit is one (calendar, rangeIndex) batch of the import plan.
type workUnit struct {
	calendar   *store.Calendar
	rangeIndex int
}

// Importer runs the cancellable, checkpointed bulk import of historical
// events into the long-window archive cache.
type Importer struct {
	store  *store.Store
	client *calapi.Client
	retry  *retry.Executor
	audit  *audit.Logger
	cfg    config.ArchiveConfig

	mu     sync.Mutex
	active *Handle
}

// NewImporter creates an archive importer.
func NewImporter(st *store.Store, client *calapi.Client, exec *retry.Executor, auditLog *audit.Logger, cfg config.ArchiveConfig) *Importer {
	return &Importer{
		store:  st,
		client: client,
		retry:  exec,
		audit:  auditLog,
		cfg:    cfg,
	}
}

// Handle controls a running import.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	progress Progress
	outcome  Outcome
	err      error
}

// Cancel requests cooperative cancellation. The run stops at the next
// checkpoint boundary, never mid-batch.
func (h *Handle) Cancel() {
	h.cancel()
}

// Wait blocks until the run finishes and returns its outcome. The error is
// non-nil only for OutcomeFailed.
func (h *Handle) Wait() (Outcome, error) {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outcome, h.err
}

// Done exposes the completion channel for select-based callers.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Progress returns a snapshot of the current cumulative progress.
func (h *Handle) Progress() Progress {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.progress
}

func (h *Handle) setProgress(p Progress) {
	h.mu.Lock()
	h.progress = p
	h.mu.Unlock()
}

func (h *Handle) finish(outcome Outcome, err error) {
	h.mu.Lock()
	h.outcome = outcome
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

// Active returns the handle of the running import, or nil.
func (im *Importer) Active() *Handle {
	im.mu.Lock()
	defer im.mu.Unlock()
	if im.active == nil {
		return nil
	}
	select {
	case <-im.active.done:
		return nil
	default:
		return im.active
	}
}

// Start launches an import over the given calendars and returns its handle.
// Only one import runs at a time; starting while one is active returns the
// active handle.
func (im *Importer) Start(parent context.Context, calendars []*store.Calendar, onProgress ProgressFunc) *Handle {
	im.mu.Lock()
	defer im.mu.Unlock()

	if im.active != nil {
		select {
		case <-im.active.done:
		default:
			return im.active
		}
	}

	ctx, cancel := context.WithCancel(parent)
	handle := &Handle{cancel: cancel, done: make(chan struct{})}
	im.active = handle

	go func() {
		defer cancel()
		outcome, err := im.run(ctx, calendars, handle, onProgress)
		handle.finish(outcome, err)
	}()

	return handle
}

// rangeBounds returns the [from, to) window of a range index.
func (im *Importer) rangeBounds(index int) (time.Time, time.Time) {
	from := im.cfg.Epoch.AddDate(0, index*im.cfg.WindowMonths, 0)
	to := im.cfg.Epoch.AddDate(0, (index+1)*im.cfg.WindowMonths, 0)
	return from, to
}

// rangeCount returns how many fixed-size windows partition the archive span
// from the epoch through now plus the configured future extension.
func (im *Importer) rangeCount(now time.Time) int {
	horizon := now.AddDate(0, im.cfg.FutureMonths, 0)
	count := 0
	for {
		from, _ := im.rangeBounds(count)
		if !from.Before(horizon) {
			return count
		}
		count++
	}
}

// buildPlan produces the ordered work units, resuming each calendar at the
// range after its checkpoint.
func (im *Importer) buildPlan(calendars []*store.Calendar, totalRanges int) ([]workUnit, error) {
	var plan []workUnit
	for _, cal := range calendars {
		start := 0
		cp, err := im.store.GetArchiveCheckpoint(cal.CalendarID)
		if err == nil {
			start = cp.CompletedRangeIndex + 1
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, classifyStore(err)
		}
		for i := start; i < totalRanges; i++ {
			plan = append(plan, workUnit{calendar: cal, rangeIndex: i})
		}
	}
	return plan, nil
}

// run executes the import plan sequentially with cooperative cancellation
// checks before each calendar, before each batch, and around every
// inter-request sleep. State always lands on a checkpoint boundary.
func (im *Importer) run(ctx context.Context, calendars []*store.Calendar, handle *Handle, onProgress ProgressFunc) (Outcome, error) {
	now := time.Now().UTC()
	totalRanges := im.rangeCount(now)

	var (
		calStarted     = now
		currentCal     string
		calCounts      store.AuditRecord
		firstBatchDone bool
	)

	// A run that ends before its first batch still leaves an audit record,
	// attributed to the first requested calendar.
	flushCalendarAudit := func(err error) {
		calID := currentCal
		if calID == "" {
			if len(calendars) == 0 {
				return
			}
			calID = calendars[0].CalendarID
		}
		rec := calCounts
		rec.StartedAt = calStarted
		rec.EndedAt = time.Now().UTC()
		rec.SyncType = store.SyncTypeArchive
		if err != nil {
			setAuditError(&rec, err)
		}
		im.audit.Record(calID, &rec)
	}

	plan, err := im.buildPlan(calendars, totalRanges)
	if err != nil {
		flushCalendarAudit(err)
		return OutcomeFailed, err
	}

	progress := Progress{TotalBatches: len(plan)}
	handle.setProgress(progress)

	for _, unit := range plan {
		if unit.calendar.CalendarID != currentCal {
			// Cancellation point: before starting a new calendar.
			if ctx.Err() != nil {
				flushCalendarAudit(ErrCancelled)
				return OutcomeCancelled, nil
			}
			if currentCal != "" {
				flushCalendarAudit(nil)
			}
			currentCal = unit.calendar.CalendarID
			calStarted = time.Now().UTC()
			calCounts = store.AuditRecord{}
			progress.CurrentCalendar = audit.HashCalendarID(currentCal)
			firstBatchDone = false
		}

		// Cancellation point: before starting a new batch.
		if ctx.Err() != nil {
			flushCalendarAudit(ErrCancelled)
			return OutcomeCancelled, nil
		}

		if firstBatchDone {
			// Cancellation points: immediately before and after the
			// inter-request sleep.
			if ctx.Err() != nil {
				flushCalendarAudit(ErrCancelled)
				return OutcomeCancelled, nil
			}
			timer := time.NewTimer(interBatchDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				flushCalendarAudit(ErrCancelled)
				return OutcomeCancelled, nil
			}
			if ctx.Err() != nil {
				flushCalendarAudit(ErrCancelled)
				return OutcomeCancelled, nil
			}
		}

		imported, deleted, skipped, err := im.importRange(ctx, unit)
		if err != nil {
			// Retries are exhausted at this point; hard stop with the
			// checkpoint preserved for manual resume.
			if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
				flushCalendarAudit(ErrCancelled)
				return OutcomeCancelled, nil
			}
			flushCalendarAudit(err)
			return OutcomeFailed, err
		}

		if err := im.store.UpsertArchiveCheckpoint(unit.calendar.CalendarID, unit.rangeIndex); err != nil {
			flushCalendarAudit(err)
			return OutcomeFailed, classifyStore(err)
		}

		calCounts.UpdatedCount += imported
		calCounts.DeletedCount += deleted
		calCounts.SkippedCount += skipped
		progress.CompletedBatches++
		progress.Imported += imported
		progress.Deleted += deleted
		progress.Skipped += skipped
		handle.setProgress(progress)
		if onProgress != nil {
			onProgress(progress)
		}
		firstBatchDone = true
	}

	flushCalendarAudit(nil)
	return OutcomeCompleted, nil
}

// importRange pulls every page of one (calendar, range) window into the
// archive cache with the same idempotent upsert semantics as the short
// window, so a re-run after cancellation never duplicates rows.
func (im *Importer) importRange(ctx context.Context, unit workUnit) (imported, deleted, skipped int, err error) {
	from, to := im.rangeBounds(unit.rangeIndex)
	req := calapi.ListEventsRequest{
		CalendarID: unit.calendar.CalendarID,
		TimeMin:    from,
		TimeMax:    to,
	}
	retryKey := "archive:" + unit.calendar.CalendarID

	for {
		var page *calapi.EventsPage
		err = im.retry.Do(ctx, retryKey, retry.PolicyConservative, func(ctx context.Context) error {
			var opErr error
			page, opErr = im.client.ListEvents(ctx, req)
			return opErr
		}, nil)
		if err != nil {
			return imported, deleted, skipped, classify(err)
		}

		for _, item := range page.Items {
			if item.ID == "" || (item.Status != calapi.StatusCancelled && item.Start == nil) {
				skipped++
				continue
			}
			if item.Status == calapi.StatusCancelled {
				if err := im.store.DeleteArchivedEvent(unit.calendar.CalendarID, item.ID); err != nil {
					return imported, deleted, skipped, classifyStore(err)
				}
				deleted++
				continue
			}
			archived := &store.CachedEvent{
				CalendarID: unit.calendar.CalendarID,
				EventID:    item.ID,
				Title:      item.Summary,
				Body:       item.Description,
				StartAt:    item.Start.DateTime,
				Status:     store.EventStatusConfirmed,
				UpdatedAt:  item.Updated,
			}
			if item.End != nil {
				end := item.End.DateTime
				archived.EndAt = &end
			}
			if ref := item.EntryRef(); ref != "" {
				archived.LinkedEntryID = &ref
			}
			if err := im.store.UpsertArchivedEvent(archived); err != nil {
				return imported, deleted, skipped, classifyStore(err)
			}
			imported++
		}

		if page.NextPageToken == "" {
			return imported, deleted, skipped, nil
		}
		req.PageToken = page.NextPageToken
	}
}
