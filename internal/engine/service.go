package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/journalbridge/journalbridge/internal/audit"
	"github.com/journalbridge/journalbridge/internal/calapi"
	"github.com/journalbridge/journalbridge/internal/config"
	"github.com/journalbridge/journalbridge/internal/store"
)

// CalendarLister lists the user's calendars page by page.
type CalendarLister interface {
	ListCalendars(ctx context.Context, pageToken string) (*calapi.CalendarListPage, error)
}

// Service orchestrates one full sync cycle: cooldown gate, pull into the
// short-window cache, reflection of remote deltas onto linked entries, and
// cache eviction. Push and archive runs are independent flows owned by
// their engines.
type Service struct {
	store     *store.Store
	pull      *PullEngine
	reflector *Reflector
	evictor   *Evictor
	limiter   *RateLimiter
	auditLog  *audit.Logger
	cfg       config.SyncConfig
}

// NewService wires the sync cycle components together.
func NewService(st *store.Store, pull *PullEngine, reflector *Reflector, evictor *Evictor, limiter *RateLimiter, auditLog *audit.Logger, cfg config.SyncConfig) *Service {
	return &Service{
		store:     st,
		pull:      pull,
		reflector: reflector,
		evictor:   evictor,
		limiter:   limiter,
		auditLog:  auditLog,
		cfg:       cfg,
	}
}

// Window returns the current short-window range.
func (s *Service) Window() Window {
	return WindowAround(time.Now().UTC(), s.cfg.PastDays, s.cfg.FutureDays)
}

// RunSync executes one gated sync cycle over all enabled calendars.
// Returns ErrRateLimited inside the cooldown and ErrSyncInProgress when a
// cycle is already running; both are rejections, not failures.
func (s *Service) RunSync(ctx context.Context) (*SyncSummary, error) {
	now := time.Now().UTC()

	ok, err := s.limiter.CanSync(now)
	if err != nil {
		return nil, err
	}
	if !ok {
		remaining, _ := s.limiter.RemainingSeconds(now)
		return nil, fmt.Errorf("%w: retry in %ds", ErrRateLimited, remaining)
	}
	if s.pull.Running() {
		return nil, ErrSyncInProgress
	}
	if err := s.limiter.MarkSyncStart(now); err != nil {
		return nil, err
	}

	calendars, err := s.store.ListEnabledCalendars()
	if err != nil {
		return nil, classifyStore(err)
	}

	window := WindowAround(now, s.cfg.PastDays, s.cfg.FutureDays)
	result, pullErr := s.pull.RunPullSync(ctx, calendars, window)
	if result == nil {
		return nil, pullErr
	}
	summary := result.Summary

	// Reflection and eviction run on whatever the pull managed to apply,
	// even when some calendars failed: partial progress stays visible.
	reflectStarted := time.Now().UTC()
	reflectSummary, reflectErr := s.reflector.Apply(result.Deltas)
	summary.Conflicts = reflectSummary.Conflicts

	// Conflicts flagged during reflection get their own audit rows, one per
	// source calendar, so conflict_count is attributable in the export.
	reflectEnded := time.Now().UTC()
	for calID, n := range reflectSummary.ConflictsByCalendar {
		s.auditLog.Record(calID, &store.AuditRecord{
			StartedAt:     reflectStarted,
			EndedAt:       reflectEnded,
			SyncType:      store.SyncTypeReflect,
			ConflictCount: n,
		})
	}
	if reflectErr != nil {
		return &summary, reflectErr
	}

	if _, err := s.evictor.Cleanup(window); err != nil {
		return &summary, err
	}

	if pullErr != nil {
		return &summary, pullErr
	}
	log.Printf("Sync cycle complete: %d updated, %d deleted, %d skipped, %d conflicts",
		summary.Updated, summary.Deleted, summary.Skipped, summary.Conflicts)
	return &summary, nil
}

// RefreshCalendarList pulls the remote calendar list and upserts descriptors
// for calendars not yet known locally. Newly discovered calendars default to
// enabled.
func (s *Service) RefreshCalendarList(ctx context.Context, client CalendarLister) error {
	pageToken := ""
	for {
		page, err := client.ListCalendars(ctx, pageToken)
		if err != nil {
			return classify(err)
		}
		for _, item := range page.Items {
			if _, err := s.store.GetCalendar(item.ID); err == nil {
				continue
			}
			cal := &store.Calendar{
				CalendarID:  item.ID,
				DisplayName: item.Summary,
				Enabled:     true,
			}
			if err := s.store.UpsertCalendar(cal); err != nil {
				return classifyStore(err)
			}
		}
		if page.NextPageToken == "" {
			return nil
		}
		pageToken = page.NextPageToken
	}
}
