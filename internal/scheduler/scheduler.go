package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/journalbridge/journalbridge/internal/activity"
	"github.com/journalbridge/journalbridge/internal/engine"
	"github.com/journalbridge/journalbridge/internal/notify"
)

const (
	cleanupInterval   = 24 * time.Hour
	auditRetention    = 30 * 24 * time.Hour
	pushDrainInterval = time.Minute
	syncTimeout       = 10 * time.Minute // Maximum time for a single sync cycle
	pushQueueSize     = 64
)

// AuditPruner prunes old audit records.
type AuditPruner interface {
	Prune(retention time.Duration) (int, error)
}

// Scheduler runs the background sync flows: periodic pull cycles, the
// pending-push drain, and audit log retention.
type Scheduler struct {
	service  *engine.Service
	push     *engine.PushEngine
	pruner   AuditPruner
	tracker  *activity.Tracker
	notifier *notify.Notifier
	interval time.Duration

	pushCh chan string

	mu      sync.Mutex
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// New creates a scheduler.
func New(service *engine.Service, push *engine.PushEngine, pruner AuditPruner, tracker *activity.Tracker, notifier *notify.Notifier, interval time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		service:  service,
		push:     push,
		pruner:   pruner,
		tracker:  tracker,
		notifier: notifier,
		interval: interval,
		pushCh:   make(chan string, pushQueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the background loops.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(3)
	go s.syncLoop()
	go s.pushLoop()
	go s.cleanupLoop()

	log.Printf("Scheduler started (sync interval %v)", s.interval)
}

// Stop gracefully shuts down all loops.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	log.Println("Scheduler stopped")
}

// TriggerSync requests an immediate sync cycle.
func (s *Scheduler) TriggerSync() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runSyncCycle()
	}()
}

// TriggerPush queues an entry for an outbound push. Used by the conflict
// resolver after a use-local resolution. A full queue falls back to the
// periodic drain.
func (s *Scheduler) TriggerPush(entryID string) {
	select {
	case s.pushCh <- entryID:
	default:
		log.Printf("Push queue full; entry %s will go out with the next drain", entryID)
	}
}

// syncLoop runs pull cycles on the configured interval, starting with one
// immediately.
func (s *Scheduler) syncLoop() {
	defer s.wg.Done()

	s.runSyncCycle()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runSyncCycle()
		}
	}
}

func (s *Scheduler) runSyncCycle() {
	ctx, cancel := context.WithTimeout(s.ctx, syncTimeout)
	defer cancel()

	s.tracker.Start(activity.KindPull)
	summary, err := s.service.RunSync(ctx)

	switch {
	case errors.Is(err, engine.ErrRateLimited), errors.Is(err, engine.ErrSyncInProgress):
		s.tracker.Finish(activity.KindPull, "skipped", err.Error(), 0, 0, 0, 0)
		log.Printf("Sync cycle skipped: %v", err)
	case err != nil:
		var u, d, sk, c int
		if summary != nil {
			u, d, sk, c = summary.Updated, summary.Deleted, summary.Skipped, summary.Conflicts
		}
		s.tracker.Finish(activity.KindPull, "error", err.Error(), u, d, sk, c)
		log.Printf("Sync cycle failed: %v", err)
		s.notifier.Send(ctx, notify.Alert{
			Type:    notify.AlertTypeError,
			Subject: "pull",
			Message: fmt.Sprintf("sync cycle failed: %v", err),
		})
	default:
		s.tracker.Finish(activity.KindPull, "completed", "",
			summary.Updated, summary.Deleted, summary.Skipped, summary.Conflicts)
	}
}

// pushLoop drains queued entries as they arrive and sweeps everything
// pending on a slower tick so nothing starves.
func (s *Scheduler) pushLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(pushDrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case entryID := <-s.pushCh:
			ctx, cancel := context.WithTimeout(s.ctx, syncTimeout)
			if err := s.push.PushEntry(ctx, entryID, ""); err != nil {
				log.Printf("Scheduled push failed for entry %s: %v", entryID, err)
			}
			cancel()
		case <-ticker.C:
			s.runPushDrain()
		}
	}
}

func (s *Scheduler) runPushDrain() {
	ctx, cancel := context.WithTimeout(s.ctx, syncTimeout)
	defer cancel()

	s.tracker.Start(activity.KindPush)
	summary, err := s.push.ResendPending(ctx)
	if err != nil {
		s.tracker.Finish(activity.KindPush, "error", err.Error(), summary.Pushed, 0, summary.Failed, 0)
		log.Printf("Push drain finished with error: %v", err)
		return
	}
	status := "completed"
	if summary.Failed > 0 {
		status = "error"
		s.notifier.Send(ctx, notify.Alert{
			Type:    notify.AlertTypeError,
			Subject: "push",
			Message: fmt.Sprintf("%d entries failed to push", summary.Failed),
		})
	}
	s.tracker.Finish(activity.KindPush, status, "", summary.Pushed, 0, summary.Failed, 0)
}

// cleanupLoop prunes old audit records daily.
func (s *Scheduler) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.pruner.Prune(auditRetention)
			if err != nil {
				log.Printf("Audit log cleanup failed: %v", err)
				continue
			}
			if removed > 0 {
				log.Printf("Pruned %d old audit records", removed)
			}
		}
	}
}
