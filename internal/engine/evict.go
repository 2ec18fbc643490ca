package engine

import (
	"log"
	"time"

	"github.com/journalbridge/journalbridge/internal/store"
)

// Evictor trims the short-window cache after each pull cycle. It is pure
// local bookkeeping: idempotent, no network access, and it never touches
// the archive cache.
type Evictor struct {
	store *store.Store
}

// NewEvictor creates a cache evictor.
func NewEvictor(st *store.Store) *Evictor {
	return &Evictor{store: st}
}

// Cleanup deletes cached events whose start falls outside the window and
// returns the number removed.
func (e *Evictor) Cleanup(window Window) (int, error) {
	removed, err := e.store.EvictCachedEventsOutside(window.From, window.To)
	if err != nil {
		return 0, classifyStore(err)
	}
	if removed > 0 {
		log.Printf("Evicted %d cached events outside sync window", removed)
	}
	return removed, nil
}

// RateLimiter gates sync invocation on a persisted cooldown. Rejected
// requests are not queued; the caller decides whether to retry later.
type RateLimiter struct {
	store    *store.Store
	cooldown time.Duration
}

// NewRateLimiter creates a sync rate limiter.
func NewRateLimiter(st *store.Store, cooldown time.Duration) *RateLimiter {
	return &RateLimiter{store: st, cooldown: cooldown}
}

// CanSync reports whether enough time has elapsed since the last accepted
// sync start.
func (r *RateLimiter) CanSync(now time.Time) (bool, error) {
	last, err := r.store.GetLastSyncStart()
	if err != nil {
		return false, classifyStore(err)
	}
	if last.IsZero() {
		return true, nil
	}
	return now.Sub(last) >= r.cooldown, nil
}

// RemainingSeconds returns how long the caller must wait before the next
// sync will be accepted, rounded up for user display. Zero when a sync may
// start now.
func (r *RateLimiter) RemainingSeconds(now time.Time) (int, error) {
	last, err := r.store.GetLastSyncStart()
	if err != nil {
		return 0, classifyStore(err)
	}
	if last.IsZero() {
		return 0, nil
	}
	remaining := r.cooldown - now.Sub(last)
	if remaining <= 0 {
		return 0, nil
	}
	secs := int(remaining / time.Second)
	if remaining%time.Second != 0 {
		secs++
	}
	return secs, nil
}

// MarkSyncStart persists an accepted sync start time.
func (r *RateLimiter) MarkSyncStart(now time.Time) error {
	if err := r.store.SetLastSyncStart(now); err != nil {
		return classifyStore(err)
	}
	return nil
}
