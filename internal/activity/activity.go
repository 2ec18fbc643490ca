package activity

import (
	"sync"
	"time"
)

// Kind identifies what flavor of run an activity describes.
type Kind string

const (
	KindPull    Kind = "pull"
	KindPush    Kind = "push"
	KindArchive Kind = "archive"
)

// Run represents one sync flow observed by the tracker.
type Run struct {
	Kind        Kind       `json:"kind"`
	Status      string     `json:"status"` // "running", "completed", "error", "cancelled"
	Updated     int        `json:"updated"`
	Deleted     int        `json:"deleted"`
	Skipped     int        `json:"skipped"`
	Conflicts   int        `json:"conflicts"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Duration    string     `json:"duration,omitempty"`
	Message     string     `json:"message,omitempty"`
}

// Tracker keeps the currently running flows and a bounded history of recent
// ones for the status API. It is purely informational; engines never read
// it back.
type Tracker struct {
	mu        sync.RWMutex
	active    map[Kind]*Run
	recent    []*Run
	maxRecent int
}

// NewTracker creates an activity tracker.
func NewTracker() *Tracker {
	return &Tracker{
		active:    make(map[Kind]*Run),
		recent:    make([]*Run, 0),
		maxRecent: 20,
	}
}

// Start begins tracking a run of the given kind.
func (t *Tracker) Start(kind Kind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[kind] = &Run{
		Kind:      kind,
		Status:    "running",
		StartedAt: time.Now().UTC(),
	}
}

// Finish completes the active run of a kind and moves it into history.
func (t *Tracker) Finish(kind Kind, status, message string, updated, deleted, skipped, conflicts int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	run, ok := t.active[kind]
	if !ok {
		run = &Run{Kind: kind, StartedAt: time.Now().UTC()}
	}
	delete(t.active, kind)

	now := time.Now().UTC()
	run.Status = status
	run.Message = message
	run.Updated = updated
	run.Deleted = deleted
	run.Skipped = skipped
	run.Conflicts = conflicts
	run.CompletedAt = &now
	run.Duration = now.Sub(run.StartedAt).Round(time.Millisecond).String()

	t.recent = append([]*Run{run}, t.recent...)
	if len(t.recent) > t.maxRecent {
		t.recent = t.recent[:t.maxRecent]
	}
}

// Snapshot returns the active runs and recent history.
func (t *Tracker) Snapshot() (active []*Run, recent []*Run) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, run := range t.active {
		copied := *run
		active = append(active, &copied)
	}
	for _, run := range t.recent {
		copied := *run
		recent = append(recent, &copied)
	}
	return active, recent
}
