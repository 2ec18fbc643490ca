package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/journalbridge/journalbridge/internal/calapi"
	"github.com/journalbridge/journalbridge/internal/store"
)

// fakeEventStore records insert/update calls and assigns server ids.
type fakeEventStore struct {
	mu      sync.Mutex
	inserts []string // request paths
	updates []string
	nextID  int
	fail    int // HTTP status to answer with, 0 for success
}

func (f *fakeEventStore) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		if f.fail != 0 {
			w.WriteHeader(f.fail)
			w.Write([]byte(`{"error":{"message":"induced failure"}}`))
			return
		}

		var event calapi.Event
		json.NewDecoder(r.Body).Decode(&event)

		switch r.Method {
		case http.MethodPost:
			f.inserts = append(f.inserts, r.URL.Path)
			f.nextID++
			event.ID = "server-ev-" + strconv.Itoa(f.nextID)
		case http.MethodPut:
			f.updates = append(f.updates, r.URL.Path)
		}
		event.Updated = time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(&event)
	})
}

func (f *fakeEventStore) counts() (inserts, updates int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserts), len(f.updates)
}

func TestPushInsertThenUpdate(t *testing.T) {
	env := newTestEnv(t)
	remote := &fakeEventStore{}
	client := newTestClient(t, remote.handler())
	engine := NewPushEngine(env.store, client, env.retry, env.audit, "primary")

	entry := &store.Entry{Title: "first push", EventDate: nowUTC()}
	require.NoError(t, env.store.CreateEntry(entry))

	// First push: unlinked entry inserts into the default calendar
	require.NoError(t, engine.PushEntry(context.Background(), entry.ID, ""))

	inserts, updates := remote.counts()
	assert.Equal(t, 1, inserts)
	assert.Zero(t, updates)

	got, err := env.store.GetEntryByID(entry.ID)
	require.NoError(t, err)
	assert.False(t, got.NeedsRemoteSync, "successful push clears the pending flag")
	require.True(t, got.IsLinked())
	assert.Equal(t, "primary", *got.LinkedCalendarID)
	require.NotNil(t, got.LinkedEventUpdatedAt)
	assert.Equal(t, time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC), got.LinkedEventUpdatedAt.UTC())

	// Edit and push again: linked entry updates in place
	require.NoError(t, env.store.UpdateEntryContent(entry.ID, "edited", "", nowUTC()))
	require.NoError(t, engine.PushEntry(context.Background(), entry.ID, ""))

	inserts, updates = remote.counts()
	assert.Equal(t, 1, inserts, "a linked entry never inserts again")
	assert.Equal(t, 1, updates)
}

func TestPushIsNoopWhenAlreadySynced(t *testing.T) {
	env := newTestEnv(t)
	remote := &fakeEventStore{}
	client := newTestClient(t, remote.handler())
	engine := NewPushEngine(env.store, client, env.retry, env.audit, "primary")

	entry := &store.Entry{Title: "synced", EventDate: nowUTC()}
	require.NoError(t, env.store.CreateEntry(entry))
	require.NoError(t, env.store.MarkEntrySynced(entry.ID, "cal-1", "ev-1", nowUTC()))

	require.NoError(t, engine.PushEntry(context.Background(), entry.ID, ""))

	inserts, updates := remote.counts()
	assert.Zero(t, inserts+updates, "an already-synced entry makes no remote calls")
}

func TestPushFailureKeepsPendingFlag(t *testing.T) {
	env := newTestEnv(t)
	remote := &fakeEventStore{fail: http.StatusBadRequest}
	client := newTestClient(t, remote.handler())
	engine := NewPushEngine(env.store, client, env.retry, env.audit, "primary")

	entry := &store.Entry{Title: "fails", EventDate: nowUTC()}
	require.NoError(t, env.store.CreateEntry(entry))

	err := engine.PushEntry(context.Background(), entry.ID, "")
	require.Error(t, err)

	got, getErr := env.store.GetEntryByID(entry.ID)
	require.NoError(t, getErr)
	assert.True(t, got.NeedsRemoteSync, "a failed push stays pending for retry")
	assert.False(t, got.IsLinked())
}

func TestPushConcurrentCallersShareOneInsert(t *testing.T) {
	env := newTestEnv(t)

	release := make(chan struct{})
	var inserts atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inserts.Add(1)
		<-release

		var event calapi.Event
		json.NewDecoder(r.Body).Decode(&event)
		event.ID = "server-ev-1"
		event.Updated = time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(&event)
	}))
	engine := NewPushEngine(env.store, client, env.retry, env.audit, "primary")

	entry := &store.Entry{Title: "raced", EventDate: nowUTC()}
	require.NoError(t, env.store.CreateEntry(entry))

	// A manual push and the scheduler's drain can race on the same entry.
	// The second caller must follow the first sequence, not run its own.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = engine.PushEntry(context.Background(), entry.ID, "")
		}(i)
	}

	time.Sleep(150 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "caller %d", i)
	}
	assert.Equal(t, int32(1), inserts.Load(), "one remote insert for the raced entry")

	got, err := env.store.GetEntryByID(entry.ID)
	require.NoError(t, err)
	assert.False(t, got.NeedsRemoteSync)
	require.True(t, got.IsLinked())
	assert.Equal(t, "primary", *got.LinkedCalendarID)
	assert.Equal(t, "server-ev-1", *got.LinkedEventID)
}

func TestPushTargetCalendarOverride(t *testing.T) {
	env := newTestEnv(t)
	remote := &fakeEventStore{}
	client := newTestClient(t, remote.handler())
	engine := NewPushEngine(env.store, client, env.retry, env.audit, "primary")

	entry := &store.Entry{Title: "targeted", EventDate: nowUTC()}
	require.NoError(t, env.store.CreateEntry(entry))

	require.NoError(t, engine.PushEntry(context.Background(), entry.ID, "work-calendar"))

	got, err := env.store.GetEntryByID(entry.ID)
	require.NoError(t, err)
	require.True(t, got.IsLinked())
	assert.Equal(t, "work-calendar", *got.LinkedCalendarID)
}

func TestPushMissingEntry(t *testing.T) {
	env := newTestEnv(t)
	client := newTestClient(t, (&fakeEventStore{}).handler())
	engine := NewPushEngine(env.store, client, env.retry, env.audit, "primary")

	err := engine.PushEntry(context.Background(), "missing", "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestResendPendingDrainsQueue(t *testing.T) {
	env := newTestEnv(t)
	remote := &fakeEventStore{}
	client := newTestClient(t, remote.handler())
	engine := NewPushEngine(env.store, client, env.retry, env.audit, "primary")

	for _, title := range []string{"one", "two", "three"} {
		require.NoError(t, env.store.CreateEntry(&store.Entry{Title: title, EventDate: nowUTC()}))
	}

	summary, err := engine.ResendPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Pushed)
	assert.Zero(t, summary.Failed)

	pending, err := env.store.ListPendingEntries()
	require.NoError(t, err)
	assert.Empty(t, pending)

	rec := env.lastAuditRecord(t)
	assert.Equal(t, store.SyncTypePush, rec.SyncType)
	assert.Equal(t, 3, rec.UpdatedCount)
}

func TestResendPendingCancellation(t *testing.T) {
	env := newTestEnv(t)
	remote := &fakeEventStore{}
	client := newTestClient(t, remote.handler())
	engine := NewPushEngine(env.store, client, env.retry, env.audit, "primary")

	require.NoError(t, env.store.CreateEntry(&store.Entry{Title: "never sent", EventDate: nowUTC()}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.ResendPending(ctx)
	assert.ErrorIs(t, err, ErrCancelled)

	pending, listErr := env.store.ListPendingEntries()
	require.NoError(t, listErr)
	assert.Len(t, pending, 1, "cancelled drain leaves entries pending")
}
