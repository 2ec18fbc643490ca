package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"

	"github.com/journalbridge/journalbridge/internal/activity"
	"github.com/journalbridge/journalbridge/internal/audit"
	"github.com/journalbridge/journalbridge/internal/calapi"
	"github.com/journalbridge/journalbridge/internal/config"
	"github.com/journalbridge/journalbridge/internal/engine"
	"github.com/journalbridge/journalbridge/internal/notify"
	"github.com/journalbridge/journalbridge/internal/retry"
	"github.com/journalbridge/journalbridge/internal/scheduler"
	"github.com/journalbridge/journalbridge/internal/store"
)

// testHandlers holds test dependencies.
type testHandlers struct {
	store    *store.Store
	handlers *Handlers
	cleanup  func()
}

// setupTestHandlers creates handlers over a real store. The scheduler is
// never started, so TriggerPush only queues.
func setupTestHandlers(t *testing.T) *testHandlers {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "journalbridge-api-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	st, err := store.Open(filepath.Join(tempDir, "test.db"))
	if err != nil {
		os.RemoveAll(tempDir)
		t.Fatalf("failed to open test store: %v", err)
	}

	auditLog := audit.NewLogger(st)
	tracker := activity.NewTracker()
	sched := scheduler.New(nil, nil, auditLog, tracker, notify.New(nil), time.Hour)
	resolver := engine.NewResolver(st, sched.TriggerPush)
	importer := engine.NewImporter(st, nil, nil, auditLog, config.ArchiveConfig{
		Epoch:        time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC),
		WindowMonths: 6,
		FutureMonths: 12,
	})

	handlers := &Handlers{
		store:    st,
		resolver: resolver,
		importer: importer,
		auditLog: auditLog,
		tracker:  tracker,
		sched:    sched,
	}

	cleanup := func() {
		st.Close()
		os.RemoveAll(tempDir)
	}

	return &testHandlers{
		store:    st,
		handlers: handlers,
		cleanup:  cleanup,
	}
}

// createTestEntry inserts an entry pending its first push.
func createTestEntry(t *testing.T, st *store.Store, title string) *store.Entry {
	t.Helper()

	entry := &store.Entry{
		Title:     title,
		Body:      "test body",
		EventDate: time.Date(2026, 8, 15, 9, 0, 0, 0, time.UTC),
	}
	if err := st.CreateEntry(entry); err != nil {
		t.Fatalf("failed to create entry: %v", err)
	}
	return entry
}

// jsonRequest builds a gin test context carrying a JSON body.
func jsonRequest(method, target, body string) (*httptest.ResponseRecorder, *gin.Context) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	c.Request = httptest.NewRequest(method, target, reader)
	c.Request.Header.Set("Content-Type", "application/json")
	return w, c
}

func TestAPICreateEntry(t *testing.T) {
	t.Run("creates entry and queues push", func(t *testing.T) {
		th := setupTestHandlers(t)
		defer th.cleanup()

		w, c := jsonRequest(http.MethodPost, "/api/entries",
			`{"title":"Dentist","body":"cleaning","event_date":"2026-09-01T10:00:00Z"}`)

		th.handlers.APICreateEntry(c)

		if w.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
		}

		var created store.Entry
		if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if created.ID == "" {
			t.Error("expected a generated entry id")
		}
		if !created.NeedsRemoteSync {
			t.Error("new entry should be pending a push")
		}

		stored, err := th.store.GetEntryByID(created.ID)
		if err != nil {
			t.Fatalf("entry not persisted: %v", err)
		}
		if stored.Title != "Dentist" {
			t.Errorf("unexpected title %q", stored.Title)
		}
	})

	t.Run("rejects missing title", func(t *testing.T) {
		th := setupTestHandlers(t)
		defer th.cleanup()

		w, c := jsonRequest(http.MethodPost, "/api/entries",
			`{"body":"no title","event_date":"2026-09-01T10:00:00Z"}`)

		th.handlers.APICreateEntry(c)

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", w.Code)
		}
	})

	t.Run("rejects missing event date", func(t *testing.T) {
		th := setupTestHandlers(t)
		defer th.cleanup()

		w, c := jsonRequest(http.MethodPost, "/api/entries", `{"title":"No date"}`)

		th.handlers.APICreateEntry(c)

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", w.Code)
		}
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		th := setupTestHandlers(t)
		defer th.cleanup()

		w, c := jsonRequest(http.MethodPost, "/api/entries", `{not json`)

		th.handlers.APICreateEntry(c)

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", w.Code)
		}
	})
}

func TestAPIGetEntry(t *testing.T) {
	t.Run("returns entry", func(t *testing.T) {
		th := setupTestHandlers(t)
		defer th.cleanup()

		entry := createTestEntry(t, th.store, "Standup")

		w, c := jsonRequest(http.MethodGet, "/api/entries/"+entry.ID, "")
		c.Params = gin.Params{{Key: "id", Value: entry.ID}}

		th.handlers.APIGetEntry(c)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}
		var got store.Entry
		if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if got.Title != "Standup" {
			t.Errorf("unexpected title %q", got.Title)
		}
	})

	t.Run("returns 404 for unknown entry", func(t *testing.T) {
		th := setupTestHandlers(t)
		defer th.cleanup()

		w, c := jsonRequest(http.MethodGet, "/api/entries/missing", "")
		c.Params = gin.Params{{Key: "id", Value: "missing"}}

		th.handlers.APIGetEntry(c)

		if w.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", w.Code)
		}
	})
}

func TestAPIUpdateEntry(t *testing.T) {
	t.Run("updates content", func(t *testing.T) {
		th := setupTestHandlers(t)
		defer th.cleanup()

		entry := createTestEntry(t, th.store, "Old title")

		w, c := jsonRequest(http.MethodPut, "/api/entries/"+entry.ID,
			`{"title":"New title","body":"changed","event_date":"2026-09-02T12:00:00Z"}`)
		c.Params = gin.Params{{Key: "id", Value: entry.ID}}

		th.handlers.APIUpdateEntry(c)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
		}

		stored, err := th.store.GetEntryByID(entry.ID)
		if err != nil {
			t.Fatalf("failed to reload entry: %v", err)
		}
		if stored.Title != "New title" || stored.Body != "changed" {
			t.Errorf("update not applied: %+v", stored)
		}
		if !stored.NeedsRemoteSync {
			t.Error("edited entry should be pending a push")
		}
	})

	t.Run("returns 404 for unknown entry", func(t *testing.T) {
		th := setupTestHandlers(t)
		defer th.cleanup()

		w, c := jsonRequest(http.MethodPut, "/api/entries/missing",
			`{"title":"x","event_date":"2026-09-02T12:00:00Z"}`)
		c.Params = gin.Params{{Key: "id", Value: "missing"}}

		th.handlers.APIUpdateEntry(c)

		if w.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", w.Code)
		}
	})
}

func TestAPIDeleteEntry(t *testing.T) {
	th := setupTestHandlers(t)
	defer th.cleanup()

	entry := createTestEntry(t, th.store, "Doomed")

	w, c := jsonRequest(http.MethodDelete, "/api/entries/"+entry.ID, "")
	c.Params = gin.Params{{Key: "id", Value: entry.ID}}
	th.handlers.APIDeleteEntry(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	w2, c2 := jsonRequest(http.MethodDelete, "/api/entries/"+entry.ID, "")
	c2.Params = gin.Params{{Key: "id", Value: entry.ID}}
	th.handlers.APIDeleteEntry(c2)

	if w2.Code != http.StatusNotFound {
		t.Errorf("second delete should return 404, got %d", w2.Code)
	}
}

func TestAPIListEntries(t *testing.T) {
	t.Run("empty store returns empty array", func(t *testing.T) {
		th := setupTestHandlers(t)
		defer th.cleanup()

		w, c := jsonRequest(http.MethodGet, "/api/entries", "")
		th.handlers.APIListEntries(c)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}
		if strings.TrimSpace(w.Body.String()) != "[]" {
			t.Errorf("expected empty JSON array, got %s", w.Body.String())
		}
	})

	t.Run("lists entries", func(t *testing.T) {
		th := setupTestHandlers(t)
		defer th.cleanup()

		createTestEntry(t, th.store, "One")
		createTestEntry(t, th.store, "Two")

		w, c := jsonRequest(http.MethodGet, "/api/entries", "")
		th.handlers.APIListEntries(c)

		var entries []*store.Entry
		if err := json.Unmarshal(w.Body.Bytes(), &entries); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if len(entries) != 2 {
			t.Errorf("expected 2 entries, got %d", len(entries))
		}
	})
}

func TestAPIListPendingEntries(t *testing.T) {
	th := setupTestHandlers(t)
	defer th.cleanup()

	pending := createTestEntry(t, th.store, "Pending")
	synced := createTestEntry(t, th.store, "Synced")
	if err := th.store.MarkEntrySynced(synced.ID, "cal-1", "ev-1", time.Now().UTC()); err != nil {
		t.Fatalf("failed to mark entry synced: %v", err)
	}

	w, c := jsonRequest(http.MethodGet, "/api/entries/pending", "")
	th.handlers.APIListPendingEntries(c)

	var entries []*store.Entry
	if err := json.Unmarshal(w.Body.Bytes(), &entries); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != pending.ID {
		t.Errorf("expected only the pending entry, got %+v", entries)
	}
}

func TestAPICalendars(t *testing.T) {
	t.Run("empty list returns empty array", func(t *testing.T) {
		th := setupTestHandlers(t)
		defer th.cleanup()

		w, c := jsonRequest(http.MethodGet, "/api/calendars", "")
		th.handlers.APIListCalendars(c)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}
		if strings.TrimSpace(w.Body.String()) != "[]" {
			t.Errorf("expected empty JSON array, got %s", w.Body.String())
		}
	})

	t.Run("toggle calendar", func(t *testing.T) {
		th := setupTestHandlers(t)
		defer th.cleanup()

		err := th.store.UpsertCalendar(&store.Calendar{
			CalendarID:  "cal-1",
			DisplayName: "Work",
			Enabled:     true,
		})
		if err != nil {
			t.Fatalf("failed to seed calendar: %v", err)
		}

		w, c := jsonRequest(http.MethodPatch, "/api/calendars/cal-1", `{"enabled":false}`)
		c.Params = gin.Params{{Key: "id", Value: "cal-1"}}
		th.handlers.APIUpdateCalendar(c)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
		}

		cal, err := th.store.GetCalendar("cal-1")
		if err != nil {
			t.Fatalf("failed to reload calendar: %v", err)
		}
		if cal.Enabled {
			t.Error("calendar should be disabled")
		}
	})

	t.Run("toggle unknown calendar returns 404", func(t *testing.T) {
		th := setupTestHandlers(t)
		defer th.cleanup()

		w, c := jsonRequest(http.MethodPatch, "/api/calendars/ghost", `{"enabled":true}`)
		c.Params = gin.Params{{Key: "id", Value: "ghost"}}
		th.handlers.APIUpdateCalendar(c)

		if w.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", w.Code)
		}
	})
}

func TestAPICalendarEvents(t *testing.T) {
	// seedEvents registers one calendar with a cached and an archived event.
	seedEvents := func(t *testing.T, th *testHandlers) {
		t.Helper()

		if err := th.store.UpsertCalendar(&store.Calendar{
			CalendarID:  "cal-1",
			DisplayName: "Work",
			Enabled:     true,
		}); err != nil {
			t.Fatalf("failed to seed calendar: %v", err)
		}
		if err := th.store.UpsertCachedEvent(&store.CachedEvent{
			CalendarID: "cal-1",
			EventID:    "ev-recent",
			Title:      "Standup",
			StartAt:    time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC),
			UpdatedAt:  time.Date(2026, 8, 19, 9, 0, 0, 0, time.UTC),
		}); err != nil {
			t.Fatalf("failed to seed cached event: %v", err)
		}
		if err := th.store.UpsertArchivedEvent(&store.CachedEvent{
			CalendarID: "cal-1",
			EventID:    "ev-old",
			Title:      "Offsite",
			StartAt:    time.Date(2019, 3, 10, 9, 0, 0, 0, time.UTC),
			UpdatedAt:  time.Date(2019, 3, 9, 9, 0, 0, 0, time.UTC),
		}); err != nil {
			t.Fatalf("failed to seed archived event: %v", err)
		}
	}

	t.Run("default source lists the cache", func(t *testing.T) {
		th := setupTestHandlers(t)
		defer th.cleanup()
		seedEvents(t, th)

		w, c := jsonRequest(http.MethodGet, "/api/calendars/cal-1/events", "")
		c.Params = gin.Params{{Key: "id", Value: "cal-1"}}
		th.handlers.APIListCalendarEvents(c)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
		}
		var events []*store.CachedEvent
		if err := json.Unmarshal(w.Body.Bytes(), &events); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if len(events) != 1 || events[0].EventID != "ev-recent" {
			t.Errorf("expected the cached event, got %+v", events)
		}
	})

	t.Run("archive source lists the archive", func(t *testing.T) {
		th := setupTestHandlers(t)
		defer th.cleanup()
		seedEvents(t, th)

		w, c := jsonRequest(http.MethodGet, "/api/calendars/cal-1/events?source=archive", "")
		c.Params = gin.Params{{Key: "id", Value: "cal-1"}}
		th.handlers.APIListCalendarEvents(c)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
		}
		var events []*store.CachedEvent
		if err := json.Unmarshal(w.Body.Bytes(), &events); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if len(events) != 1 || events[0].EventID != "ev-old" {
			t.Errorf("expected the archived event, got %+v", events)
		}
	})

	t.Run("unknown source returns 400", func(t *testing.T) {
		th := setupTestHandlers(t)
		defer th.cleanup()
		seedEvents(t, th)

		w, c := jsonRequest(http.MethodGet, "/api/calendars/cal-1/events?source=remote", "")
		c.Params = gin.Params{{Key: "id", Value: "cal-1"}}
		th.handlers.APIListCalendarEvents(c)

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", w.Code)
		}
	})

	t.Run("unknown calendar returns 404", func(t *testing.T) {
		th := setupTestHandlers(t)
		defer th.cleanup()

		w, c := jsonRequest(http.MethodGet, "/api/calendars/ghost/events", "")
		c.Params = gin.Params{{Key: "id", Value: "ghost"}}
		th.handlers.APIListCalendarEvents(c)

		if w.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", w.Code)
		}
	})
}

func TestAPILinkedEvents(t *testing.T) {
	th := setupTestHandlers(t)
	defer th.cleanup()

	entryID := "entry-1"
	if err := th.store.UpsertCachedEvent(&store.CachedEvent{
		CalendarID:    "cal-1",
		EventID:       "ev-linked",
		Title:         "Journal",
		StartAt:       time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC),
		UpdatedAt:     time.Date(2026, 8, 19, 9, 0, 0, 0, time.UTC),
		LinkedEntryID: &entryID,
	}); err != nil {
		t.Fatalf("failed to seed cached event: %v", err)
	}
	if err := th.store.UpsertCachedEvent(&store.CachedEvent{
		CalendarID: "cal-1",
		EventID:    "ev-foreign",
		Title:      "Not ours",
		StartAt:    time.Date(2026, 8, 21, 9, 0, 0, 0, time.UTC),
		UpdatedAt:  time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("failed to seed cached event: %v", err)
	}

	w, c := jsonRequest(http.MethodGet, "/api/events/linked", "")
	th.handlers.APIListLinkedEvents(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Cached   []*store.CachedEvent `json:"cached"`
		Archived []*store.CachedEvent `json:"archived"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Cached) != 1 || resp.Cached[0].EventID != "ev-linked" {
		t.Errorf("expected only the linked cached event, got %+v", resp.Cached)
	}
	if len(resp.Archived) != 0 {
		t.Errorf("expected no archived events, got %+v", resp.Archived)
	}
}

func TestAPIResolveConflict(t *testing.T) {
	// seedConflict creates an entry whose conflict awaits resolution.
	seedConflict := func(t *testing.T, st *store.Store) *store.Entry {
		t.Helper()
		entry := createTestEntry(t, st, "Local title")
		now := time.Now().UTC()
		if err := st.MarkEntrySynced(entry.ID, "cal-1", "ev-1", now.Add(-time.Hour)); err != nil {
			t.Fatalf("failed to link entry: %v", err)
		}
		err := st.FlagEntryConflict(entry.ID, "Remote title", "remote body",
			entry.EventDate, now.Add(-time.Minute), now)
		if err != nil {
			t.Fatalf("failed to flag conflict: %v", err)
		}
		return entry
	}

	t.Run("use_remote applies the remote snapshot", func(t *testing.T) {
		th := setupTestHandlers(t)
		defer th.cleanup()

		entry := seedConflict(t, th.store)

		w, c := jsonRequest(http.MethodPost, "/api/entries/"+entry.ID+"/resolve",
			`{"resolution":"use_remote"}`)
		c.Params = gin.Params{{Key: "id", Value: entry.ID}}

		th.handlers.APIResolveConflict(c)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
		}
		var resolved store.Entry
		if err := json.Unmarshal(w.Body.Bytes(), &resolved); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resolved.Title != "Remote title" {
			t.Errorf("remote content not applied: %q", resolved.Title)
		}
		if resolved.HasConflict {
			t.Error("conflict flag should be cleared")
		}
	})

	t.Run("use_local keeps local content", func(t *testing.T) {
		th := setupTestHandlers(t)
		defer th.cleanup()

		entry := seedConflict(t, th.store)

		w, c := jsonRequest(http.MethodPost, "/api/entries/"+entry.ID+"/resolve",
			`{"resolution":"use_local"}`)
		c.Params = gin.Params{{Key: "id", Value: entry.ID}}

		th.handlers.APIResolveConflict(c)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
		}
		var resolved store.Entry
		if err := json.Unmarshal(w.Body.Bytes(), &resolved); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resolved.Title != "Local title" {
			t.Errorf("local content should survive: %q", resolved.Title)
		}
		if !resolved.NeedsRemoteSync {
			t.Error("use_local should queue a push")
		}
	})

	t.Run("invalid resolution returns 400", func(t *testing.T) {
		th := setupTestHandlers(t)
		defer th.cleanup()

		entry := seedConflict(t, th.store)

		w, c := jsonRequest(http.MethodPost, "/api/entries/"+entry.ID+"/resolve",
			`{"resolution":"merge"}`)
		c.Params = gin.Params{{Key: "id", Value: entry.ID}}

		th.handlers.APIResolveConflict(c)

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", w.Code)
		}
	})

	t.Run("entry without conflict returns 409", func(t *testing.T) {
		th := setupTestHandlers(t)
		defer th.cleanup()

		entry := createTestEntry(t, th.store, "Clean")

		w, c := jsonRequest(http.MethodPost, "/api/entries/"+entry.ID+"/resolve",
			`{"resolution":"use_local"}`)
		c.Params = gin.Params{{Key: "id", Value: entry.ID}}

		th.handlers.APIResolveConflict(c)

		if w.Code != http.StatusConflict {
			t.Errorf("expected status 409, got %d", w.Code)
		}
	})

	t.Run("unknown entry returns 404", func(t *testing.T) {
		th := setupTestHandlers(t)
		defer th.cleanup()

		w, c := jsonRequest(http.MethodPost, "/api/entries/missing/resolve",
			`{"resolution":"use_local"}`)
		c.Params = gin.Params{{Key: "id", Value: "missing"}}

		th.handlers.APIResolveConflict(c)

		if w.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", w.Code)
		}
	})
}

func TestAPIPushEntry(t *testing.T) {
	// fake remote accepting event inserts
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var event calapi.Event
		json.NewDecoder(r.Body).Decode(&event)
		event.ID = "server-ev-1"
		event.Updated = time.Now().UTC()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(&event)
	}))
	defer remote.Close()

	th := setupTestHandlers(t)
	defer th.cleanup()

	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"})
	client, err := calapi.NewClient(remote.URL, tokenSource, 0)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	exec := retry.New(retry.WithRetryIf(calapi.IsRetryable))
	th.handlers.push = engine.NewPushEngine(th.store, client, exec, th.handlers.auditLog, "primary")

	entry := createTestEntry(t, th.store, "Push me")

	w, c := jsonRequest(http.MethodPost, "/api/entries/"+entry.ID+"/push", "")
	c.Params = gin.Params{{Key: "id", Value: entry.ID}}

	th.handlers.APIPushEntry(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var pushed store.Entry
	if err := json.Unmarshal(w.Body.Bytes(), &pushed); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if pushed.NeedsRemoteSync {
		t.Error("pushed entry should no longer be pending")
	}
	if pushed.LinkedEventID == nil || *pushed.LinkedEventID != "server-ev-1" {
		t.Errorf("entry should be linked to the server event: %+v", pushed.LinkedEventID)
	}
}

func TestAPIActivity(t *testing.T) {
	th := setupTestHandlers(t)
	defer th.cleanup()

	th.handlers.tracker.Start(activity.KindPull)
	th.handlers.tracker.Finish(activity.KindPull, "completed", "", 1, 0, 0, 0)

	w, c := jsonRequest(http.MethodGet, "/api/activity", "")
	th.handlers.APIActivity(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var response struct {
		Active []*activity.Run `json:"active"`
		Recent []*activity.Run `json:"recent"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(response.Active) != 0 {
		t.Errorf("expected no active runs, got %d", len(response.Active))
	}
	if len(response.Recent) != 1 || response.Recent[0].Status != "completed" {
		t.Errorf("unexpected history: %+v", response.Recent)
	}
}

func TestAPIArchiveStatusIdle(t *testing.T) {
	th := setupTestHandlers(t)
	defer th.cleanup()

	w, c := jsonRequest(http.MethodGet, "/api/archive", "")
	th.handlers.APIArchiveStatus(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response["running"] != false {
		t.Errorf("expected running=false, got %v", response["running"])
	}
}

func TestAPICancelArchiveWithoutRun(t *testing.T) {
	th := setupTestHandlers(t)
	defer th.cleanup()

	w, c := jsonRequest(http.MethodDelete, "/api/archive", "")
	th.handlers.APICancelArchive(c)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestAPIStartArchiveWithoutCalendars(t *testing.T) {
	th := setupTestHandlers(t)
	defer th.cleanup()

	w, c := jsonRequest(http.MethodPost, "/api/archive", "")
	th.handlers.APIStartArchive(c)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 with no enabled calendars, got %d", w.Code)
	}
}

func TestAPIExportAudit(t *testing.T) {
	t.Run("returns audit records as JSON", func(t *testing.T) {
		th := setupTestHandlers(t)
		defer th.cleanup()

		th.handlers.auditLog.Record("cal-1", &store.AuditRecord{
			SyncType:     store.SyncTypeIncremental,
			StartedAt:    time.Now().UTC().Add(-time.Second),
			EndedAt:      time.Now().UTC(),
			UpdatedCount: 2,
		})

		w, c := jsonRequest(http.MethodGet, "/api/audit", "")
		th.handlers.APIExportAudit(c)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
		}
		var records []map[string]interface{}
		if err := json.Unmarshal(w.Body.Bytes(), &records); err != nil {
			t.Fatalf("export is not valid JSON: %v", err)
		}
		if len(records) != 1 {
			t.Errorf("expected 1 record, got %d", len(records))
		}
	})

	t.Run("rejects out-of-range limit", func(t *testing.T) {
		th := setupTestHandlers(t)
		defer th.cleanup()

		for _, raw := range []string{"0", "1001", "abc"} {
			w, c := jsonRequest(http.MethodGet, "/api/audit?limit="+raw, "")
			th.handlers.APIExportAudit(c)
			if w.Code != http.StatusBadRequest {
				t.Errorf("limit=%s: expected status 400, got %d", raw, w.Code)
			}
		}
	})
}
