package engine

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/journalbridge/journalbridge/internal/audit"
	"github.com/journalbridge/journalbridge/internal/calapi"
	"github.com/journalbridge/journalbridge/internal/retry"
	"github.com/journalbridge/journalbridge/internal/store"
)

// testEnv bundles the store-side collaborators every engine needs.
type testEnv struct {
	store *store.Store
	audit *audit.Logger
	retry *retry.Executor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "journalbridge-test-*")
	require.NoError(t, err)

	st, err := store.Open(filepath.Join(tempDir, "test.db"))
	if err != nil {
		os.RemoveAll(tempDir)
		t.Fatalf("failed to open store: %v", err)
	}

	t.Cleanup(func() {
		st.Close()
		os.RemoveAll(tempDir)
	})

	return &testEnv{
		store: st,
		audit: audit.NewLogger(st),
		retry: retry.New(retry.WithRetryIf(calapi.IsRetryable)),
	}
}

// newTestClient points a calendar API client at a fake remote.
func newTestClient(t *testing.T, handler http.Handler) *calapi.Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"})
	client, err := calapi.NewClient(server.URL, tokenSource, 0)
	require.NoError(t, err)
	return client
}

// addCalendar registers an enabled calendar, optionally with a sync token.
func (e *testEnv) addCalendar(t *testing.T, calendarID, syncToken string) *store.Calendar {
	t.Helper()

	cal := &store.Calendar{CalendarID: calendarID, DisplayName: calendarID, Enabled: true}
	require.NoError(t, e.store.UpsertCalendar(cal))
	if syncToken != "" {
		require.NoError(t, e.store.SetSyncToken(calendarID, syncToken, nowUTC()))
		cal.SyncToken = syncToken
	}
	return cal
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// lastAuditRecord returns the most recent audit row.
func (e *testEnv) lastAuditRecord(t *testing.T) *store.AuditRecord {
	t.Helper()

	records, err := e.store.ListAuditRecords(1)
	require.NoError(t, err)
	require.NotEmpty(t, records, "expected an audit record")
	return records[0]
}
