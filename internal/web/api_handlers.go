package web

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/journalbridge/journalbridge/internal/activity"
	"github.com/journalbridge/journalbridge/internal/engine"
	"github.com/journalbridge/journalbridge/internal/store"
)

// sanitizeError returns a user-safe error message without exposing internal
// details. The full error is logged server-side only.
func sanitizeError(err error, userMessage string) string {
	if err != nil {
		log.Printf("Error: %s - Details: %v", userMessage, err)
	}
	return userMessage
}

// HealthCheck reports the health of the store and the remote calendar API.
func (h *Handlers) HealthCheck(c *gin.Context) {
	status := h.health.Check(c.Request.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

// Liveness is a minimal liveness probe.
func (h *Handlers) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// APITriggerSync runs one sync cycle synchronously and returns its summary.
// Cooldown and in-progress rejections map to 429 and 409.
func (h *Handlers) APITriggerSync(c *gin.Context) {
	h.tracker.Start(activity.KindPull)
	summary, err := h.service.RunSync(c.Request.Context())
	switch {
	case errors.Is(err, engine.ErrRateLimited):
		h.tracker.Finish(activity.KindPull, "skipped", err.Error(), 0, 0, 0, 0)
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		return
	case errors.Is(err, engine.ErrSyncInProgress):
		h.tracker.Finish(activity.KindPull, "skipped", err.Error(), 0, 0, 0, 0)
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	if err != nil {
		if summary == nil {
			summary = &engine.SyncSummary{}
		}
		h.tracker.Finish(activity.KindPull, "error", err.Error(),
			summary.Updated, summary.Deleted, summary.Skipped, summary.Conflicts)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   sanitizeError(err, "Sync completed with errors"),
			"summary": summary,
		})
		return
	}
	h.tracker.Finish(activity.KindPull, "completed", "",
		summary.Updated, summary.Deleted, summary.Skipped, summary.Conflicts)
	c.JSON(http.StatusOK, summary)
}

// APIActivity returns the currently running flows and recent history.
func (h *Handlers) APIActivity(c *gin.Context) {
	active, recent := h.tracker.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"active": active,
		"recent": recent,
	})
}

// APIListCalendars returns every known calendar descriptor.
func (h *Handlers) APIListCalendars(c *gin.Context) {
	cals, err := h.store.ListCalendars()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load calendars")})
		return
	}
	if cals == nil {
		cals = []*store.Calendar{}
	}
	c.JSON(http.StatusOK, cals)
}

// APIRefreshCalendars pulls the remote calendar list and registers new ones.
func (h *Handlers) APIRefreshCalendars(c *gin.Context) {
	if err := h.service.RefreshCalendarList(c.Request.Context(), h.client); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": sanitizeError(err, "Failed to refresh calendar list")})
		return
	}
	h.APIListCalendars(c)
}

// APIUpdateCalendarRequest toggles sync for one calendar.
type APIUpdateCalendarRequest struct {
	Enabled bool `json:"enabled"`
}

// APIUpdateCalendar enables or disables sync for a calendar.
func (h *Handlers) APIUpdateCalendar(c *gin.Context) {
	var req APIUpdateCalendarRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	calendarID := c.Param("id")
	if err := h.store.SetCalendarEnabled(calendarID, req.Enabled); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Calendar not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to update calendar")})
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": req.Enabled})
}

// APIListCalendarEvents returns the locally held events of one calendar,
// from the short-window cache by default or the archive with ?source=archive.
func (h *Handlers) APIListCalendarEvents(c *gin.Context) {
	calendarID := c.Param("id")
	if _, err := h.store.GetCalendar(calendarID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Calendar not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load calendar")})
		return
	}

	var (
		events []*store.CachedEvent
		err    error
	)
	switch c.Query("source") {
	case "", "cache":
		events, err = h.store.ListCachedEvents(calendarID)
	case "archive":
		events, err = h.store.ListArchivedEvents(calendarID)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "source must be cache or archive"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load events")})
		return
	}
	if events == nil {
		events = []*store.CachedEvent{}
	}
	c.JSON(http.StatusOK, events)
}

// APIListLinkedEvents returns every locally held event that carries a
// back-reference to an entry, split by where it is held.
func (h *Handlers) APIListLinkedEvents(c *gin.Context) {
	cached, err := h.store.ListLinkedCachedEvents()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load events")})
		return
	}
	archived, err := h.store.ListLinkedArchivedEvents()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load events")})
		return
	}
	if cached == nil {
		cached = []*store.CachedEvent{}
	}
	if archived == nil {
		archived = []*store.CachedEvent{}
	}
	c.JSON(http.StatusOK, gin.H{
		"cached":   cached,
		"archived": archived,
	})
}

// APIListEntries returns all entries, most recently updated first.
func (h *Handlers) APIListEntries(c *gin.Context) {
	entries, err := h.store.ListEntries()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load entries")})
		return
	}
	if entries == nil {
		entries = []*store.Entry{}
	}
	c.JSON(http.StatusOK, entries)
}

// APIGetEntry returns a single entry.
func (h *Handlers) APIGetEntry(c *gin.Context) {
	entry, err := h.store.GetEntryByID(c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Entry not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load entry")})
		return
	}
	c.JSON(http.StatusOK, entry)
}

// APIEntryRequest is the request body for creating or updating an entry.
type APIEntryRequest struct {
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	EventDate time.Time `json:"event_date"`
}

// APICreateEntry creates a new entry and schedules its push.
func (h *Handlers) APICreateEntry(c *gin.Context) {
	var req APIEntryRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.Title == "" || req.EventDate.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields: title, event_date"})
		return
	}

	entry := &store.Entry{
		Title:     req.Title,
		Body:      req.Body,
		EventDate: req.EventDate,
	}
	if err := h.store.CreateEntry(entry); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to create entry")})
		return
	}
	h.sched.TriggerPush(entry.ID)
	c.JSON(http.StatusCreated, entry)
}

// APIUpdateEntry updates entry content and schedules its push.
func (h *Handlers) APIUpdateEntry(c *gin.Context) {
	var req APIEntryRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.Title == "" || req.EventDate.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields: title, event_date"})
		return
	}

	entryID := c.Param("id")
	if err := h.store.UpdateEntryContent(entryID, req.Title, req.Body, req.EventDate); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Entry not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to update entry")})
		return
	}
	h.sched.TriggerPush(entryID)

	entry, err := h.store.GetEntryByID(entryID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load entry")})
		return
	}
	c.JSON(http.StatusOK, entry)
}

// APIDeleteEntry removes a local entry. The linked remote event, if any,
// is left in place.
func (h *Handlers) APIDeleteEntry(c *gin.Context) {
	if err := h.store.DeleteEntry(c.Param("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Entry not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to delete entry")})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// APIListPendingEntries returns entries awaiting a push.
func (h *Handlers) APIListPendingEntries(c *gin.Context) {
	entries, err := h.store.ListPendingEntries()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load pending entries")})
		return
	}
	if entries == nil {
		entries = []*store.Entry{}
	}
	c.JSON(http.StatusOK, entries)
}

// APIListConflicts returns entries whose conflicts await resolution, with
// the remote snapshot attached to each.
func (h *Handlers) APIListConflicts(c *gin.Context) {
	entries, err := h.store.ListConflictedEntries()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load conflicts")})
		return
	}
	if entries == nil {
		entries = []*store.Entry{}
	}
	c.JSON(http.StatusOK, entries)
}

// APIResolveConflictRequest selects which side of a conflict wins.
type APIResolveConflictRequest struct {
	Resolution string `json:"resolution"`
}

// APIResolveConflict applies a conflict resolution choice to an entry.
func (h *Handlers) APIResolveConflict(c *gin.Context) {
	var req APIResolveConflictRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	resolution := engine.Resolution(req.Resolution)
	if !resolution.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "resolution must be use_local or use_remote"})
		return
	}

	entryID := c.Param("id")
	if err := h.resolver.Resolve(entryID, resolution); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Entry not found"})
		case errors.Is(err, store.ErrNoConflict):
			c.JSON(http.StatusConflict, gin.H{"error": "Entry has no unresolved conflict"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to resolve conflict")})
		}
		return
	}

	entry, err := h.store.GetEntryByID(entryID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load entry")})
		return
	}
	c.JSON(http.StatusOK, entry)
}

// APIPushEntryRequest optionally overrides the target calendar.
type APIPushEntryRequest struct {
	CalendarID string `json:"calendar_id"`
}

// APIPushEntry pushes one entry to the remote calendar immediately.
func (h *Handlers) APIPushEntry(c *gin.Context) {
	var req APIPushEntryRequest
	if c.Request.ContentLength > 0 {
		if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
	}

	entryID := c.Param("id")
	if err := h.push.PushEntry(c.Request.Context(), entryID, req.CalendarID); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Entry not found"})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"error": sanitizeError(err, "Failed to push entry")})
		}
		return
	}

	entry, err := h.store.GetEntryByID(entryID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load entry")})
		return
	}
	c.JSON(http.StatusOK, entry)
}

// APIResendPending drains the pending push queue synchronously.
func (h *Handlers) APIResendPending(c *gin.Context) {
	summary, err := h.push.ResendPending(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": sanitizeError(err, "Failed to resend pending entries")})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// APIStartArchive starts (or reports) the archive import run. The run
// survives the request; progress is tracked through the activity tracker
// and the archive status endpoint.
func (h *Handlers) APIStartArchive(c *gin.Context) {
	if active := h.importer.Active(); active != nil {
		c.JSON(http.StatusConflict, gin.H{
			"running":  true,
			"progress": active.Progress(),
		})
		return
	}

	calendars, err := h.store.ListEnabledCalendars()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load calendars")})
		return
	}
	if len(calendars) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No enabled calendars to import"})
		return
	}

	h.tracker.Start(activity.KindArchive)
	handle := h.importer.Start(context.Background(), calendars, nil)
	go func() {
		outcome, err := handle.Wait()
		p := handle.Progress()
		msg := ""
		status := string(outcome)
		if err != nil {
			msg = err.Error()
		}
		h.tracker.Finish(activity.KindArchive, status, msg, p.Imported, p.Deleted, p.Skipped, 0)
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"running":  true,
		"progress": handle.Progress(),
	})
}

// APIArchiveStatus reports the state of the archive import run.
func (h *Handlers) APIArchiveStatus(c *gin.Context) {
	active := h.importer.Active()
	if active == nil {
		c.JSON(http.StatusOK, gin.H{"running": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"running":  true,
		"progress": active.Progress(),
	})
}

// APICancelArchive requests cancellation of the active archive run.
// Progress made so far is preserved and the run resumes from its
// checkpoint next time.
func (h *Handlers) APICancelArchive(c *gin.Context) {
	active := h.importer.Active()
	if active == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No archive import is running"})
		return
	}
	active.Cancel()
	c.JSON(http.StatusAccepted, gin.H{"cancelling": true})
}

// APIExportAudit returns recent audit records as JSON. Records contain
// hashed calendar ids and counters only, never event content.
func (h *Handlers) APIExportAudit(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}

	data, err := h.auditLog.ExportJSON(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to export audit log")})
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}
