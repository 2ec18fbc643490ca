package web

import (
	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all application routes.
func SetupRoutes(r *gin.Engine, h *Handlers) {
	// Health endpoints (no rate limit)
	r.GET("/health", h.HealthCheck)
	r.GET("/healthz", h.Liveness)

	apiRateLimiter := RateLimiter(30, 60) // 30 requests/sec, burst of 60
	api := r.Group("/api")
	api.Use(apiRateLimiter)
	api.Use(RequireJSONContentType())
	{
		api.POST("/sync", h.APITriggerSync)
		api.GET("/activity", h.APIActivity)

		api.GET("/calendars", h.APIListCalendars)
		api.POST("/calendars/refresh", h.APIRefreshCalendars)
		api.PATCH("/calendars/:id", h.APIUpdateCalendar)
		api.GET("/calendars/:id/events", h.APIListCalendarEvents)
		api.GET("/events/linked", h.APIListLinkedEvents)

		api.GET("/entries", h.APIListEntries)
		api.POST("/entries", h.APICreateEntry)
		api.GET("/entries/pending", h.APIListPendingEntries)
		api.GET("/entries/conflicts", h.APIListConflicts)
		api.GET("/entries/:id", h.APIGetEntry)
		api.PUT("/entries/:id", h.APIUpdateEntry)
		api.DELETE("/entries/:id", h.APIDeleteEntry)
		api.POST("/entries/:id/push", h.APIPushEntry)
		api.POST("/entries/:id/resolve", h.APIResolveConflict)
		api.POST("/push/resend", h.APIResendPending)

		api.POST("/archive", h.APIStartArchive)
		api.GET("/archive", h.APIArchiveStatus)
		api.DELETE("/archive", h.APICancelArchive)

		api.GET("/audit", h.APIExportAudit)
	}
}
