package web

import (
	"github.com/journalbridge/journalbridge/internal/activity"
	"github.com/journalbridge/journalbridge/internal/audit"
	"github.com/journalbridge/journalbridge/internal/calapi"
	"github.com/journalbridge/journalbridge/internal/config"
	"github.com/journalbridge/journalbridge/internal/engine"
	"github.com/journalbridge/journalbridge/internal/health"
	"github.com/journalbridge/journalbridge/internal/scheduler"
	"github.com/journalbridge/journalbridge/internal/store"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	cfg      *config.Config
	store    *store.Store
	client   *calapi.Client
	service  *engine.Service
	push     *engine.PushEngine
	resolver *engine.Resolver
	importer *engine.Importer
	auditLog *audit.Logger
	tracker  *activity.Tracker
	sched    *scheduler.Scheduler
	health   *health.Checker
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(
	cfg *config.Config,
	st *store.Store,
	client *calapi.Client,
	service *engine.Service,
	push *engine.PushEngine,
	resolver *engine.Resolver,
	importer *engine.Importer,
	auditLog *audit.Logger,
	tracker *activity.Tracker,
	sched *scheduler.Scheduler,
	healthChecker *health.Checker,
) *Handlers {
	return &Handlers{
		cfg:      cfg,
		store:    st,
		client:   client,
		service:  service,
		push:     push,
		resolver: resolver,
		importer: importer,
		auditLog: auditLog,
		tracker:  tracker,
		sched:    sched,
		health:   healthChecker,
	}
}
