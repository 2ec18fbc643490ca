package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"

	"github.com/journalbridge/journalbridge/internal/activity"
	"github.com/journalbridge/journalbridge/internal/audit"
	"github.com/journalbridge/journalbridge/internal/calapi"
	"github.com/journalbridge/journalbridge/internal/config"
	"github.com/journalbridge/journalbridge/internal/engine"
	"github.com/journalbridge/journalbridge/internal/health"
	"github.com/journalbridge/journalbridge/internal/notify"
	"github.com/journalbridge/journalbridge/internal/retry"
	"github.com/journalbridge/journalbridge/internal/scheduler"
	"github.com/journalbridge/journalbridge/internal/store"
	"github.com/journalbridge/journalbridge/internal/web"
)

const (
	readTimeout     = 10 * time.Second
	writeTimeout    = 30 * time.Second
	idleTimeout     = 120 * time.Second
	shutdownTimeout = 30 * time.Second
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting JournalBridge...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Set Gin mode
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize store
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("Error closing store: %v", err)
		}
	}()

	// Initialize calendar API client. The static token from the
	// environment stands in for an external token source.
	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Remote.Token})
	client, err := calapi.NewClient(cfg.Remote.BaseURL, tokenSource, cfg.Remote.MinRequestSpacing)
	if err != nil {
		log.Fatalf("Failed to initialize calendar client: %v", err)
	}

	// Retry executor shared by all remote flows
	exec := retry.New(retry.WithRetryIf(calapi.IsRetryable))

	// Audit logging with hashed calendar ids
	auditLog := audit.NewLogger(st)

	// Sync engines
	pull := engine.NewPullEngine(st, client, exec, auditLog)
	reflector := engine.NewReflector(st, cfg.Sync.ConflictTolerance)
	evictor := engine.NewEvictor(st)
	limiter := engine.NewRateLimiter(st, cfg.Sync.Cooldown)
	service := engine.NewService(st, pull, reflector, evictor, limiter, auditLog, cfg.Sync)
	push := engine.NewPushEngine(st, client, exec, auditLog, cfg.Remote.DefaultCalendarID)
	importer := engine.NewImporter(st, client, exec, auditLog, cfg.Archive)

	// Activity tracker for the status API
	tracker := activity.NewTracker()

	// Notifier for failure alerts
	notifier := notify.New(&notify.Config{
		WebhookEnabled: cfg.Alerts.WebhookEnabled,
		WebhookURL:     cfg.Alerts.WebhookURL,
		CooldownPeriod: time.Duration(cfg.Alerts.CooldownMinutes) * time.Minute,
	})
	if notifier.IsEnabled() {
		log.Printf("Alert notifications enabled (webhook, cooldown: %d min)", cfg.Alerts.CooldownMinutes)
	}

	// Initialize scheduler
	sched := scheduler.New(service, push, auditLog, tracker, notifier, cfg.Sync.Interval)

	// Conflict resolver; use_local schedules a follow-up push
	resolver := engine.NewResolver(st, sched.TriggerPush)

	// Initialize health checker
	healthChecker := health.NewChecker(st, cfg.Remote.BaseURL)

	// Initialize handlers
	handlers := web.NewHandlers(
		cfg,
		st,
		client,
		service,
		push,
		resolver,
		importer,
		auditLog,
		tracker,
		sched,
		healthChecker,
	)

	// Setup Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(web.RequestLogger())
	router.Use(web.SecurityHeaders())

	// Setup routes
	web.SetupRoutes(router, handlers)

	// Register remote calendars before the first cycle; a failure here is
	// not fatal, the list refresh can be retried through the API.
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	if err := service.RefreshCalendarList(startupCtx, client); err != nil {
		log.Printf("Initial calendar list refresh failed: %v", err)
	}
	cancelStartup()

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	// Start scheduler
	sched.Start()

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Cancel any running archive import; its checkpoint preserves progress
	if active := importer.Active(); active != nil {
		active.Cancel()
		active.Wait()
	}

	// Stop scheduler
	sched.Stop()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
