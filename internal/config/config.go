package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var (
	ErrMissingConfig = errors.New("missing required configuration")
	ErrInvalidConfig = errors.New("invalid configuration value")
)

// Environment represents the deployment environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Remote   RemoteConfig
	Database DatabaseConfig
	Sync     SyncConfig
	Archive  ArchiveConfig
	Alerts   AlertConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port        int
	Environment Environment
}

// RemoteConfig holds calendar API configuration.
type RemoteConfig struct {
	BaseURL string
	// Token is a static bearer token used when no external token source
	// is wired in at startup.
	Token string
	// MinRequestSpacing is the minimum delay between consecutive API calls.
	MinRequestSpacing time.Duration
	// DefaultCalendarID receives pushes for entries with no target calendar.
	DefaultCalendarID string
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string
}

// SyncConfig holds sync window and cadence configuration.
type SyncConfig struct {
	// PastDays and FutureDays define the rolling short-window cache
	// [now-PastDays, now+FutureDays].
	PastDays   int
	FutureDays int
	// Interval between scheduled pull cycles.
	Interval time.Duration
	// Cooldown is the minimum spacing between accepted sync starts.
	Cooldown time.Duration
	// ConflictTolerance absorbs clock skew when comparing local and remote
	// timestamps for conflict detection.
	ConflictTolerance time.Duration
}

// ArchiveConfig holds historical import configuration.
type ArchiveConfig struct {
	// Epoch is the earliest date the archive importer reaches back to.
	Epoch time.Time
	// WindowMonths is the size of each import range.
	WindowMonths int
	// FutureMonths extends the archive range past now.
	FutureMonths int
}

// AlertConfig holds failure alert configuration.
type AlertConfig struct {
	WebhookEnabled  bool
	WebhookURL      string
	CooldownMinutes int
}

// Load loads configuration from environment variables.
// It attempts to load from .env file first, but continues if not found.
func Load() (*Config, error) {
	// Attempt to load .env file (ignore error if not found)
	_ = godotenv.Load() //nolint:errcheck // Intentionally ignore - .env file is optional

	cfg := &Config{}

	port, err := getEnvInt("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("%w: PORT: %w", ErrInvalidConfig, err)
	}
	cfg.Server.Port = port
	cfg.Server.Environment = Environment(strings.ToLower(getEnv("ENVIRONMENT", "production")))

	cfg.Remote.BaseURL = getEnvRequired("CALENDAR_API_BASE_URL")
	cfg.Remote.Token = os.Getenv("CALENDAR_API_TOKEN")
	cfg.Remote.DefaultCalendarID = getEnv("CALENDAR_DEFAULT_ID", "primary")

	spacingMs, err := getEnvInt("MIN_REQUEST_SPACING_MS", 100)
	if err != nil {
		return nil, fmt.Errorf("%w: MIN_REQUEST_SPACING_MS: %w", ErrInvalidConfig, err)
	}
	if spacingMs < 100 {
		spacingMs = 100
	}
	cfg.Remote.MinRequestSpacing = time.Duration(spacingMs) * time.Millisecond

	cfg.Database.Path = getEnv("DATABASE_PATH", "./data/journalbridge.db")

	pastDays, err := getEnvInt("SYNC_PAST_DAYS", 30)
	if err != nil {
		return nil, fmt.Errorf("%w: SYNC_PAST_DAYS: %w", ErrInvalidConfig, err)
	}
	cfg.Sync.PastDays = pastDays

	futureDays, err := getEnvInt("SYNC_FUTURE_DAYS", 30)
	if err != nil {
		return nil, fmt.Errorf("%w: SYNC_FUTURE_DAYS: %w", ErrInvalidConfig, err)
	}
	cfg.Sync.FutureDays = futureDays

	intervalSecs, err := getEnvInt("SYNC_INTERVAL_SECS", 300)
	if err != nil {
		return nil, fmt.Errorf("%w: SYNC_INTERVAL_SECS: %w", ErrInvalidConfig, err)
	}
	cfg.Sync.Interval = time.Duration(intervalSecs) * time.Second

	cooldownSecs, err := getEnvInt("SYNC_COOLDOWN_SECS", 5)
	if err != nil {
		return nil, fmt.Errorf("%w: SYNC_COOLDOWN_SECS: %w", ErrInvalidConfig, err)
	}
	cfg.Sync.Cooldown = time.Duration(cooldownSecs) * time.Second

	toleranceSecs, err := getEnvInt("CONFLICT_TOLERANCE_SECS", 30)
	if err != nil {
		return nil, fmt.Errorf("%w: CONFLICT_TOLERANCE_SECS: %w", ErrInvalidConfig, err)
	}
	cfg.Sync.ConflictTolerance = time.Duration(toleranceSecs) * time.Second

	epochStr := getEnv("ARCHIVE_EPOCH", "2010-01-01")
	epoch, err := time.Parse("2006-01-02", epochStr)
	if err != nil {
		return nil, fmt.Errorf("%w: ARCHIVE_EPOCH: %w", ErrInvalidConfig, err)
	}
	cfg.Archive.Epoch = epoch.UTC()

	windowMonths, err := getEnvInt("ARCHIVE_WINDOW_MONTHS", 6)
	if err != nil {
		return nil, fmt.Errorf("%w: ARCHIVE_WINDOW_MONTHS: %w", ErrInvalidConfig, err)
	}
	if windowMonths < 1 {
		return nil, fmt.Errorf("%w: ARCHIVE_WINDOW_MONTHS must be positive", ErrInvalidConfig)
	}
	cfg.Archive.WindowMonths = windowMonths

	futureMonths, err := getEnvInt("ARCHIVE_FUTURE_MONTHS", 12)
	if err != nil {
		return nil, fmt.Errorf("%w: ARCHIVE_FUTURE_MONTHS: %w", ErrInvalidConfig, err)
	}
	cfg.Archive.FutureMonths = futureMonths

	cfg.Alerts.WebhookEnabled = getEnvBool("ALERT_WEBHOOK_ENABLED", false)
	cfg.Alerts.WebhookURL = os.Getenv("ALERT_WEBHOOK_URL")

	alertCooldown, err := getEnvInt("ALERT_COOLDOWN_MINUTES", 60)
	if err != nil {
		return nil, fmt.Errorf("%w: ALERT_COOLDOWN_MINUTES: %w", ErrInvalidConfig, err)
	}
	cfg.Alerts.CooldownMinutes = alertCooldown

	missing := cfg.getMissingRequired()
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}

	return cfg, nil
}

// getMissingRequired returns a list of missing required configuration values.
func (c *Config) getMissingRequired() []string {
	var missing []string

	if c.Remote.BaseURL == "" {
		missing = append(missing, "CALENDAR_API_BASE_URL")
	}
	if c.Alerts.WebhookEnabled && c.Alerts.WebhookURL == "" {
		missing = append(missing, "ALERT_WEBHOOK_URL")
	}

	return missing
}

// Validate checks URL formats and window sanity.
func (c *Config) Validate() error {
	if err := validateURL(c.Remote.BaseURL, c.IsProduction()); err != nil {
		return fmt.Errorf("%w: CALENDAR_API_BASE_URL: %w", ErrInvalidConfig, err)
	}
	if c.Alerts.WebhookEnabled {
		if err := validateURL(c.Alerts.WebhookURL, c.IsProduction()); err != nil {
			return fmt.Errorf("%w: ALERT_WEBHOOK_URL: %w", ErrInvalidConfig, err)
		}
	}
	if c.Sync.PastDays < 0 || c.Sync.FutureDays < 0 {
		return fmt.Errorf("%w: sync window days must not be negative", ErrInvalidConfig)
	}
	return nil
}

// validateURL checks that a URL is well formed; in production it must be HTTPS.
func validateURL(raw string, requireHTTPS bool) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Host == "" {
		return errors.New("invalid URL: missing host")
	}
	if requireHTTPS && u.Scheme != "https" {
		return errors.New("HTTPS is required")
	}
	if !requireHTTPS && u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == EnvDevelopment
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == EnvProduction
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvRequired returns the value of an environment variable.
// Returns empty string if not set (caller should check for required values).
func getEnvRequired(key string) string {
	return os.Getenv(key)
}

// getEnvInt returns the integer value of an environment variable or a default.
func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %w", err)
	}
	return parsed, nil
}

// getEnvBool returns the boolean value of an environment variable or a default.
func getEnvBool(key string, defaultValue bool) bool {
	value := strings.ToLower(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value == "1" || value == "true" || value == "yes"
}
