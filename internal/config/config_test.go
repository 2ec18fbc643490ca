package config

import (
	"errors"
	"testing"
	"time"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CALENDAR_API_BASE_URL", "https://calendar.example.com")
	t.Setenv("CALENDAR_API_TOKEN", "test-token")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if !cfg.IsProduction() {
		t.Error("expected production as the default environment")
	}
	if cfg.Remote.MinRequestSpacing != 100*time.Millisecond {
		t.Errorf("expected 100ms default spacing, got %v", cfg.Remote.MinRequestSpacing)
	}
	if cfg.Remote.DefaultCalendarID != "primary" {
		t.Errorf("expected primary default calendar, got %q", cfg.Remote.DefaultCalendarID)
	}
	if cfg.Sync.PastDays != 30 || cfg.Sync.FutureDays != 30 {
		t.Errorf("expected 30/30 day window, got %d/%d", cfg.Sync.PastDays, cfg.Sync.FutureDays)
	}
	if cfg.Sync.Cooldown != 5*time.Second {
		t.Errorf("expected 5s cooldown, got %v", cfg.Sync.Cooldown)
	}
	if cfg.Sync.ConflictTolerance != 30*time.Second {
		t.Errorf("expected 30s tolerance, got %v", cfg.Sync.ConflictTolerance)
	}
	if got := cfg.Archive.Epoch; got != time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC) {
		t.Errorf("unexpected archive epoch %v", got)
	}
	if cfg.Archive.WindowMonths != 6 || cfg.Archive.FutureMonths != 12 {
		t.Errorf("unexpected archive windows %d/%d", cfg.Archive.WindowMonths, cfg.Archive.FutureMonths)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("CALENDAR_API_BASE_URL", "")

	_, err := Load()
	if !errors.Is(err, ErrMissingConfig) {
		t.Errorf("expected ErrMissingConfig, got %v", err)
	}
}

func TestLoadWebhookRequiresURL(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("ALERT_WEBHOOK_ENABLED", "true")
	t.Setenv("ALERT_WEBHOOK_URL", "")

	_, err := Load()
	if !errors.Is(err, ErrMissingConfig) {
		t.Errorf("expected ErrMissingConfig, got %v", err)
	}
}

func TestMinRequestSpacingFloor(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("MIN_REQUEST_SPACING_MS", "10")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Remote.MinRequestSpacing != 100*time.Millisecond {
		t.Errorf("spacing below floor should clamp to 100ms, got %v", cfg.Remote.MinRequestSpacing)
	}
}

func TestLoadInvalidInt(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("SYNC_PAST_DAYS", "not-a-number")

	_, err := Load()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name        string
		environment Environment
		baseURL     string
		wantErr     bool
	}{
		{
			name:        "https in production",
			environment: EnvProduction,
			baseURL:     "https://calendar.example.com",
			wantErr:     false,
		},
		{
			name:        "http rejected in production",
			environment: EnvProduction,
			baseURL:     "http://calendar.example.com",
			wantErr:     true,
		},
		{
			name:        "http allowed in development",
			environment: EnvDevelopment,
			baseURL:     "http://localhost:9090",
			wantErr:     false,
		},
		{
			name:        "missing host rejected",
			environment: EnvDevelopment,
			baseURL:     "https://",
			wantErr:     true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.Server.Environment = tc.environment
			cfg.Remote.BaseURL = tc.baseURL

			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateNegativeWindow(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Environment = EnvDevelopment
	cfg.Remote.BaseURL = "http://localhost:9090"
	cfg.Sync.PastDays = -1

	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}
