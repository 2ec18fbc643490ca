// Package notify sends webhook alerts when sync runs exhaust their retries.
// Alerts are best-effort and rate limited per subject by a cooldown; a
// failing webhook never affects sync state.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

// AlertType represents the type of alert.
type AlertType string

const (
	AlertTypeError    AlertType = "error"
	AlertTypeRecovery AlertType = "recovery"
)

// Alert represents a notification alert. Subject is an opaque label such as
// a hashed calendar id; raw calendar ids or entry content never go out.
type Alert struct {
	Type      AlertType `json:"type"`
	Subject   string    `json:"subject"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Config holds notification configuration.
type Config struct {
	WebhookEnabled bool
	WebhookURL     string
	CooldownPeriod time.Duration
}

// Notifier sends alert notifications.
type Notifier struct {
	cfg        *Config
	httpClient *http.Client

	mu             sync.Mutex
	lastAlertTimes map[string]time.Time
}

// New creates a new Notifier.
func New(cfg *Config) *Notifier {
	return &Notifier{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		lastAlertTimes: make(map[string]time.Time),
	}
}

// IsEnabled reports whether any alert channel is configured.
func (n *Notifier) IsEnabled() bool {
	return n.cfg != nil && n.cfg.WebhookEnabled && n.cfg.WebhookURL != ""
}

// Send delivers an alert, honoring the per-subject cooldown. Failures are
// logged and swallowed.
func (n *Notifier) Send(ctx context.Context, alert Alert) {
	if !n.IsEnabled() {
		return
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}

	n.mu.Lock()
	last, seen := n.lastAlertTimes[alert.Subject]
	if seen && time.Since(last) < n.cfg.CooldownPeriod {
		n.mu.Unlock()
		return
	}
	n.lastAlertTimes[alert.Subject] = time.Now()
	n.mu.Unlock()

	if err := n.sendWebhook(ctx, alert); err != nil {
		log.Printf("Failed to send alert webhook: %v", err)
	}
}

func (n *Notifier) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
