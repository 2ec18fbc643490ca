package health

import (
	"context"
	"net/http"
	"time"
)

// Status is the result of a health check pass.
type Status struct {
	Healthy  bool              `json:"healthy"`
	Checks   map[string]string `json:"checks"`
	Checked  time.Time         `json:"checked"`
	Duration string            `json:"duration"`
}

// Pinger is anything with a cheap liveness probe, such as the store.
type Pinger interface {
	Ping() error
}

// Checker verifies the store and the remote API endpoint are reachable.
type Checker struct {
	store      Pinger
	remoteURL  string
	httpClient *http.Client
}

// NewChecker creates a health checker.
func NewChecker(store Pinger, remoteURL string) *Checker {
	return &Checker{
		store:     store,
		remoteURL: remoteURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Check runs all probes and returns the aggregate status.
func (c *Checker) Check(ctx context.Context) *Status {
	started := time.Now()
	status := &Status{
		Healthy: true,
		Checks:  make(map[string]string),
		Checked: started.UTC(),
	}

	if err := c.store.Ping(); err != nil {
		status.Healthy = false
		status.Checks["database"] = "unreachable"
	} else {
		status.Checks["database"] = "ok"
	}

	if c.remoteURL != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.remoteURL, nil)
		if err == nil {
			resp, err := c.httpClient.Do(req)
			if err != nil {
				status.Checks["remote"] = "unreachable"
			} else {
				resp.Body.Close()
				// Any HTTP answer means the endpoint is up; auth failures
				// are a token problem, not a liveness problem.
				status.Checks["remote"] = "ok"
			}
		}
	}

	status.Duration = time.Since(started).Round(time.Millisecond).String()
	return status
}
