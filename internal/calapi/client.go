package calapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout    = 30 * time.Second
	minTLSVersion     = tls.VersionTLS12
	defaultMinSpacing = 100 * time.Millisecond
	maxResultsPerPage = 250
)

// Client provides typed operations against the calendar REST API. All calls
// pass through a rate limiter enforcing a minimum inter-request spacing,
// which holds regardless of retry state above it.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	tokenSource oauth2.TokenSource
	limiter     *rate.Limiter
}

// NewClient creates a calendar API client. The token source is the external
// auth collaborator: a valid bearer token is obtainable asynchronously from
// it, and the client fetches one per request.
func NewClient(baseURL string, tokenSource oauth2.TokenSource, minSpacing time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: base URL is required", ErrConnectionFailed)
	}
	if tokenSource == nil {
		return nil, fmt.Errorf("%w: token source is required", ErrConnectionFailed)
	}
	if minSpacing < defaultMinSpacing {
		minSpacing = defaultMinSpacing
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: minTLSVersion,
		},
		MaxIdleConns:        10,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		httpClient:  &http.Client{Timeout: defaultTimeout, Transport: transport},
		tokenSource: tokenSource,
		limiter:     rate.NewLimiter(rate.Every(minSpacing), 1),
	}, nil
}

// ListEvents fetches one page of events. With req.SyncToken set it returns
// the delta since that token; otherwise it lists the [TimeMin, TimeMax]
// window. The final page of a traversal carries NextSyncToken.
func (c *Client) ListEvents(ctx context.Context, req ListEventsRequest) (*EventsPage, error) {
	params := url.Values{}
	params.Set("maxResults", fmt.Sprintf("%d", maxResultsPerPage))
	if req.SyncToken != "" {
		params.Set("syncToken", req.SyncToken)
	} else {
		if !req.TimeMin.IsZero() {
			params.Set("timeMin", req.TimeMin.UTC().Format(time.RFC3339))
		}
		if !req.TimeMax.IsZero() {
			params.Set("timeMax", req.TimeMax.UTC().Format(time.RFC3339))
		}
	}
	if req.PageToken != "" {
		params.Set("pageToken", req.PageToken)
	}

	path := fmt.Sprintf("/calendars/%s/events?%s", url.PathEscape(req.CalendarID), params.Encode())
	page := &EventsPage{}
	if err := c.do(ctx, http.MethodGet, path, nil, page); err != nil {
		return nil, err
	}
	return page, nil
}

// InsertEvent creates a new event and returns the stored version, including
// the server-assigned id and updated timestamp.
func (c *Client) InsertEvent(ctx context.Context, calendarID string, event *Event) (*Event, error) {
	path := fmt.Sprintf("/calendars/%s/events", url.PathEscape(calendarID))
	created := &Event{}
	if err := c.do(ctx, http.MethodPost, path, event, created); err != nil {
		return nil, err
	}
	return created, nil
}

// UpdateEvent replaces an existing event and returns the stored version.
func (c *Client) UpdateEvent(ctx context.Context, calendarID, eventID string, event *Event) (*Event, error) {
	path := fmt.Sprintf("/calendars/%s/events/%s", url.PathEscape(calendarID), url.PathEscape(eventID))
	updated := &Event{}
	if err := c.do(ctx, http.MethodPut, path, event, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteEvent removes an event.
func (c *Client) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	path := fmt.Sprintf("/calendars/%s/events/%s", url.PathEscape(calendarID), url.PathEscape(eventID))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// ListCalendars fetches one page of the user's calendar list.
func (c *Client) ListCalendars(ctx context.Context, pageToken string) (*CalendarListPage, error) {
	path := "/users/me/calendarList"
	if pageToken != "" {
		path += "?pageToken=" + url.QueryEscape(pageToken)
	}
	page := &CalendarListPage{}
	if err := c.do(ctx, http.MethodGet, path, nil, page); err != nil {
		return nil, err
	}
	return page, nil
}

// do performs one HTTP round trip: wait out the minimum request spacing,
// attach a bearer token, send, and map the response onto the error taxonomy.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	token, err := c.tokenSource.Token()
	if err != nil {
		return fmt.Errorf("failed to obtain bearer token: %w", err)
	}
	token.SetAuthHeader(req)

	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    readErrorMessage(resp.Body),
		}
	}

	if out == nil {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	return nil
}

// readErrorMessage extracts the error message from a non-2xx body, tolerating
// both {"error":{"message":...}} and plain-text bodies.
func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}

	var wrapped struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Error.Message != "" {
		return wrapped.Error.Message
	}
	return strings.TrimSpace(string(raw))
}
