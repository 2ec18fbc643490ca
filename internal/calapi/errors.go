package calapi

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrConnectionFailed = errors.New("connection failed")
	ErrInvalidResponse  = errors.New("invalid server response")
)

// APIError is a non-2xx response from the calendar service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("calendar API error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("calendar API error: status %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the request may be retried as-is. 429 and 5xx
// qualify; everything else is a semantic failure the caller must handle.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsAuthError reports whether err is a 401 or 403 response. Auth errors are
// never retried here; the caller must re-authenticate.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsTokenExpired reports whether err is a 410 response, the remote's signal
// that a sync token is no longer valid and a full resync is required.
func IsTokenExpired(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusGone
}

// IsRateLimited reports whether err is a 429 response.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

// IsRetryable reports whether the operation that produced err may be retried:
// transport failures and retryable API statuses.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	// Transport-level failures (timeouts, resets) surface wrapped in
	// ErrConnectionFailed and are always worth retrying.
	return errors.Is(err, ErrConnectionFailed)
}

// StatusCode extracts the HTTP status from err, or 0 for transport failures.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
