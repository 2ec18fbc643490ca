package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/journalbridge/journalbridge/internal/calapi"
	"github.com/journalbridge/journalbridge/internal/store"
)

var (
	// ErrSyncInProgress is returned when a pull cycle is already running.
	// Rejected requests are not queued; the caller decides whether to retry.
	ErrSyncInProgress = errors.New("a pull cycle is already running")

	// ErrRateLimited is returned when the sync cooldown has not elapsed.
	ErrRateLimited = errors.New("sync rejected by cooldown")

	// ErrCancelled is the distinct, non-failure outcome of a cooperative
	// cancellation. Partial progress is always preserved behind it.
	ErrCancelled = errors.New("operation cancelled")
)

// NetworkError is a transient transport failure. Retryable.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error: %v", e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// RemoteAPIError is a semantic response from the calendar service. Mostly
// non-retryable; 429 retries with backoff and 410 triggers a token reset
// one level up instead of a plain retry.
type RemoteAPIError struct {
	StatusCode int
	Err        error
}

func (e *RemoteAPIError) Error() string {
	return fmt.Sprintf("remote API error (status %d): %v", e.StatusCode, e.Err)
}
func (e *RemoteAPIError) Unwrap() error { return e.Err }

// LocalStoreError is a persistence failure. Surfaced immediately; the sync
// engine never retries these itself.
type LocalStoreError struct {
	Err error
}

func (e *LocalStoreError) Error() string { return fmt.Sprintf("local store error: %v", e.Err) }
func (e *LocalStoreError) Unwrap() error { return e.Err }

// classify wraps an error from a lower layer into the sync error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled) {
		return ErrCancelled
	}
	var apiErr *calapi.APIError
	if errors.As(err, &apiErr) {
		return &RemoteAPIError{StatusCode: apiErr.StatusCode, Err: err}
	}
	if errors.Is(err, calapi.ErrConnectionFailed) || errors.Is(err, calapi.ErrInvalidResponse) {
		return &NetworkError{Err: err}
	}
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrNoConflict) {
		return err
	}
	return err
}

// classifyStore wraps a persistence failure.
func classifyStore(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrNoConflict) {
		return err
	}
	return &LocalStoreError{Err: err}
}

// errorTypeName returns the taxonomy name recorded in audit rows.
func errorTypeName(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	default:
		var (
			netErr   *NetworkError
			apiErr   *RemoteAPIError
			storeErr *LocalStoreError
		)
		switch {
		case errors.As(err, &netErr):
			return "network"
		case errors.As(err, &apiErr):
			return "remote_api"
		case errors.As(err, &storeErr):
			return "local_store"
		default:
			return "unknown"
		}
	}
}
