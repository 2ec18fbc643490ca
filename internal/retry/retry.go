// Package retry provides a generic exponential-backoff retry executor with
// named policies and per-key serialization: at most one retry sequence is in
// flight for a logical operation key, and concurrent callers for that key
// share its outcome instead of racing their own backoff timers.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

var ErrUnknownPolicy = errors.New("unknown retry policy")

// Policy names accepted by Do.
const (
	PolicyDefault      = "default"
	PolicyAggressive   = "aggressive"
	PolicyConservative = "conservative"
)

// Policy describes a backoff schedule.
type Policy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	MaxAttempts int
	// Jitter is the relative spread applied to each delay, e.g. 0.2 for
	// plus or minus 20 percent.
	Jitter float64
}

// builtinPolicies maps policy names to their schedules.
var builtinPolicies = map[string]Policy{
	PolicyDefault: {
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2,
		MaxAttempts: 5,
		Jitter:      0.2,
	},
	PolicyAggressive: {
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  1.5,
		MaxAttempts: 8,
		Jitter:      0.2,
	},
	PolicyConservative: {
		BaseDelay:   2 * time.Second,
		MaxDelay:    60 * time.Second,
		Multiplier:  3,
		MaxAttempts: 3,
		Jitter:      0.2,
	},
}

// Executor retries operations according to a named policy. The zero value is
// not usable; construct with New.
type Executor struct {
	retryIf func(error) bool

	mu       sync.Mutex
	inflight map[string]*call
}

// call is one in-flight retry sequence. Followers wait on done and read the
// leader's value and error.
type call struct {
	done chan struct{}
	val  any
	err  error
}

// Option configures an Executor.
type Option func(*Executor)

// WithRetryIf sets the predicate deciding whether an error is worth another
// attempt. Without it, every error is retried up to the attempt budget.
func WithRetryIf(pred func(error) bool) Option {
	return func(e *Executor) {
		e.retryIf = pred
	}
}

// New creates an Executor.
func New(opts ...Option) *Executor {
	e := &Executor{
		retryIf:  func(error) bool { return true },
		inflight: make(map[string]*call),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DoNotify is invoked before each backoff sleep with the failed attempt's
// error and the upcoming delay. Only the leader of a key observes it.
type DoNotify func(err error, attempt int, next time.Duration)

// Do runs op under the named policy, serialized on key. If a sequence for
// key is already in flight, the caller waits for and shares its outcome.
// The op's final error is returned once the attempt budget is exhausted or a
// non-retryable error occurs.
func (e *Executor) Do(ctx context.Context, key, policyName string, op func(ctx context.Context) error, notify DoNotify) error {
	_, err := e.DoValue(ctx, key, policyName, func(ctx context.Context) (any, error) {
		return nil, op(ctx)
	}, notify)
	return err
}

// DoValue is Do for operations that produce a result. A follower of an
// in-flight key never runs its own op; it receives the leader's value along
// with the leader's error, so callers must not rely on side effects of their
// own closure.
func (e *Executor) DoValue(ctx context.Context, key, policyName string, op func(ctx context.Context) (any, error), notify DoNotify) (any, error) {
	policy, ok := builtinPolicies[policyName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, policyName)
	}

	e.mu.Lock()
	if existing, ok := e.inflight[key]; ok {
		e.mu.Unlock()
		select {
		case <-existing.done:
			return existing.val, existing.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c := &call{done: make(chan struct{})}
	e.inflight[key] = c
	e.mu.Unlock()

	c.val, c.err = e.run(ctx, policy, op, notify)

	e.mu.Lock()
	delete(e.inflight, key)
	e.mu.Unlock()
	close(c.done)

	return c.val, c.err
}

// run executes the attempt loop for one leader.
func (e *Executor) run(ctx context.Context, policy Policy, op func(ctx context.Context) (any, error), notify DoNotify) (any, error) {
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var val any
		val, lastErr = op(ctx)
		if lastErr == nil {
			return val, nil
		}
		if !e.retryIf(lastErr) {
			return nil, lastErr
		}
		if attempt == policy.MaxAttempts {
			break
		}

		delay := backoffDelay(policy, attempt)
		if notify != nil {
			notify(lastErr, attempt, delay)
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// backoffDelay computes the jittered delay after the given 1-based attempt.
func backoffDelay(policy Policy, attempt int) time.Duration {
	delay := float64(policy.BaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= policy.Multiplier
		if delay >= float64(policy.MaxDelay) {
			delay = float64(policy.MaxDelay)
			break
		}
	}
	if policy.Jitter > 0 {
		// Spread uniformly across [1-jitter, 1+jitter].
		delay *= 1 - policy.Jitter + 2*policy.Jitter*rand.Float64()
	}
	return time.Duration(delay)
}
