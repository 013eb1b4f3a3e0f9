package tracker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/cisift/cisift/internal/types"
)

// RetryConfig holds retry configuration for tracker API calls.
type RetryConfig struct {
	// MaxAttempts is the total number of tries per call (default: 3)
	MaxAttempts int
	// InitialBackoff is the first retry delay (default: 1s; doubles each retry)
	InitialBackoff time.Duration
	// BackoffMultiplier scales the delay between attempts (default: 2.0)
	BackoffMultiplier float64
	// PerCallTimeout bounds each individual attempt (default: 30s)
	PerCallTimeout time.Duration
	// RequestsPerSecond rate-limits calls to the tracker API (default: 5; 0 = unlimited)
	RequestsPerSecond float64
	// MaxConcurrentCalls caps in-flight tracker calls (default: 4; 0 = unlimited)
	MaxConcurrentCalls int
}

// DefaultRetryConfig returns the default retry configuration: three
// attempts with 1s/2s/4s backoff and a 30 second per-call timeout.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:        3,
		InitialBackoff:     time.Second,
		BackoffMultiplier:  2.0,
		PerCallTimeout:     30 * time.Second,
		RequestsPerSecond:  5,
		MaxConcurrentCalls: 4,
	}
}

// Validate checks if the configuration has valid values
func (c RetryConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1 (got %d)", c.MaxAttempts)
	}
	if c.MaxAttempts > 10 {
		return fmt.Errorf("max_attempts too large (got %d, max 10)", c.MaxAttempts)
	}
	if c.InitialBackoff < 0 {
		return fmt.Errorf("initial_backoff cannot be negative (got %v)", c.InitialBackoff)
	}
	if c.BackoffMultiplier < 1.0 {
		return fmt.Errorf("backoff_multiplier must be at least 1.0 (got %.2f)", c.BackoffMultiplier)
	}
	if c.PerCallTimeout <= 0 {
		return fmt.Errorf("per_call_timeout must be positive (got %v)", c.PerCallTimeout)
	}
	if c.PerCallTimeout > 5*time.Minute {
		return fmt.Errorf("per_call_timeout too large (got %v, max 5 minutes)", c.PerCallTimeout)
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second cannot be negative (got %.2f)", c.RequestsPerSecond)
	}
	if c.MaxConcurrentCalls < 0 {
		return fmt.Errorf("max_concurrent_calls cannot be negative (got %d)", c.MaxConcurrentCalls)
	}
	return nil
}

// Retrying wraps a Tracker with bounded exponential backoff, per-call
// timeouts, rate limiting, and a concurrency cap. A call that exhausts
// its attempts surfaces as an APIError; the engine aborts the run on
// that, never blocking or loop-waiting beyond the bounded backoff.
type Retrying struct {
	inner   Tracker
	cfg     RetryConfig
	limiter *rate.Limiter
	sem     *semaphore.Weighted

	// sleep is swappable for tests
	sleep func(time.Duration)
}

// NewRetrying wraps inner with the retry policy in cfg.
func NewRetrying(inner Tracker, cfg RetryConfig) (*Retrying, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry config: %w", err)
	}

	r := &Retrying{inner: inner, cfg: cfg, sleep: time.Sleep}
	if cfg.RequestsPerSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	if cfg.MaxConcurrentCalls > 0 {
		r.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrentCalls))
	}
	return r, nil
}

// do runs one tracker call under the retry policy.
func (r *Retrying) do(ctx context.Context, op string, fn func(context.Context) error) error {
	if r.sem != nil {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return &APIError{Op: op, Attempts: 0, Err: err}
		}
		defer r.sem.Release(1)
	}

	var lastErr error
	backoff := r.cfg.InitialBackoff

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return &APIError{Op: op, Attempts: attempt - 1, Err: err}
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.PerCallTimeout)
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			if attempt > 1 {
				fmt.Fprintf(os.Stderr, "tracker %s succeeded after %d attempts\n", op, attempt)
			}
			return nil
		}
		lastErr = err

		if !isRetriable(err) {
			return &APIError{Op: op, Attempts: attempt, Err: err}
		}
		if ctx.Err() != nil {
			return &APIError{Op: op, Attempts: attempt, Err: ctx.Err()}
		}
		if attempt < r.cfg.MaxAttempts {
			r.sleep(backoff)
			backoff = time.Duration(float64(backoff) * r.cfg.BackoffMultiplier)
		}
	}

	return &APIError{Op: op, Attempts: r.cfg.MaxAttempts, Err: lastErr}
}

// isRetriable classifies tracker errors. Not-found is a fact, not a
// transient fault; a canceled parent context means the CI job is
// tearing the run down.
func isRetriable(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

func (r *Retrying) ListOpenByKey(ctx context.Context, key types.CorrelationKey) ([]types.TrackedRef, error) {
	var refs []types.TrackedRef
	err := r.do(ctx, "list_open", func(ctx context.Context) error {
		var innerErr error
		refs, innerErr = r.inner.ListOpenByKey(ctx, key)
		return innerErr
	})
	return refs, err
}

func (r *Retrying) ListOpenByFeature(ctx context.Context, featureID string) ([]types.TrackedRef, error) {
	var refs []types.TrackedRef
	err := r.do(ctx, "list_open_by_feature", func(ctx context.Context) error {
		var innerErr error
		refs, innerErr = r.inner.ListOpenByFeature(ctx, featureID)
		return innerErr
	})
	return refs, err
}

func (r *Retrying) ListClosedByKey(ctx context.Context, key types.CorrelationKey) ([]types.TrackedRef, error) {
	var refs []types.TrackedRef
	err := r.do(ctx, "list_closed", func(ctx context.Context) error {
		var innerErr error
		refs, innerErr = r.inner.ListClosedByKey(ctx, key)
		return innerErr
	})
	return refs, err
}

func (r *Retrying) Create(ctx context.Context, title, body string) (string, error) {
	var id string
	err := r.do(ctx, "create", func(ctx context.Context) error {
		var innerErr error
		id, innerErr = r.inner.Create(ctx, title, body)
		return innerErr
	})
	return id, err
}

func (r *Retrying) GetRef(ctx context.Context, id string) (types.TrackedRef, error) {
	var ref types.TrackedRef
	err := r.do(ctx, "get_ref", func(ctx context.Context) error {
		var innerErr error
		ref, innerErr = r.inner.GetRef(ctx, id)
		return innerErr
	})
	return ref, err
}

func (r *Retrying) AddLabel(ctx context.Context, id, label string) error {
	return r.do(ctx, "add_label", func(ctx context.Context) error {
		return r.inner.AddLabel(ctx, id, label)
	})
}

func (r *Retrying) RemoveLabel(ctx context.Context, id, label string) error {
	return r.do(ctx, "remove_label", func(ctx context.Context) error {
		return r.inner.RemoveLabel(ctx, id, label)
	})
}

func (r *Retrying) AddComment(ctx context.Context, id, text string) error {
	return r.do(ctx, "add_comment", func(ctx context.Context) error {
		return r.inner.AddComment(ctx, id, text)
	})
}

func (r *Retrying) GetState(ctx context.Context, id string) (types.Status, error) {
	var status types.Status
	err := r.do(ctx, "get_state", func(ctx context.Context) error {
		var innerErr error
		status, innerErr = r.inner.GetState(ctx, id)
		return innerErr
	})
	return status, err
}
