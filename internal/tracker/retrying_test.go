package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cisift/cisift/internal/types"
)

// flaky fails the first n calls to every operation, then succeeds.
type flaky struct {
	*Memory
	failures  int
	callCount int
	err       error
}

func (f *flaky) Create(ctx context.Context, title, body string) (string, error) {
	f.callCount++
	if f.callCount <= f.failures {
		return "", f.err
	}
	return f.Memory.Create(ctx, title, body)
}

func newFlaky(failures int, err error) *flaky {
	return &flaky{Memory: NewMemory(), failures: failures, err: err}
}

func fastConfig() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.InitialBackoff = time.Millisecond
	cfg.RequestsPerSecond = 0
	return cfg
}

func TestRetryingSucceedsAfterTransientFailures(t *testing.T) {
	inner := newFlaky(2, errors.New("rate limited"))
	r, err := NewRetrying(inner, fastConfig())
	require.NoError(t, err)
	r.sleep = func(time.Duration) {}

	id, err := r.Create(context.Background(), "title", "body")
	require.NoError(t, err)
	assert.Equal(t, "ts-1", id)
	assert.Equal(t, 3, inner.callCount)
}

func TestRetryingExhaustsAttempts(t *testing.T) {
	inner := newFlaky(100, errors.New("still down"))
	r, err := NewRetrying(inner, fastConfig())
	require.NoError(t, err)

	var slept []time.Duration
	r.sleep = func(d time.Duration) { slept = append(slept, d) }

	_, err = r.Create(context.Background(), "title", "body")
	require.Error(t, err)
	assert.True(t, IsAPIError(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "create", apiErr.Op)
	assert.Equal(t, 3, apiErr.Attempts)

	// Exponential: 1ms then 2ms, no sleep after the final attempt.
	require.Len(t, slept, 2)
	assert.Equal(t, time.Millisecond, slept[0])
	assert.Equal(t, 2*time.Millisecond, slept[1])
}

func TestRetryingDoesNotRetryNotFound(t *testing.T) {
	r, err := NewRetrying(NewMemory(), fastConfig())
	require.NoError(t, err)
	r.sleep = func(time.Duration) { t.Fatal("must not sleep on a non-retriable error") }

	_, err = r.GetRef(context.Background(), "ts-404")
	require.Error(t, err)
	assert.True(t, IsAPIError(err))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRetryingStopsOnCanceledContext(t *testing.T) {
	inner := newFlaky(100, errors.New("down"))
	r, err := NewRetrying(inner, fastConfig())
	require.NoError(t, err)
	r.sleep = func(time.Duration) {}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = r.Create(ctx, "title", "body")
	require.Error(t, err)
	assert.True(t, IsAPIError(err))
}

func TestRetryConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RetryConfig)
	}{
		{"zero attempts", func(c *RetryConfig) { c.MaxAttempts = 0 }},
		{"too many attempts", func(c *RetryConfig) { c.MaxAttempts = 50 }},
		{"sub-unit multiplier", func(c *RetryConfig) { c.BackoffMultiplier = 0.5 }},
		{"zero timeout", func(c *RetryConfig) { c.PerCallTimeout = 0 }},
		{"negative rate", func(c *RetryConfig) { c.RequestsPerSecond = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultRetryConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMemoryTrackerBasics(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	id, err := m.Create(ctx, "CI failure: lint", "| Feature | 7 |\n| Job | lint |\n| Step | Run ESLint |\n")
	require.NoError(t, err)

	require.NoError(t, m.AddLabel(ctx, id, types.LabelTracked))
	require.NoError(t, m.AddLabel(ctx, id, types.LabelTracked), "re-adding a label is a no-op")
	assert.Equal(t, []string{types.LabelTracked}, m.Labels(id))

	open, err := m.ListOpenByKey(ctx, types.CorrelationKey{FeatureID: "7", JobName: "lint", StepName: "Run ESLint"})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, id, open[0].ID)

	require.NoError(t, m.Close(id))
	open, err = m.ListOpenByKey(ctx, types.CorrelationKey{FeatureID: "7", JobName: "lint", StepName: "Run ESLint"})
	require.NoError(t, err)
	assert.Empty(t, open)

	closed, err := m.ListClosedByKey(ctx, types.CorrelationKey{FeatureID: "7", JobName: "lint", StepName: "Run ESLint"})
	require.NoError(t, err)
	require.Len(t, closed, 1)

	status, err := m.GetState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusClosed, status)
}
