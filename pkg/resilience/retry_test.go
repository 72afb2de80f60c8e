package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadforge/enrichd/pkg/errors"
)

func fastRetryConfig(maxAttempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:       maxAttempts,
		InitialDelay:      time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestRetrier_SucceedsFirstAttempt(t *testing.T) {
	r := NewRetrier(fastRetryConfig(3))
	attempts := 0

	err := r.Execute(context.Background(), func(_ context.Context) error {
		attempts++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetrier_RetriesTransientFailures(t *testing.T) {
	r := NewRetrier(fastRetryConfig(3))
	attempts := 0

	err := r.Execute(context.Background(), func(_ context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.NewExternalError("upstream", "flaky")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetrier_ExhaustionWrapsAsExternal(t *testing.T) {
	r := NewRetrier(fastRetryConfig(2))
	attempts := 0

	err := r.Execute(context.Background(), func(_ context.Context) error {
		attempts++
		return errors.NewTimeoutError("lookup")
	})

	require.Error(t, err)
	assert.Equal(t, 2, attempts)
	assert.True(t, errors.IsType(err, errors.ErrorTypeExternal))
}

func TestRetrier_RateLimitStaysDistinctAfterExhaustion(t *testing.T) {
	r := NewRetrier(fastRetryConfig(3))
	attempts := 0

	err := r.Execute(context.Background(), func(_ context.Context) error {
		attempts++
		return errors.NewRateLimitError("slow down")
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.True(t, errors.IsType(err, errors.ErrorTypeRateLimit))
}

func TestRetrier_DoesNotRetryAuthenticationErrors(t *testing.T) {
	r := NewRetrier(fastRetryConfig(3))
	attempts := 0

	err := r.Execute(context.Background(), func(_ context.Context) error {
		attempts++
		return errors.NewAuthenticationError("bad credentials")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
}

func TestRetrier_DoesNotRetryCircuitBreakerErrors(t *testing.T) {
	r := NewRetrier(fastRetryConfig(3))
	attempts := 0

	err := r.Execute(context.Background(), func(_ context.Context) error {
		attempts++
		return &CircuitBreakerError{Name: "test", State: StateOpen}
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.True(t, IsCircuitBreakerError(err))
}

func TestRetrier_RespectsContextCancellation(t *testing.T) {
	r := NewRetrier(RetryConfig{
		MaxAttempts:       5,
		InitialDelay:      time.Second,
		MaxDelay:          time.Second,
		BackoffMultiplier: 1.0,
	})

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := r.Execute(ctx, func(_ context.Context) error {
		attempts++
		return errors.NewExternalError("upstream", "flaky")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestCalculateDelay_JitterStaysWithinBounds(t *testing.T) {
	r := NewRetrier(RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	})

	for i := 0; i < 100; i++ {
		delay := r.calculateDelay(1)
		assert.GreaterOrEqual(t, delay, 80*time.Millisecond)
		assert.LessOrEqual(t, delay, 120*time.Millisecond)
	}
}

func TestCalculateDelay_ExponentialBackoffCapped(t *testing.T) {
	r := NewRetrier(RetryConfig{
		MaxAttempts:       10,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          400 * time.Millisecond,
		BackoffMultiplier: 2.0,
	})

	assert.Equal(t, 100*time.Millisecond, r.calculateDelay(1))
	assert.Equal(t, 200*time.Millisecond, r.calculateDelay(2))
	assert.Equal(t, 400*time.Millisecond, r.calculateDelay(3))
	assert.Equal(t, 400*time.Millisecond, r.calculateDelay(8))
}

func TestRetryableOperation_OpenCircuitFailsFastWithoutRetries(t *testing.T) {
	ro := NewRetryableOperation("test",
		CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute},
		fastRetryConfig(5),
	)
	ctx := context.Background()

	_, err := ro.Execute(ctx, func(_ context.Context) (interface{}, error) {
		return nil, errors.NewExternalError("upstream", "down")
	})
	require.Error(t, err)
	require.Equal(t, StateOpen, ro.State())

	attempts := 0
	_, err = ro.Execute(ctx, func(_ context.Context) (interface{}, error) {
		attempts++
		return nil, nil
	})

	require.Error(t, err)
	assert.True(t, IsCircuitBreakerError(err))
	assert.Equal(t, 0, attempts)
}

func TestRetryableOperation_RetriesThenSucceeds(t *testing.T) {
	ro := NewRetryableOperation("test",
		CircuitBreakerConfig{FailureThreshold: 10},
		fastRetryConfig(3),
	)
	attempts := 0

	result, err := ro.Execute(context.Background(), func(_ context.Context) (interface{}, error) {
		attempts++
		if attempts < 2 {
			return nil, errors.NewExternalError("upstream", "flaky")
		}
		return "done", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "done", result)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, StateClosed, ro.State())
}
