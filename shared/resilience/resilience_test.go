package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := RetryWithConfig(context.Background(), &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
		RetryableErrors: func(err error) bool {
			return true
		},
	}, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	sentinel := errors.New("fatal")
	attempts := 0
	err := RetryWithConfig(context.Background(), &RetryConfig{
		MaxAttempts:   5,
		InitialDelay:  time.Millisecond,
		MaxDelay:      time.Millisecond,
		BackoffFactor: 1.0,
		RetryableErrors: func(err error) bool {
			return !errors.Is(err, sentinel)
		},
	}, func(ctx context.Context) error {
		attempts++
		return sentinel
	})

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, attempts)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := RetryWithConfig(context.Background(), &RetryConfig{
		MaxAttempts:   2,
		InitialDelay:  time.Millisecond,
		MaxDelay:      time.Millisecond,
		BackoffFactor: 1.0,
		RetryableErrors: func(err error) bool {
			return true
		},
	}, func(ctx context.Context) error {
		attempts++
		return errors.New("still broken")
	})

	assert.Error(t, err)
	assert.Equal(t, 2, attempts)
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	breaker := NewCircuitBreaker(&CircuitBreakerConfig{
		Name:         "test",
		MaxFailures:  2,
		ResetTimeout: 10 * time.Millisecond,
	})
	failing := func(ctx context.Context) error { return errors.New("boom") }
	succeeding := func(ctx context.Context) error { return nil }

	ctx := context.Background()
	assert.Error(t, breaker.Execute(ctx, failing))
	assert.Error(t, breaker.Execute(ctx, failing))

	// Open now; calls are rejected without running fn
	err := breaker.Execute(ctx, succeeding)
	assert.ErrorIs(t, err, ErrCircuitOpen)

	// After the reset timeout one trial call is admitted and closes it
	time.Sleep(15 * time.Millisecond)
	assert.NoError(t, breaker.Execute(ctx, succeeding))
	assert.NoError(t, breaker.Execute(ctx, succeeding))
}
