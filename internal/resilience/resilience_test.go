package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func TestWithRetry(t *testing.T) {
	t.Parallel()

	fast := RetryConfig{MaxAttempts: 2, InitialInterval: time.Millisecond, Multiplier: 2}

	t.Run("succeeds on second attempt", func(t *testing.T) {
		t.Parallel()

		calls := 0
		err := WithRetry(context.Background(), func(context.Context) error {
			calls++
			if calls == 1 {
				return errFlaky
			}
			return nil
		}, fast)

		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("exhausts and keeps cause", func(t *testing.T) {
		t.Parallel()

		calls := 0
		err := WithRetry(context.Background(), func(context.Context) error {
			calls++
			return errFlaky
		}, fast)

		assert.ErrorIs(t, err, ErrExhaustedRetries)
		assert.ErrorIs(t, err, errFlaky)
		assert.Equal(t, 2, calls)
	})

	t.Run("non-retryable returns immediately", func(t *testing.T) {
		t.Parallel()

		cfg := fast
		cfg.Retryable = func(err error) bool { return !errors.Is(err, errFlaky) }
		calls := 0
		err := WithRetry(context.Background(), func(context.Context) error {
			calls++
			return errFlaky
		}, cfg)

		assert.ErrorIs(t, err, errFlaky)
		assert.NotErrorIs(t, err, ErrExhaustedRetries)
		assert.Equal(t, 1, calls)
	})

	t.Run("cancelled context abandons", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := WithRetry(ctx, func(context.Context) error { return errFlaky }, fast)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestCircuitBreakerIgnoredErrorsDoNotTrip(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:        "test",
		MaxFailures: 2,
		Ignore:      func(err error) bool { return errors.Is(err, errFlaky) },
	})

	for i := 0; i < 5; i++ {
		err := cb.Execute(context.Background(), func(context.Context) error { return errFlaky })
		assert.ErrorIs(t, err, errFlaky)
	}
	assert.Equal(t, StateClosed, cb.State())

	hard := errors.New("down")
	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func(context.Context) error { return hard })
	}
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}
