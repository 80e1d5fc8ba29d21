package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/book-expert/audiobook-tts/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	t.Parallel()

	calls := 0
	err := retry.Do(context.Background(), fastPolicy(3), func(context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	t.Parallel()

	calls := 0
	err := retry.Do(context.Background(), fastPolicy(3), func(context.Context) error {
		calls++

		return errFlaky
	})

	require.ErrorIs(t, err, retry.ErrAttemptsExhausted)
	require.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	t.Parallel()

	calls := 0
	err := retry.Do(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++

		return retry.Permanent(errFlaky)
	})

	require.ErrorIs(t, err, errFlaky)
	require.NotErrorIs(t, err, retry.ErrAttemptsExhausted)
	assert.Equal(t, 1, calls)
}

func TestDo_NonRetryablePredicate(t *testing.T) {
	t.Parallel()

	policy := fastPolicy(5)
	policy.Retryable = func(err error) bool { return !errors.Is(err, errFlaky) }

	calls := 0
	err := retry.Do(context.Background(), policy, func(context.Context) error {
		calls++

		return errFlaky
	})

	require.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 1, calls)
}

func TestDo_BackoffDoubles(t *testing.T) {
	t.Parallel()

	var delays []time.Duration

	policy := retry.Policy{
		MaxAttempts: 4,
		BaseDelay:   time.Millisecond,
		MaxDelay:    3 * time.Millisecond,
		OnRetry: func(_ int, delay time.Duration, _ error) {
			delays = append(delays, delay)
		},
	}

	_ = retry.Do(context.Background(), policy, func(context.Context) error { return errFlaky })

	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond}, delays)
}

func TestDo_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	policy := retry.Policy{MaxAttempts: 3, BaseDelay: time.Hour}

	calls := 0
	err := retry.Do(ctx, policy, func(context.Context) error {
		calls++
		cancel()

		return errFlaky
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
