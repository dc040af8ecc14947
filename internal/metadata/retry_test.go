package metadata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry_AcceptsFirstGoodResult(t *testing.T) {
	calls := 0
	result, err := Retry(context.Background(), RetryPolicy{Attempts: 3, Delay: time.Millisecond},
		func(ctx context.Context) (int, error) {
			calls++
			return 42, nil
		},
		func(v int) bool { return v == 42 })

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 1, calls)
}

func TestRetry_RetriesUntilPredicatePasses(t *testing.T) {
	calls := 0
	result, err := Retry(context.Background(), RetryPolicy{Attempts: 3, Delay: time.Millisecond},
		func(ctx context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "fallback", nil
			}
			return "real", nil
		},
		func(v string) bool { return v != "fallback" })

	require.NoError(t, err)
	assert.Equal(t, "real", result)
	assert.Equal(t, 3, calls)
}

func TestRetry_ReturnsLastFallbackWhenExhausted(t *testing.T) {
	result, err := Retry(context.Background(), RetryPolicy{Attempts: 2, Delay: time.Millisecond},
		func(ctx context.Context) (string, error) {
			return "fallback", nil
		},
		func(v string) bool { return false })

	require.NoError(t, err)
	assert.Equal(t, "fallback", result)
}

func TestRetry_ReturnsLastError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	_, err := Retry(context.Background(), RetryPolicy{Attempts: 3, Delay: time.Millisecond},
		func(ctx context.Context) (int, error) {
			calls++
			return 0, boom
		}, nil)

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestRetry_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Retry(ctx, RetryPolicy{Attempts: 3, Delay: 50 * time.Millisecond},
		func(ctx context.Context) (int, error) {
			return 0, errors.New("transient")
		}, nil)

	assert.ErrorIs(t, err, context.Canceled)
}
