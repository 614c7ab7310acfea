package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/theoren0108/TweetDigest/pkg/errors"
)

func fastConfig(max int) *Config {
	return &Config{
		MaxAttempts: max,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
	}
}

func TestExponentialBackoff(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{9, time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, backoff.NextDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestExponentialBackoffJitterStaysInBounds(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.3,
	}

	for i := 0; i < 50; i++ {
		d := backoff.NextDelay(2)
		assert.GreaterOrEqual(t, d, 140*time.Millisecond)
		assert.LessOrEqual(t, d, 260*time.Millisecond)
	}
}

func TestDoSucceedsAfterTransientErrors(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errs.New(errs.ErrorTypeTransient, "connection reset")
		}
		return nil
	}, fastConfig(5))

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoStopsAtMaxAttempts(t *testing.T) {
	attempts := 0
	retried := 0
	cfg := fastConfig(3)
	cfg.OnRetry = func(int, error, time.Duration) { retried++ }

	err := Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("still down")
	}, cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retry attempts (3) exceeded")
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, retried, "no wait after the final attempt")
}

func TestDoDoesNotRetryPermanentErrors(t *testing.T) {
	authErr := &errs.Error{Type: errs.ErrorTypeAuth, Message: "bad token", Code: 401}
	attempts := 0

	err := Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return authErr
	}, fastConfig(5))

	assert.Same(t, authErr, err)
	assert.Equal(t, 1, attempts)
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	err := Do(ctx, func(ctx context.Context) error {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return errors.New("flaky")
	}, &Config{MaxAttempts: 10, Backoff: &ConstantBackoff{Delay: 50 * time.Millisecond}})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, attempts)
}

func TestDefaultRetryIf(t *testing.T) {
	assert.False(t, DefaultRetryIf(nil))
	assert.False(t, DefaultRetryIf(context.Canceled))
	assert.False(t, DefaultRetryIf(errs.New(errs.ErrorTypeMalformedRecord, "x")))
	assert.True(t, DefaultRetryIf(errs.New(errs.ErrorTypeRateLimit, "slow down")))
	assert.True(t, DefaultRetryIf(errs.ErrProviderTimeout))
	assert.True(t, DefaultRetryIf(errors.New("unknown")))
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	result, err := DoWithResult(context.Background(), func(ctx context.Context) (string, error) {
		attempts++
		if attempts < 2 {
			return "", errors.New("temporary error")
		}
		return "success", nil
	}, fastConfig(3))

	require.NoError(t, err)
	assert.Equal(t, "success", result)
	assert.Equal(t, 2, attempts)
}

func TestRateLimitDelayIsAFloor(t *testing.T) {
	var delays []time.Duration
	cfg := &Config{
		MaxAttempts:    3,
		Backoff:        &ConstantBackoff{Delay: time.Millisecond},
		RateLimitDelay: 20 * time.Millisecond,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			delays = append(delays, delay)
		},
	}

	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &errs.Error{Type: errs.ErrorTypeRateLimit, Code: 429, Message: "slow down"}
		}
		if calls == 2 {
			return &errs.Error{Type: errs.ErrorTypeTransient, Code: 503, Message: "unavailable"}
		}
		return nil
	}, cfg)

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{20 * time.Millisecond, time.Millisecond}, delays)
}
