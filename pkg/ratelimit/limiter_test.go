package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketBurstThenRefill(t *testing.T) {
	tb := NewTokenBucket(3, 50*time.Millisecond)

	for i := 0; i < 3; i++ {
		assert.True(t, tb.Allow(), "token %d", i+1)
	}
	assert.False(t, tb.Allow(), "bucket should be empty")

	time.Sleep(70 * time.Millisecond)
	assert.True(t, tb.Allow(), "one token refilled")
}

func TestTokenBucketWaitRespectsContext(t *testing.T) {
	tb := NewTokenBucket(1, time.Hour)
	require.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, tb.Wait(ctx))
}

func TestPerMinute(t *testing.T) {
	tb := PerMinute(600, 2)
	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())

	start := time.Now()
	require.NoError(t, tb.Wait(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
}

func TestUnlimited(t *testing.T) {
	tb := PerMinute(0, 0)
	for i := 0; i < 100; i++ {
		require.True(t, tb.Allow())
	}
}
