package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter defines the interface for rate limiting
type Limiter interface {
	// Allow reports whether a request may proceed now, consuming a token if so
	Allow() bool
	// Wait blocks until a token is available or ctx is done
	Wait(ctx context.Context) error
}

// TokenBucket is a token bucket limiter backed by golang.org/x/time/rate
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket refills one token every period and holds up to burst tokens
func NewTokenBucket(burst int, period time.Duration) *TokenBucket {
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucket{limiter: rate.NewLimiter(rate.Every(period), burst)}
}

// PerMinute allows perMinute requests a minute with the given burst
func PerMinute(perMinute, burst int) *TokenBucket {
	if perMinute <= 0 {
		return Unlimited()
	}
	return NewTokenBucket(burst, time.Minute/time.Duration(perMinute))
}

// Unlimited never blocks
func Unlimited() *TokenBucket {
	return &TokenBucket{limiter: rate.NewLimiter(rate.Inf, 1)}
}

// Allow checks if a request can proceed
func (tb *TokenBucket) Allow() bool {
	return tb.limiter.Allow()
}

// Wait blocks until a token is available
func (tb *TokenBucket) Wait(ctx context.Context) error {
	return tb.limiter.Wait(ctx)
}
