package retry

import (
	"context"
	"math/rand"
	"time"

	errs "github.com/theoren0108/TweetDigest/pkg/errors"
)

// BackoffStrategy computes the delay before retry number attempt (1-based)
type BackoffStrategy interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff grows the delay by Multiplier per attempt up to MaxDelay.
// JitterFactor in [0,1] spreads each delay by up to that fraction either way.
type ExponentialBackoff struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64
}

// DefaultExponentialBackoff starts at 1s and caps at 30s with 10% jitter
func DefaultExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:    time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		JitterFactor: 0.1,
	}
}

func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	mult := eb.Multiplier
	if mult < 1 {
		mult = 1
	}

	d := float64(eb.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= mult
		if eb.MaxDelay > 0 && d >= float64(eb.MaxDelay) {
			break
		}
	}
	if eb.MaxDelay > 0 && d > float64(eb.MaxDelay) {
		d = float64(eb.MaxDelay)
	}

	if j := eb.JitterFactor; j > 0 {
		d *= 1 + j*(2*rand.Float64()-1)
	}
	return max(time.Duration(d), 0)
}

// ConstantBackoff waits the same Delay before every retry
type ConstantBackoff struct {
	Delay time.Duration
}

func (cb *ConstantBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return cb.Delay
}

// delayFor is the wait before the next attempt after err. A rate-limit
// error waits at least floor.
func delayFor(b BackoffStrategy, attempt int, err error, floor time.Duration) time.Duration {
	d := b.NextDelay(attempt)
	if floor > d && errs.TypeOf(err) == errs.ErrorTypeRateLimit {
		return floor
	}
	return d
}

// Wait blocks for delay or until ctx is done
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
