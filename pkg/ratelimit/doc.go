// Package ratelimit throttles outbound requests.
//
// Media downloads and provider API calls share the Limiter interface. The
// TokenBucket implementation is a thin wrapper over golang.org/x/time/rate:
//
//	limiter := ratelimit.PerMinute(cfg.Media.RequestsPerMinute, cfg.Media.BurstSize)
//	if err := limiter.Wait(ctx); err != nil {
//		return err
//	}
package ratelimit
