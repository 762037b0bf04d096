package tool

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"warden/internal/domain"
)

// RateLimiter throttles calls an integration makes to its upstream API.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter allows perMinute calls per minute with bursts of burst.
// A non-positive perMinute disables limiting.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if perMinute <= 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)}
}

// Allow reports whether a call may proceed now, consuming a token if so.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Check returns domain.ErrRateLimit when no token is available.
func (r *RateLimiter) Check() error {
	if !r.limiter.Allow() {
		return domain.ErrRateLimit
	}
	return nil
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}
