// internal/utils/rate_limiter.go
package utils

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter wraps the golang.org/x/time/rate limiter
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a limiter allowing rps requests per second with
// the given burst. A non-positive rps disables limiting.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until the rate limiter allows the next request
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.limiter.Wait(ctx)
}

// Allow reports whether an event may happen now
func (rl *RateLimiter) Allow() bool {
	return rl.limiter.Allow()
}

// SetRate changes the sustained request rate
func (rl *RateLimiter) SetRate(rps float64) {
	if rps <= 0 {
		rl.limiter.SetLimit(rate.Inf)
		return
	}
	rl.limiter.SetLimit(rate.Limit(rps))
}

// HostLimiter keeps an independent RateLimiter per host so one throttled
// site never starves checks against the others.
type HostLimiter struct {
	rps   float64
	burst int

	mu       sync.Mutex
	limiters map[string]*RateLimiter
}

// NewHostLimiter creates a per-host limiter factory with shared settings.
func NewHostLimiter(rps float64, burst int) *HostLimiter {
	return &HostLimiter{
		rps:      rps,
		burst:    burst,
		limiters: make(map[string]*RateLimiter),
	}
}

// Wait blocks until a request to the given host is permitted.
func (hl *HostLimiter) Wait(ctx context.Context, host string) error {
	return hl.forHost(host).Wait(ctx)
}

func (hl *HostLimiter) forHost(host string) *RateLimiter {
	hl.mu.Lock()
	defer hl.mu.Unlock()

	rl, ok := hl.limiters[host]
	if !ok {
		rl = NewRateLimiter(hl.rps, hl.burst)
		hl.limiters[host] = rl
	}
	return rl
}
