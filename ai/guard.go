package ai

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Guard rate-limits and retries calls to an external service.
// A single Guard may be shared by several services hitting the same host.
type Guard struct {
	limiter     *rate.Limiter
	maxAttempts int
	baseDelay   time.Duration
}

// NewGuard builds a Guard from the rate and retry settings in cfg.
// A zero RequestsPerSecond disables rate limiting.
func NewGuard(cfg *Config) *Guard {
	limit := rate.Inf
	burst := cfg.Burst
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if burst < 1 {
		burst = 1
	}
	attempts := cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	return &Guard{
		limiter:     rate.NewLimiter(limit, burst),
		maxAttempts: attempts,
		baseDelay:   cfg.RetryDelay,
	}
}

// Do waits for a rate-limit token before every attempt of op and retries
// failures with exponential backoff. Errors wrapped with Permanent are not
// retried.
func (g *Guard) Do(ctx context.Context, op func(ctx context.Context) error) error {
	return RetryWithBackoff(ctx, func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return Permanent(err)
		}
		return op(ctx)
	}, g.maxAttempts, g.baseDelay)
}
