package ratelimit

import (
	"context"
	"time"

	"github.com/keygate/backend/internal/logger"
	"github.com/keygate/backend/internal/metrics"
)

// Limiter checks the shared store first and degrades to the in-process
// fallback when the shared store errors or times out.
type Limiter struct {
	primary  Store
	fallback Store
	log      *logger.Logger
	timeout  time.Duration
}

// NewLimiter builds a limiter over the given primary store. primary may be
// nil, in which case every check uses the fallback.
func NewLimiter(primary Store, fallback Store, log *logger.Logger) *Limiter {
	return &Limiter{
		primary:  primary,
		fallback: fallback,
		log:      log,
		timeout:  2 * time.Second,
	}
}

func (l *Limiter) Allow(ctx context.Context, key string, max int, window time.Duration) Decision {
	if l.primary != nil {
		checkCtx, cancel := context.WithTimeout(ctx, l.timeout)
		decision, err := l.primary.Allow(checkCtx, key, max, window)
		cancel()
		if err == nil {
			return decision
		}
		metrics.RecordRateLimitFallback()
		l.log.Warn(ctx, "rate limit store unavailable, using in-process fallback", map[string]any{
			"error": err.Error(),
		})
	}

	decision, err := l.fallback.Allow(ctx, key, max, window)
	if err != nil {
		// The memory store cannot actually fail; be permissive if it ever does.
		return Decision{Allowed: true}
	}
	return decision
}
