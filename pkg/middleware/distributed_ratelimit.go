package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/alignex/entitlements/pkg/contextkeys"
	"github.com/alignex/entitlements/pkg/httputil"
	"github.com/alignex/entitlements/pkg/observability"
)

// DistributedRateLimiter enforces a fixed-window rate limit backed by Redis
// so the limit holds across multiple service instances.
type DistributedRateLimiter struct {
	client *redis.Client
	logger *observability.Logger
	limit  int64
	window time.Duration
}

// NewDistributedRateLimiter creates a Redis-backed rate limiter. The window
// bucket key divides by whole seconds, so windows under one second are raised
// to one second.
func NewDistributedRateLimiter(client *redis.Client, logger *observability.Logger, limit int64, window time.Duration) *DistributedRateLimiter {
	if window < time.Second {
		window = time.Second
	}
	return &DistributedRateLimiter{
		client: client,
		logger: logger,
		limit:  limit,
		window: window,
	}
}

// Middleware enforces the limit keyed by caller identity. If Redis is
// unavailable the request is allowed through.
func (rl *DistributedRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := contextkeys.GetIdentity(r.Context())
		if key == "" {
			key = r.RemoteAddr
		}
		ctx := r.Context()
		redisKey := fmt.Sprintf("ratelimit:%s:%d", key, time.Now().Unix()/int64(rl.window.Seconds()))

		pipe := rl.client.Pipeline()
		incr := pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, rl.window)
		if _, err := pipe.Exec(ctx); err != nil {
			rl.logger.WithError(err).Warn("rate limit check failed, allowing request")
			next.ServeHTTP(w, r)
			return
		}

		if incr.Val() > rl.limit {
			httputil.WriteTooManyRequests(w, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
