package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/alignex/entitlements/pkg/contextkeys"
	"github.com/alignex/entitlements/pkg/httputil"
)

// tokenBucket is a simple token bucket refilled at a fixed rate.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
}

func newTokenBucket(maxTokens, refillRate float64) *tokenBucket {
	return &tokenBucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

func (b *tokenBucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// RateLimiter limits request rates per caller identity. Buckets for idle
// callers are evicted after the configured TTL.
type RateLimiter struct {
	buckets    *expirable.LRU[string, *tokenBucket]
	mu         sync.Mutex
	maxTokens  float64
	refillRate float64
}

// NewRateLimiter creates a rate limiter allowing requests per window of
// sustained throughput with a burst of the same size per identity. Windows
// under one second are raised to one second.
func NewRateLimiter(requests int, window time.Duration) *RateLimiter {
	if window < time.Second {
		window = time.Second
	}
	return &RateLimiter{
		buckets:    expirable.NewLRU[string, *tokenBucket](10000, nil, 10*time.Minute),
		maxTokens:  float64(requests),
		refillRate: float64(requests) / window.Seconds(),
	}
}

// Middleware enforces the rate limit keyed by the caller identity, falling
// back to the remote address when no identity is present.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := contextkeys.GetIdentity(r.Context())
		if key == "" {
			key = r.RemoteAddr
		}

		if !rl.allow(key) {
			httputil.WriteTooManyRequests(w, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	bucket, ok := rl.buckets.Get(key)
	if !ok {
		bucket = newTokenBucket(rl.maxTokens, rl.refillRate)
		rl.buckets.Add(key, bucket)
	}
	rl.mu.Unlock()

	return bucket.allow()
}
