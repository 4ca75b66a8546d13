package adapters

import (
	"context"
	"sync"
	"time"

	ports "github.com/opsdeck/opsrouter/opsr/routing/ports"
)

// TokenBucket implements a per-key token bucket rate limiter used for
// router admission control.
type TokenBucket struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	capacity   int           // max tokens per bucket
	refillRate time.Duration // time between token refills
}

type bucket struct {
	tokens     int
	lastRefill time.Time
}

// NewTokenBucket creates a new token bucket rate limiter.
func NewTokenBucket(capacity int, refillRate time.Duration) *TokenBucket {
	return &TokenBucket{
		buckets:    make(map[string]*bucket),
		capacity:   capacity,
		refillRate: refillRate,
	}
}

// Acquire attempts to take a token for the given key. The returned release
// function refunds the token.
func (tb *TokenBucket) Acquire(ctx context.Context, key string) (release func(), err error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	b, exists := tb.buckets[key]
	if !exists {
		b = &bucket{tokens: tb.capacity, lastRefill: time.Now()}
		tb.buckets[key] = b
	}

	elapsed := time.Since(b.lastRefill)
	if refill := int(elapsed / tb.refillRate); refill > 0 {
		b.tokens = min(b.tokens+refill, tb.capacity)
		b.lastRefill = b.lastRefill.Add(time.Duration(refill) * tb.refillRate)
	}

	if b.tokens <= 0 {
		return nil, ports.ErrRateLimited
	}
	b.tokens--

	release = func() {
		tb.mu.Lock()
		defer tb.mu.Unlock()
		if b, ok := tb.buckets[key]; ok {
			b.tokens = min(b.tokens+1, tb.capacity)
		}
	}
	return release, nil
}

// NoopRateLimiter admits every request.
type NoopRateLimiter struct{}

func (NoopRateLimiter) Acquire(ctx context.Context, key string) (func(), error) {
	return func() {}, nil
}

// Ensure the limiters implement the RateLimiter interface.
var (
	_ ports.RateLimiter = (*TokenBucket)(nil)
	_ ports.RateLimiter = NoopRateLimiter{}
)
