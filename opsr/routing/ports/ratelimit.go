package routingports

import "context"

// RateLimiter coordinates admission of top-level requests.
type RateLimiter interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
