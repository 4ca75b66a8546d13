package routingports

import "context"

// Cache provides private memoization for adapters that need it. The router
// and the workflow engine never see it.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}
