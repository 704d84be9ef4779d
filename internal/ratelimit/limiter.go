package ratelimit

import "context"

// RateLimiter admits or rejects one unit of work for key within the current
// window.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}
