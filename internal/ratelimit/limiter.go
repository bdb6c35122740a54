package ratelimit

import "context"

// RateLimiter throttles outbound collaborator calls per named scope
// (e.g. the "parse" scope for the text-understanding API quota).
type RateLimiter interface {
	Allow(ctx context.Context, scope string) (bool, error)
	Wait(ctx context.Context, scope string) error
}
