package ratelimit

import "context"

// RateLimiter bounds outbound carrier throughput per scope (e.g. "send").
type RateLimiter interface {
	Allow(ctx context.Context, scope string) (bool, error)
	Wait(ctx context.Context, scope string) error
}

// Unlimited is a no-op limiter for tests and single-tenant deployments.
type Unlimited struct{}

func (Unlimited) Allow(ctx context.Context, scope string) (bool, error) { return true, nil }
func (Unlimited) Wait(ctx context.Context, scope string) error          { return nil }
