// Package ratelimit throttles migration start requests per client.
//
// The Limiter interface is the seam: a single-process deployment uses the
// in-memory MemoryLimiter, and rate limiting is switched off entirely with
// NoopLimiter.
package ratelimit

import "context"

// Limiter answers whether the request identified by key may proceed.
// Implementations are safe for concurrent use. An error means the limiter
// itself broke; callers fail open on errors instead of dropping traffic.
type Limiter interface {
	// Allow reports whether one request under key fits the budget. The
	// key is opaque here; the middleware builds it from the client IP.
	Allow(ctx context.Context, key string) (bool, error)

	// Close stops background work owned by the limiter.
	Close() error
}

// NoopLimiter admits everything. Installed when rate limiting is disabled.
type NoopLimiter struct{}

func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

func (NoopLimiter) Close() error { return nil }
