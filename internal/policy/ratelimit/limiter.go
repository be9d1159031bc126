// Package ratelimit throttles derived jobs with per-destination token buckets
// so a burst of versions in one change cannot flood a downstream sink.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/depfollow/internal/follower"
	"github.com/JakeFAU/depfollow/internal/metrics"
)

// Limiter manages per-destination rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// Config holds rate limiter configuration. DefaultRPS <= 0 disables limiting.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Wait blocks until a token is available for destination, respecting ctx.
func (l *Limiter) Wait(ctx context.Context, destination string) error {
	if destination == "" {
		destination = "unknown"
	}
	l.mu.Lock()
	limiter, exists := l.limiters[destination]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[destination] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Immediate grants are not worth a histogram sample.
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveRateLimitDelay(destination, d)
	}
	return nil
}

// Job wraps next so each task waits for a destination token first. A nil
// limiter or job returns next unchanged.
func Job(l *Limiter, destination string, next follower.Job) follower.Job {
	if l == nil || next == nil {
		return next
	}
	return follower.JobFunc(func(ctx context.Context, task follower.Task) error {
		if err := l.Wait(ctx, destination); err != nil {
			return err
		}
		return next.Run(ctx, task)
	})
}
