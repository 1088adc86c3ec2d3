// Package ratelimit spaces consecutive search queries with a token bucket.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/policy-search-crawler/internal/metrics"
)

// Config holds pacing configuration.
type Config struct {
	// Interval is the minimum gap between two queries. Zero disables pacing.
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	// Jitter adds a random extra delay in [0, Jitter) after each token.
	Jitter time.Duration `mapstructure:"jitter" yaml:"jitter"`
}

// Limiter implements crawler.Pacer.
type Limiter struct {
	limiter *rate.Limiter
	jitter  time.Duration
	// sleep is swapped in tests.
	sleep func(context.Context, time.Duration) error
}

// New creates a new Limiter. The first Wait returns immediately.
func New(cfg Config) *Limiter {
	limit := rate.Inf
	if cfg.Interval > 0 {
		limit = rate.Every(cfg.Interval)
	}
	return &Limiter{
		limiter: rate.NewLimiter(limit, 1),
		jitter:  max(cfg.Jitter, 0),
		sleep:   sleepCtx,
	}
}

// Wait blocks until the next query may start, respecting the context.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if l.jitter > 0 {
		// #nosec G404 -- jitter does not need a cryptographic source.
		if err := l.sleep(ctx, rand.N(l.jitter)); err != nil {
			return fmt.Errorf("rate limit jitter: %w", err)
		}
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObservePacingDelay(waited)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
