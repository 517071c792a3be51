// Package rate throttles outgoing mail so workers stay under the provider's send rate
package rate

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Throttle blocks until one more send is allowed
type Throttle interface {
	Wait(ctx context.Context) error
}

// Counter is a shared fixed-window counter, implemented by utils.RedisClient
type Counter interface {
	IncrementRateLimit(ctx context.Context, key string, window time.Duration) (int, error)
	GetRateLimitTTL(ctx context.Context, key string) (time.Duration, error)
}

type RateLimit struct {
	Window  time.Duration
	MaxJobs int
}

type QueueConfig struct {
	Name      string
	RateLimit RateLimit
}

// QueueRateLimiter is a fixed window limiter shared by every worker through Redis
type QueueRateLimiter struct {
	counter Counter
	config  QueueConfig
}

func NewQueueRateLimiter(counter Counter, config QueueConfig) *QueueRateLimiter {
	if config.RateLimit.Window <= 0 {
		config.RateLimit.Window = time.Second
	}
	return &QueueRateLimiter{counter: counter, config: config}
}

func (l *QueueRateLimiter) key() string {
	return fmt.Sprintf("rate_limit:queue:%s", l.config.Name)
}

// Allow takes a slot in the current window if one is free
func (l *QueueRateLimiter) Allow(ctx context.Context) (bool, error) {
	if l.config.RateLimit.MaxJobs <= 0 {
		return true, nil
	}
	count, err := l.counter.IncrementRateLimit(ctx, l.key(), l.config.RateLimit.Window)
	if err != nil {
		return false, fmt.Errorf("rate limiter error: %w", err)
	}
	return count <= l.config.RateLimit.MaxJobs, nil
}

// Wait polls Allow, sleeping out the rest of the window between attempts
func (l *QueueRateLimiter) Wait(ctx context.Context) error {
	for {
		allowed, err := l.Allow(ctx)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		wait, err := l.counter.GetRateLimitTTL(ctx, l.key())
		if err != nil || wait <= 0 || wait > l.config.RateLimit.Window {
			wait = l.config.RateLimit.Window
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// LocalLimiter throttles within a single process
type LocalLimiter struct {
	limiter *rate.Limiter
}

// NewLocalLimiter allows perSecond sends per second; zero or less disables throttling
func NewLocalLimiter(perSecond int) *LocalLimiter {
	if perSecond <= 0 {
		return &LocalLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	return &LocalLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), perSecond)}
}

func (l *LocalLimiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}
