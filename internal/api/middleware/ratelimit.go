package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"talentmail/internal/utils"
)

// Counter is a shared fixed-window counter, implemented by utils.RedisClient
type Counter interface {
	IncrementRateLimit(ctx context.Context, key string, window time.Duration) (int, error)
}

// RateLimitConfig holds configuration for the shared API limiter
type RateLimitConfig struct {
	Counter Counter
	// Limit requests per Window for each client and endpoint
	Limit  int
	Window time.Duration
}

// RateLimiter limits authenticated API traffic through the shared counter.
// Counter errors let the request through.
func RateLimiter(config RateLimitConfig) echo.MiddlewareFunc {
	if config.Limit <= 0 {
		config.Limit = 100
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if config.Counter == nil {
				return next(c)
			}

			key := fmt.Sprintf("rate_limit:%s:%s:%s", getClientID(c), c.Request().Method, c.Path())
			reset := time.Now().Add(config.Window)

			count, err := config.Counter.IncrementRateLimit(c.Request().Context(), key, config.Window)
			if err != nil {
				return next(c)
			}

			remaining := config.Limit - count
			if remaining < 0 {
				remaining = 0
			}
			setRateLimitHeaders(c, config.Limit, remaining, reset)

			if count > config.Limit {
				return tooManyRequests(c, int(config.Window.Seconds()))
			}
			return next(c)
		}
	}
}

// IPRateLimiter throttles each client IP in process with a token bucket.
// It guards the public tracking endpoints, which must not depend on Redis.
func IPRateLimiter(limit rate.Limit, burst int) echo.MiddlewareFunc {
	var (
		mu       sync.Mutex
		limiters = map[string]*rate.Limiter{}
	)

	limiterFor := func(ip string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := limiters[ip]
		if !ok {
			// keep the map bounded; a reset only forgives clients for a moment
			if len(limiters) >= 10000 {
				limiters = map[string]*rate.Limiter{}
			}
			l = rate.NewLimiter(limit, burst)
			limiters[ip] = l
		}
		return l
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !limiterFor(utils.GetIPAddress(c.Request())).Allow() {
				return tooManyRequests(c, 1)
			}
			return next(c)
		}
	}
}

// getClientID prefers the authenticated user over the IP address
func getClientID(c echo.Context) string {
	if userID := GetUserID(c); userID != "" {
		return fmt.Sprintf("user:%s", userID)
	}
	return fmt.Sprintf("ip:%s", utils.GetIPAddress(c.Request()))
}

func setRateLimitHeaders(c echo.Context, limit, remaining int, reset time.Time) {
	c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	c.Response().Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	c.Response().Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
}

func tooManyRequests(c echo.Context, retryAfter int) error {
	c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
	return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
		"error":       "rate_limit_exceeded",
		"message":     "Rate limit exceeded. Try again later.",
		"retry_after": retryAfter,
	})
}
