package utils

import (
	"context"
	"fmt"
	"time"

	"talentmail/internal/config"

	"github.com/redis/go-redis/v9"
)

// RedisClient wraps the Redis client with the fixed-window counters used for
// send throttling and API rate limits
type RedisClient struct {
	*redis.Client
}

// NewRedisClient connects and pings; callers fall back to local limiters when it fails
func NewRedisClient(cfg config.RedisConfig) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		Username: cfg.Username,
		DB:       cfg.DB,

		PoolSize:     10,
		MinIdleConns: 5,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisClient{Client: client}, nil
}

func (r *RedisClient) HealthCheck(ctx context.Context) error {
	return r.Ping(ctx).Err()
}

// IncrementRateLimit counts one hit in the window that started with the
// key's first hit. The expiry is only set on that first hit so the window
// never slides.
func (r *RedisClient) IncrementRateLimit(ctx context.Context, key string, window time.Duration) (int, error) {
	count, err := r.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := r.Expire(ctx, key, window).Err(); err != nil {
			return 0, err
		}
	}
	return int(count), nil
}

// GetRateLimitTTL gets the time left in a key's window
func (r *RedisClient) GetRateLimitTTL(ctx context.Context, key string) (time.Duration, error) {
	return r.TTL(ctx, key).Result()
}
