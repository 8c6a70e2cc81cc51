package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"placement/internal/config"
)

func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return client, nil
}

// RateLimiter counts attempts per key in fixed windows.
type RateLimiter struct {
	client *redis.Client
	prefix string
}

func NewRateLimiter(client *redis.Client, prefix string) *RateLimiter {
	return &RateLimiter{client: client, prefix: prefix}
}

// Allow records one attempt for key and reports whether it is within limit,
// along with the time left in the current window.
func (l *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	if limit <= 0 {
		return true, 0, nil
	}
	if window <= 0 {
		window = time.Minute
	}

	redisKey := l.prefix + key
	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return true, 0, fmt.Errorf("incr: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, window).Err(); err != nil {
			return true, window, fmt.Errorf("expire: %w", err)
		}
	}

	ttl, err := l.client.TTL(ctx, redisKey).Result()
	if err != nil || ttl <= 0 {
		ttl = window
	}
	return int(count) <= limit, ttl, nil
}

// NonceStore remembers request nonces so a signed request cannot be
// replayed.
type NonceStore struct {
	client *redis.Client
	prefix string
}

func NewNonceStore(client *redis.Client, prefix string) *NonceStore {
	return &NonceStore{client: client, prefix: prefix}
}

// Claim returns true the first time key is seen within ttl.
func (s *NonceStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, s.prefix+key, "1", ttl).Result()
}
