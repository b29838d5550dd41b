package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRateLimited             = errors.New("rate limited")
	ErrLimiterRedisUnavailable = errors.New("limiter redis unavailable")
)

// WindowConfig is a fixed-window budget: at most Max hits per Window.
type WindowConfig struct {
	Max    int
	Window time.Duration
}

// FixedWindow counts hits per key with INCR and a TTL set on the first hit.
// A nil FixedWindow or a zero Max never limits.
type FixedWindow struct {
	redis  redis.UniversalClient
	prefix string
	config WindowConfig
}

func NewFixedWindow(redisClient redis.UniversalClient, prefix string, cfg WindowConfig) *FixedWindow {
	return &FixedWindow{
		redis:  redisClient,
		prefix: prefix,
		config: cfg,
	}
}

// Allow records a hit for each non-empty key and fails on the first key over budget.
func (l *FixedWindow) Allow(ctx context.Context, keys ...string) error {
	if l == nil || l.redis == nil || l.config.Max <= 0 || l.config.Window <= 0 {
		return nil
	}
	for _, k := range keys {
		if k == "" {
			continue
		}
		if err := l.enforce(ctx, l.prefix+":"+k); err != nil {
			return err
		}
	}
	return nil
}

// Reset clears the counter for key.
func (l *FixedWindow) Reset(ctx context.Context, key string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	if err := l.redis.Del(ctx, l.prefix+":"+key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLimiterRedisUnavailable, err)
	}
	return nil
}

func (l *FixedWindow) enforce(ctx context.Context, key string) error {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLimiterRedisUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrLimiterRedisUnavailable, err)
		}
	}

	if count > int64(l.config.Max) {
		return ErrRateLimited
	}

	return nil
}
