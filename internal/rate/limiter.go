package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds limiter tuning parameters. A zero max disables that limit.
type Config struct {
	LoginMaxAttempts int
	LoginWindow      time.Duration
	ResetMaxRequests int
	ResetWindow      time.Duration
}

// Limiter enforces per-IP budgets using Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckLogin returns ErrRateLimited once ip has used its failed-login budget
// for the current window. It does not consume budget.
func (l *Limiter) CheckLogin(ctx context.Context, ip string) error {
	if l.config.LoginMaxAttempts <= 0 || ip == "" {
		return nil
	}

	count, err := l.redis.Get(ctx, loginKey(ip)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count >= int64(l.config.LoginMaxAttempts) {
		return ErrRateLimited
	}
	return nil
}

// RecordLoginFailure consumes one unit of ip's failed-login budget.
func (l *Limiter) RecordLoginFailure(ctx context.Context, ip string) error {
	if l.config.LoginMaxAttempts <= 0 || ip == "" {
		return nil
	}
	_, err := l.incrementWithTTL(ctx, loginKey(ip), l.config.LoginWindow)
	return err
}

// AllowReset consumes one forgot-password request for ip and returns
// ErrRateLimited once the window budget is exceeded.
func (l *Limiter) AllowReset(ctx context.Context, ip string) error {
	if l.config.ResetMaxRequests <= 0 || ip == "" {
		return nil
	}

	count, err := l.incrementWithTTL(ctx, resetKey(ip), l.config.ResetWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.ResetMaxRequests) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed window: the TTL is set only by the first hit.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}

func loginKey(ip string) string { return "agl:" + ip }

func resetKey(ip string) string { return "agr:" + ip }
