// Package ratelimit throttles verification code issuance with a Redis fixed
// window per key.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"gatekeep.org/internal/auth"
)

// ErrUnavailable wraps Redis failures. Callers treat it as fail-open.
var ErrUnavailable = errors.New("otp limiter unavailable")

const keyPrefix = "gk:otp:"

// FixedWindow allows at most limit calls per key inside each window.
type FixedWindow struct {
	redis  redis.UniversalClient
	limit  int64
	window time.Duration
}

var _ auth.Limiter = (*FixedWindow)(nil)

// NewFixedWindow builds a limiter. limit must be positive.
func NewFixedWindow(client redis.UniversalClient, limit int, window time.Duration) (*FixedWindow, error) {
	if client == nil {
		return nil, errors.New("ratelimit: redis client is required")
	}
	if limit <= 0 || window <= 0 {
		return nil, errors.New("ratelimit: limit and window must be positive")
	}
	return &FixedWindow{redis: client, limit: int64(limit), window: window}, nil
}

// Allow counts one hit for key and reports auth.ErrTooManyRequests once
// the window budget is spent.
func (l *FixedWindow) Allow(ctx context.Context, key string) error {
	redisKey := keyPrefix + key
	count, err := l.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, redisKey, l.window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	if count > l.limit {
		return auth.ErrTooManyRequests
	}
	return nil
}
