package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"gatekeep.org/internal/auth"
)

func newLimiter(t *testing.T, limit int, window time.Duration) (*FixedWindow, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	l, err := NewFixedWindow(client, limit, window)
	require.NoError(t, err)
	return l, mr
}

func TestFixedWindowBlocksAfterLimit(t *testing.T) {
	l, _ := newLimiter(t, 2, time.Minute)
	ctx := context.Background()

	require.NoError(t, l.Allow(ctx, "forgot_password:a@example.com"))
	require.NoError(t, l.Allow(ctx, "forgot_password:a@example.com"))
	require.ErrorIs(t, l.Allow(ctx, "forgot_password:a@example.com"), auth.ErrTooManyRequests)

	require.NoError(t, l.Allow(ctx, "forgot_password:b@example.com"))
}

func TestFixedWindowResetsAfterWindow(t *testing.T) {
	l, mr := newLimiter(t, 1, time.Minute)
	ctx := context.Background()

	require.NoError(t, l.Allow(ctx, "k"))
	require.ErrorIs(t, l.Allow(ctx, "k"), auth.ErrTooManyRequests)
	require.Equal(t, time.Minute, mr.TTL(keyPrefix+"k"))

	mr.FastForward(time.Minute + time.Second)
	require.NoError(t, l.Allow(ctx, "k"))
}

func TestFixedWindowReportsOutage(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	l, err := NewFixedWindow(client, 1, time.Minute)
	require.NoError(t, err)
	mr.Close()

	err = l.Allow(context.Background(), "k")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestNewFixedWindowValidates(t *testing.T) {
	_, err := NewFixedWindow(nil, 1, time.Minute)
	require.Error(t, err)
}
