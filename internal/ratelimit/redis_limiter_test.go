package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })

	return client, mr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *clock { return &clock{t: time.Unix(1769947200, 0)} }

// limiters runs the same scenario against both backends.
func limiters(t *testing.T) map[string]func(*clock) Limiter {
	client, _ := setupTestRedis(t)
	return map[string]func(*clock) Limiter{
		"redis": func(c *clock) Limiter {
			l := NewRedisLimiter(client, testLogger())
			l.now = c.now
			return l
		},
		"memory": func(c *clock) Limiter {
			l := NewMemoryLimiter(testLogger())
			l.now = c.now
			return l
		},
	}
}

func TestLimiter_BlocksWhenExceeded(t *testing.T) {
	for name, build := range limiters(t) {
		build := build
		t.Run(name, func(t *testing.T) {
			c := newClock()
			limiter := build(c)
			ctx := context.Background()

			for i := 0; i < 3; i++ {
				result, err := limiter.Check(ctx, name+":blocks", 2, time.Minute)
				require.NoError(t, err)
				assert.Equal(t, i < 2, result.Allowed, "attempt %d", i)
				c.advance(time.Second)
			}

			result, err := limiter.Check(ctx, name+":blocks", 2, time.Minute)
			require.NoError(t, err)
			assert.False(t, result.Allowed)
			assert.Equal(t, 0, result.Remaining)
			assert.Equal(t, time.Unix(1769947200, 0).Add(time.Minute), result.ResetAt)
			assert.Equal(t, 57, result.RetryAfter(c.now()))
		})
	}
}

func TestLimiter_SlidingWindow(t *testing.T) {
	for name, build := range limiters(t) {
		build := build
		t.Run(name, func(t *testing.T) {
			c := newClock()
			limiter := build(c)
			ctx := context.Background()

			for i := 0; i < 2; i++ {
				result, err := limiter.Check(ctx, name+":window", 2, time.Second)
				require.NoError(t, err)
				assert.True(t, result.Allowed)
			}

			rejected, err := limiter.Check(ctx, name+":window", 2, time.Second)
			require.NoError(t, err)
			assert.False(t, rejected.Allowed)

			c.advance(1100 * time.Millisecond)

			result, err := limiter.Check(ctx, name+":window", 2, time.Second)
			require.NoError(t, err)
			assert.True(t, result.Allowed)
			assert.Equal(t, 1, result.Remaining)
		})
	}
}

func TestRedisLimiter_Sweep(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	limiter := NewRedisLimiter(client, testLogger())
	_, err := limiter.Check(ctx, "screenshot", 5, time.Minute)
	require.NoError(t, err)
	require.NoError(t, client.ZAdd(ctx, keyPrefix+"empty", redis.Z{Score: 1, Member: "x"}).Err())
	require.NoError(t, client.ZRem(ctx, keyPrefix+"empty", "x").Err())
	mr.Set("unrelated", "1")

	removed, err := limiter.Sweep(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, removed, 1)
	assert.True(t, mr.Exists(keyPrefix+"screenshot"))
	assert.True(t, mr.Exists("unrelated"))

	mr.FastForward(3 * time.Minute)
	assert.False(t, mr.Exists(keyPrefix+"screenshot"), "keys expire after twice the window")
}

func TestMemoryLimiter_Sweep(t *testing.T) {
	c := newClock()
	limiter := NewMemoryLimiter(testLogger())
	limiter.now = c.now
	ctx := context.Background()

	_, err := limiter.Check(ctx, "short", 1, time.Second)
	require.NoError(t, err)
	_, err = limiter.Check(ctx, "long", 1, time.Hour)
	require.NoError(t, err)

	c.advance(time.Minute)
	removed, err := limiter.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Contains(t, limiter.buckets, "long")
	assert.NotContains(t, limiter.buckets, "short")
}
