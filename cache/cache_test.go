package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCache(t *testing.T) {
	for name, makeCache := range map[string]func(*testing.T) StatusCache{
		"Memory": func(*testing.T) StatusCache {
			return NewMemoryCache("device:", 0)
		},
		"Redis": func(t *testing.T) StatusCache {
			mr := miniredis.RunT(t)
			c, err := NewRedisCache(RedisOptions{URL: "redis://" + mr.Addr(), Prefix: "device:"})
			require.NoError(t, err)
			return c
		},
	} {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			c := makeCache(t)
			defer func() { assert.NoError(t, c.Close()) }()

			_, ok, err := c.GetStatus(ctx, "d1")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, c.SetStatus(ctx, "d1", "idle"))
			status, ok, err := c.GetStatus(ctx, "d1")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "idle", status)

			require.NoError(t, c.SetStatus(ctx, "d1", "busy"))
			status, _, err = c.GetStatus(ctx, "d1")
			require.NoError(t, err)
			assert.Equal(t, "busy", status)

			require.NoError(t, c.Delete(ctx, "d1"))
			_, ok, err = c.GetStatus(ctx, "d1")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestRedisCacheUsesPrefixAndTTL(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	c, err := NewRedisCache(RedisOptions{URL: "redis://" + mr.Addr(), Prefix: "trk:", TTL: time.Minute})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Ping(ctx))
	require.NoError(t, c.SetStatus(ctx, "d1", "idle"))

	val, err := mr.Get("trk:d1")
	require.NoError(t, err)
	assert.Equal(t, "idle", val)
	assert.Equal(t, time.Minute, mr.TTL("trk:d1"))

	mr.FastForward(2 * time.Minute)
	_, ok, err := c.GetStatus(ctx, "d1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCacheRejectsBadURL(t *testing.T) {
	_, err := NewRedisCache(RedisOptions{URL: "not a url"})
	assert.Error(t, err)
}

func TestMemoryCacheExpires(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache("", 20*time.Millisecond)
	require.NoError(t, c.SetStatus(ctx, "d1", "idle"))

	time.Sleep(50 * time.Millisecond)
	_, ok, err := c.GetStatus(ctx, "d1")
	require.NoError(t, err)
	assert.False(t, ok)
}
