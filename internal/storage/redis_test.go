package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client), mr
}

func TestRedisCache_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	c, mr := newMiniRedisCache(t)

	require.NoError(t, c.Ping(ctx))
	require.NoError(t, c.Set(ctx, "matchQueue", []byte(`["a","b"]`), 0))

	got, err := c.Get(ctx, "matchQueue")
	require.NoError(t, err)
	assert.JSONEq(t, `["a","b"]`, string(got))

	require.NoError(t, c.Delete(ctx, "matchQueue"))
	_, err = c.Get(ctx, "matchQueue")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.False(t, mr.Exists("matchQueue"))
}

func TestRedisCache_TTL(t *testing.T) {
	ctx := context.Background()
	c, mr := newMiniRedisCache(t)

	require.NoError(t, c.Set(ctx, "tracking:alice", []byte(`{}`), 600*time.Second))
	assert.Equal(t, 600*time.Second, mr.TTL("tracking:alice"))

	mr.FastForward(601 * time.Second)
	_, err := c.Get(ctx, "tracking:alice")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisCache_Unreachable(t *testing.T) {
	ctx := context.Background()
	c, mr := newMiniRedisCache(t)
	mr.Close()

	assert.Error(t, c.Ping(ctx))
	_, err := c.Get(ctx, "k")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}

func TestResilientStore_OverMiniredis(t *testing.T) {
	ctx := context.Background()
	c, mr := newMiniRedisCache(t)
	s := NewResilientStore(c, nil, nopLogger(), Options{})
	s.CheckHealth(ctx)

	require.NoError(t, s.Set(ctx, "onlineUsers", 2, 0))
	v, err := mr.Get("onlineUsers")
	require.NoError(t, err)
	assert.Equal(t, "2", v)

	mr.FlushAll()
	var n int
	require.True(t, s.GetJSON(ctx, "onlineUsers", &n), "served locally after the cache lost the key")
	assert.Equal(t, 2, n)
}

func TestDialRedis(t *testing.T) {
	client, err := DialRedis("redis://localhost:6379/2")
	require.NoError(t, err)
	defer client.Close()
	assert.Equal(t, 2, client.Options().DB)

	_, err = DialRedis("http://nope")
	assert.Error(t, err)
}
