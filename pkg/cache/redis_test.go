package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCacheFromClient(client), mr
}

func TestRedisCacheSetGet(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "saml_request:abc", `{"organization_id":"org-1"}`, 10*time.Minute))

	value, ok, err := c.Get(ctx, "saml_request:abc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"organization_id":"org-1"}`, value)

	ttl := mr.TTL("saml_request:abc")
	assert.Equal(t, 10*time.Minute, ttl)
}

func TestRedisCacheGetMissing(t *testing.T) {
	c, _ := newTestCache(t)

	value, ok, err := c.Get(context.Background(), "no-such-key")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, value)
}

func TestRedisCacheGetExpired(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	mr.FastForward(2 * time.Minute)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCacheDelete(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	require.NoError(t, c.Delete(ctx, "k"))

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting an absent key is not an error.
	assert.NoError(t, c.Delete(ctx, "k"))
}

func TestRedisCacheGetDelete(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "oidc_state:xyz", "state", time.Minute))

	value, ok, err := c.GetDelete(ctx, "oidc_state:xyz")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "state", value)

	// The first consumer removed the key; a second attempt sees nothing.
	_, ok, err = c.GetDelete(ctx, "oidc_state:xyz")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCachePing(t *testing.T) {
	c, mr := newTestCache(t)

	assert.NoError(t, c.Ping(context.Background()))

	mr.Close()
	assert.Error(t, c.Ping(context.Background()))
}

func TestNewRedisCacheInvalidURL(t *testing.T) {
	_, err := NewRedisCache(Config{URL: "not-a-redis-url"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid redis URL")
}

func TestNewRedisCacheConnects(t *testing.T) {
	mr := miniredis.RunT(t)

	c, err := NewRedisCache(Config{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	defer c.Close()

	assert.NoError(t, c.Ping(context.Background()))
}
