package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisTokenStore, *miniredis.Miniredis, *test.Hook) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })

	logger, hook := test.NewNullLogger()
	return NewRedisTokenStore(client, "auth", logger), mr, hook
}

func TestRedisTokenStore_RefreshRegistry(t *testing.T) {
	store, mr, _ := newTestRedisStore(t)
	ctx := context.Background()

	_, found, err := store.GetRefresh(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.PutRefresh(ctx, "alice", "first", time.Hour))
	require.NoError(t, store.PutRefresh(ctx, "alice", "second", time.Hour))

	token, found, err := store.GetRefresh(ctx, "alice")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "second", token)
	assert.Equal(t, time.Hour, mr.TTL("auth:refresh:alice"))

	require.NoError(t, store.DeleteRefresh(ctx, "alice"))
	_, found, err = store.GetRefresh(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, found)

	// Deleting an absent entry is not an error.
	assert.NoError(t, store.DeleteRefresh(ctx, "alice"))
}

func TestRedisTokenStore_RefreshExpires(t *testing.T) {
	store, mr, _ := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutRefresh(ctx, "alice", "token", time.Minute))
	mr.FastForward(time.Minute)

	_, found, err := store.GetRefresh(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisTokenStore_RevokeKeepsFirstEntry(t *testing.T) {
	store, mr, _ := newTestRedisStore(t)
	ctx := context.Background()

	revoked, err := store.IsRevoked(ctx, "token")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, store.Revoke(ctx, "token", 10*time.Minute))
	mr.FastForward(4 * time.Minute)
	require.NoError(t, store.Revoke(ctx, "token", time.Hour))

	key := "auth:revoked:" + tokenDigest("token")
	assert.Equal(t, 6*time.Minute, mr.TTL(key))

	revoked, err = store.IsRevoked(ctx, "token")
	require.NoError(t, err)
	assert.True(t, revoked)

	mr.FastForward(6 * time.Minute)
	revoked, err = store.IsRevoked(ctx, "token")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRedisTokenStore_RevokeWithoutLifetimeIsNoop(t *testing.T) {
	store, mr, _ := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Revoke(ctx, "token", 0))
	require.NoError(t, store.Revoke(ctx, "token", -time.Second))
	assert.Empty(t, mr.Keys())
}

func TestRedisTokenStore_KeysNeverHoldRawTokens(t *testing.T) {
	store, mr, _ := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Revoke(ctx, "eyJhbGciOiJIUzI1NiJ9.payload.sig", time.Minute))

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.NotContains(t, keys[0], "payload")
	assert.Len(t, keys[0], len("auth:revoked:")+64)
}

func TestRedisTokenStore_Unavailable(t *testing.T) {
	store, mr, hook := newTestRedisStore(t)
	ctx := context.Background()
	mr.Close()

	assert.ErrorIs(t, store.PutRefresh(ctx, "alice", "token", time.Minute), ErrStoreUnavailable)

	_, found, err := store.GetRefresh(ctx, "alice")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.False(t, found)

	assert.ErrorIs(t, store.DeleteRefresh(ctx, "alice"), ErrStoreUnavailable)
	assert.ErrorIs(t, store.Revoke(ctx, "token", time.Minute), ErrStoreUnavailable)

	revoked, err := store.IsRevoked(ctx, "token")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.False(t, revoked)

	assert.NotEmpty(t, hook.AllEntries())
}
