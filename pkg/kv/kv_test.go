package kv

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_TryAcquireExclusive(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	won, err := store.TryAcquire(ctx, "lock:a", time.Minute)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = store.TryAcquire(ctx, "lock:a", time.Minute)
	require.NoError(t, err)
	assert.False(t, won, "second acquirer must lose while the lock is held")

	require.NoError(t, store.Release(ctx, "lock:a"))

	won, err = store.TryAcquire(ctx, "lock:a", time.Minute)
	require.NoError(t, err)
	assert.True(t, won)
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	current := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return current })

	require.NoError(t, store.Set(ctx, "flag", "on", time.Hour))

	value, ok, err := store.Get(ctx, "flag")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "on", value)

	current = current.Add(2 * time.Hour)

	_, ok, err = store.Get(ctx, "flag")
	require.NoError(t, err)
	assert.False(t, ok, "entry must expire after its TTL")

	won, err := store.TryAcquire(ctx, "flag", time.Minute)
	require.NoError(t, err)
	assert.True(t, won, "expired keys are acquirable again")
}

func TestMemoryStore_ZeroTTLNeverExpires(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	current := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return current })

	require.NoError(t, store.Set(ctx, "marker", "done", 0))

	current = current.Add(1000 * time.Hour)

	_, ok, err := store.Get(ctx, "marker")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisStore(t *testing.T) {
	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}

	defer srv.Close()

	store, err := NewRedisStore(context.Background(), "redis://"+srv.Addr())
	require.NoError(t, err)

	defer store.Close()

	ctx := context.Background()

	won, err := store.TryAcquire(ctx, "lock:b", time.Minute)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = store.TryAcquire(ctx, "lock:b", time.Minute)
	require.NoError(t, err)
	assert.False(t, won)

	require.NoError(t, store.Set(ctx, "flag:conv-1", `{"enabled":false}`, time.Minute))

	value, ok, err := store.Get(ctx, "flag:conv-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"enabled":false}`, value)

	srv.FastForward(2 * time.Minute)

	_, ok, err = store.Get(ctx, "flag:conv-1")
	require.NoError(t, err)
	assert.False(t, ok, "redis TTL expiry")

	won, err = store.TryAcquire(ctx, "lock:b", time.Minute)
	require.NoError(t, err)
	assert.True(t, won)
}
