package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreSetGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	found, err := store.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Set(ctx, "k1", "msg-1", time.Minute))

	found, err = store.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, found)

	val, ok, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "msg-1", val)
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := NewMemoryStore().WithClock(func() time.Time { return now })

	require.NoError(t, store.Set(ctx, "k1", "v", 10*time.Second))

	found, err := store.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, found)

	now = now.Add(11 * time.Second)

	found, err = store.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStoreOverwriteExtendsTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := NewMemoryStore().WithClock(func() time.Time { return now })

	require.NoError(t, store.Set(ctx, "k1", "v1", 10*time.Second))
	now = now.Add(5 * time.Second)
	require.NoError(t, store.Set(ctx, "k1", "v2", 10*time.Second))
	now = now.Add(8 * time.Second)

	val, ok, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", val)
}

func TestMemoryStoreCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := NewMemoryStore()
	_, err := store.Exists(ctx, "k1")
	assert.ErrorIs(t, err, context.Canceled)

	err = store.Set(ctx, "k1", "v", time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}
