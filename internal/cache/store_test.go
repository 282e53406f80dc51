package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SetGet(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", map[string]string{"a": "b"}, time.Minute))

	var got map[string]string
	found, err := store.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "b", got["a"])
}

func TestMemoryStore_MissingKey(t *testing.T) {
	store := NewMemoryStore(time.Minute)

	var got string
	found, err := store.Get(context.Background(), "absent", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryStore_ExpiredEntryIsAbsent(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", "v", 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	var got string
	found, err := store.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, found)
	// Lazy expiry removed the entry on read.
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStore_SetRefreshesTTL(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", "old", 10*time.Millisecond))
	require.NoError(t, store.Set(ctx, "k", "new", time.Minute))
	time.Sleep(30 * time.Millisecond)

	var got string
	found, err := store.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "new", got)
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", "v", time.Minute))
	require.NoError(t, store.Delete(ctx, "k"))

	var got string
	found, err := store.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryStore_SweepRemovesOnlyExpired(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "live", "v", time.Minute))
	require.NoError(t, store.Set(ctx, "dead1", "v", 5*time.Millisecond))
	require.NoError(t, store.Set(ctx, "dead2", "v", 5*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	removed := store.Sweep()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_SweepLoopLifecycle(t *testing.T) {
	store := NewMemoryStore(10 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", "v", time.Millisecond))
	store.Start()
	defer store.Stop()

	assert.Eventually(t, func() bool {
		return store.Len() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestMemoryStore_Metrics(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", "v", time.Minute))
	var got string
	_, _ = store.Get(ctx, "k", &got)
	_, _ = store.Get(ctx, "absent", &got)

	m := store.Metrics()
	assert.Equal(t, int64(1), m.Sets)
	assert.Equal(t, int64(1), m.Hits)
	assert.Equal(t, int64(1), m.Misses)
}
