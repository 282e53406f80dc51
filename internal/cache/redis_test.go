package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qamind/qamind/internal/models"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "test:"), mr
}

func TestRedisStore_SetGet(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", map[string]int{"n": 7}, time.Minute))

	var got map[string]int
	found, err := store.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 7, got["n"])
}

func TestRedisStore_MissingKey(t *testing.T) {
	store, _ := newRedisStore(t)

	var got string
	found, err := store.Get(context.Background(), "absent", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisStore_TTLExpiry(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", "v", time.Second))
	mr.FastForward(2 * time.Second)

	var got string
	found, err := store.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisStore_Delete(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", "v", time.Minute))
	require.NoError(t, store.Delete(ctx, "k"))

	var got string
	found, err := store.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisStore_KeysAreNamespaced(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", "v", time.Minute))
	assert.True(t, mr.Exists("test:k"))
}

func TestResponseCache_WithRedisBackend(t *testing.T) {
	store, _ := newRedisStore(t)
	rc := NewResponseCache(store, time.Minute, nil)
	ctx := context.Background()
	computations := 0

	for i := 0; i < 2; i++ {
		answer, err := rc.GetOrCompute(ctx, "k", func(ctx context.Context) (*models.Answer, error) {
			computations++
			return &models.Answer{Content: "v"}, nil
		})
		require.NoError(t, err)
		assert.Equal(t, "v", answer.Content)
	}
	assert.Equal(t, 1, computations)
}
