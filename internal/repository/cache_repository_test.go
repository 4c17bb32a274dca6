package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/classroom-sync-api/internal/models"
	appErrors "github.com/noah-isme/classroom-sync-api/pkg/errors"
)

func TestMemoryCacheRepositoryLifecycle(t *testing.T) {
	repo := NewMemoryCacheRepository()
	ctx := context.Background()

	_, err := repo.Get(ctx, "sync:u1:todo:all")
	assert.ErrorIs(t, err, appErrors.ErrCacheMiss)

	for _, key := range []string{"sync:u1:todo:all", "sync:u1:todo:c1", "sync:u1:course:c1", "sync:u2:todo:all"} {
		require.NoError(t, repo.Put(ctx, models.CacheEntry{Key: key, Payload: json.RawMessage(`[]`), FetchedAt: time.Now()}))
	}

	marked, err := repo.MarkStale(ctx, "sync:u1:todo:*")
	require.NoError(t, err)
	assert.Equal(t, 2, marked)

	again, err := repo.MarkStale(ctx, "sync:u1:todo:*")
	require.NoError(t, err)
	assert.Zero(t, again, "already stale entries are not counted twice")

	entry, err := repo.Get(ctx, "sync:u1:todo:c1")
	require.NoError(t, err)
	assert.True(t, entry.Stale)
	other, err := repo.Get(ctx, "sync:u2:todo:all")
	require.NoError(t, err)
	assert.False(t, other.Stale)

	require.NoError(t, repo.Put(ctx, models.CacheEntry{Key: "sync:u1:todo:c1", Payload: json.RawMessage(`[1]`)}))
	replaced, err := repo.Get(ctx, "sync:u1:todo:c1")
	require.NoError(t, err)
	assert.False(t, replaced.Stale, "put replaces the whole entry")

	require.NoError(t, repo.DeleteByPattern(ctx, "sync:u1:*"))
	assert.Equal(t, 1, repo.Len())
}

func TestMemoryCacheRepositoryReturnsCopies(t *testing.T) {
	repo := NewMemoryCacheRepository()
	ctx := context.Background()
	require.NoError(t, repo.Put(ctx, models.CacheEntry{Key: "k"}))

	entry, err := repo.Get(ctx, "k")
	require.NoError(t, err)
	entry.Stale = true

	fresh, err := repo.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, fresh.Stale)
}

func TestCacheRepositoryWithoutClient(t *testing.T) {
	repo := NewCacheRepository(nil, zap.NewNop())
	ctx := context.Background()

	_, err := repo.Get(ctx, "k")
	assert.ErrorIs(t, err, appErrors.ErrCacheMiss)
	assert.NoError(t, repo.Put(ctx, models.CacheEntry{Key: "k"}))
	marked, err := repo.MarkStale(ctx, "*")
	assert.NoError(t, err)
	assert.Zero(t, marked)
	assert.NoError(t, repo.DeleteByPattern(ctx, "*"))
	assert.NoError(t, repo.Close())
}

func TestCacheRepositorySurfacesConnectionErrors(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	repo := NewCacheRepository(client, zap.NewNop())
	defer repo.Close()

	_, err := repo.Get(context.Background(), "k")

	require.Error(t, err)
	assert.NotErrorIs(t, err, appErrors.ErrCacheMiss)
}
