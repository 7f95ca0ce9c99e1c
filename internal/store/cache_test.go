package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"titipanq-admin/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRedisCache(t *testing.T) (*PackageCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewPackageCache(NewRedisKV(rdb), time.Minute, zap.NewNop()), mr
}

func TestPackageCache_RoundTripAndTTL(t *testing.T) {
	cache, mr := newRedisCache(t)
	ctx := context.Background()

	_, err := cache.Packages(ctx, "all")
	assert.ErrorIs(t, err, ErrMiss)

	pkgs := []models.Package{{ID: "pkg_1", Description: "Invoice Q1", Status: models.StatusReceived}}
	require.NoError(t, cache.PutPackages(ctx, "", pkgs))
	assert.True(t, mr.Exists("titipanq:packages:all"))

	got, err := cache.Packages(ctx, "all")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Invoice Q1", got[0].Description)

	mr.FastForward(2 * time.Minute)
	_, err = cache.Packages(ctx, "all")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestPackageCache_Invalidate(t *testing.T) {
	cache, mr := newRedisCache(t)
	ctx := context.Background()

	require.NoError(t, cache.PutPackages(ctx, "all", nil))
	require.NoError(t, cache.PutPackages(ctx, "page:1", nil))
	require.NoError(t, mr.Set("other:key", "keep"))

	require.NoError(t, cache.Invalidate(ctx))
	assert.False(t, mr.Exists("titipanq:packages:all"))
	assert.False(t, mr.Exists("titipanq:packages:page:1"))
	assert.True(t, mr.Exists("other:key"))

	// 空缓存上再次 invalidate 不报错
	require.NoError(t, cache.Invalidate(ctx))
}

func TestPackageCache_CorruptEntryIsMiss(t *testing.T) {
	cache, mr := newRedisCache(t)
	require.NoError(t, mr.Set("titipanq:packages:all", "{not json"))
	_, err := cache.Packages(context.Background(), "all")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestLoadPackages(t *testing.T) {
	cache, _ := newRedisCache(t)
	ctx := context.Background()

	calls := 0
	load := func(ctx context.Context) ([]models.Package, error) {
		calls++
		return []models.Package{{ID: "pkg_1"}}, nil
	}

	for i := 0; i < 3; i++ {
		got, err := LoadPackages(ctx, cache, "all", load)
		require.NoError(t, err)
		assert.Len(t, got, 1)
	}
	assert.Equal(t, 1, calls)

	require.NoError(t, cache.Invalidate(ctx))
	_, err := LoadPackages(ctx, cache, "all", load)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	_, err = LoadPackages(ctx, NoopCache{}, "all", func(context.Context) ([]models.Package, error) {
		return nil, errors.New("registry down")
	})
	assert.EqualError(t, err, "registry down")
}
