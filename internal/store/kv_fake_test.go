package store

import (
	"context"
	"errors"
	"path"
	"sync"
	"testing"
	"time"

	"titipanq-admin/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeKV 仅用于单元测试（内存 KV + TTL）
type fakeKV struct {
	mu      sync.Mutex
	data    map[string]fakeKVItem
	scanErr error
}

type fakeKVItem struct {
	value   string
	expires time.Time // zero = no ttl
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string]fakeKVItem)}
}

func (f *fakeKV) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	item, ok := f.data[key]
	if !ok {
		return "", ErrMiss
	}
	if !item.expires.IsZero() && time.Now().After(item.expires) {
		delete(f.data, key)
		return "", ErrMiss
	}
	return item.value, nil
}

func (f *fakeKV) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	f.data[key] = fakeKVItem{value: value, expires: exp}
	return nil
}

func (f *fakeKV) Del(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func (f *fakeKV) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	var keys []string
	for k := range f.data {
		if ok, _ := path.Match(pattern, k); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func TestPackageCache_FakeKV(t *testing.T) {
	kv := newFakeKV()
	cache := NewPackageCache(kv, 0, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, cache.PutPackages(ctx, "all", []models.Package{{ID: "pkg_1"}}))
	got, err := cache.Packages(ctx, "all")
	require.NoError(t, err)
	assert.Equal(t, "pkg_1", got[0].ID)

	kv.scanErr = errors.New("connection reset")
	err = cache.Invalidate(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}
