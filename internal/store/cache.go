package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"titipanq-admin/internal/models"

	"go.uber.org/zap"
)

// KeyPrefix 包裹列表缓存的 key 前缀：titipanq:packages:<variant>
const KeyPrefix = "titipanq:packages:"

// ListCache 包裹列表缓存。取件成功后 Invalidate，所有依赖包裹列表的视图重新拉取。
type ListCache interface {
	Packages(ctx context.Context, variant string) ([]models.Package, error)
	PutPackages(ctx context.Context, variant string, pkgs []models.Package) error
	Invalidate(ctx context.Context) error
}

// PackageCache 基于 KV（Redis）的实现，value 是 JSON
type PackageCache struct {
	kv     KV
	ttl    time.Duration
	logger *zap.Logger
}

func NewPackageCache(kv KV, ttl time.Duration, logger *zap.Logger) *PackageCache {
	return &PackageCache{kv: kv, ttl: ttl, logger: logger}
}

func key(variant string) string {
	if variant == "" {
		variant = "all"
	}
	return KeyPrefix + variant
}

// Packages 未命中时返回 ErrMiss
func (c *PackageCache) Packages(ctx context.Context, variant string) ([]models.Package, error) {
	raw, err := c.kv.Get(ctx, key(variant))
	if err != nil {
		return nil, err
	}
	var pkgs []models.Package
	if err := json.Unmarshal([]byte(raw), &pkgs); err != nil {
		// 坏数据当作未命中
		c.logger.Warn("Discarding corrupt package cache entry", zap.String("key", key(variant)), zap.Error(err))
		return nil, ErrMiss
	}
	return pkgs, nil
}

func (c *PackageCache) PutPackages(ctx context.Context, variant string, pkgs []models.Package) error {
	b, err := json.Marshal(pkgs)
	if err != nil {
		return fmt.Errorf("failed to marshal packages: %w", err)
	}
	return c.kv.Set(ctx, key(variant), string(b), c.ttl)
}

// Invalidate 删除所有 titipanq:packages:* key
func (c *PackageCache) Invalidate(ctx context.Context) error {
	keys, err := c.kv.ScanKeys(ctx, KeyPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to scan package cache keys: %w", err)
	}
	if err := c.kv.Del(ctx, keys...); err != nil {
		return fmt.Errorf("failed to delete package cache keys: %w", err)
	}
	c.logger.Debug("Package cache invalidated", zap.Int("keys", len(keys)))
	return nil
}

// NoopCache Redis 未启用时使用：永远未命中
type NoopCache struct{}

func (NoopCache) Packages(ctx context.Context, variant string) ([]models.Package, error) {
	return nil, ErrMiss
}

func (NoopCache) PutPackages(ctx context.Context, variant string, pkgs []models.Package) error {
	return nil
}

func (NoopCache) Invalidate(ctx context.Context) error { return nil }

// LoadPackages 读缓存，未命中时调用 load 并回写。缓存故障不影响结果。
func LoadPackages(ctx context.Context, cache ListCache, variant string, load func(context.Context) ([]models.Package, error)) ([]models.Package, error) {
	pkgs, err := cache.Packages(ctx, variant)
	if err == nil {
		return pkgs, nil
	}
	pkgs, loadErr := load(ctx)
	if loadErr != nil {
		return nil, loadErr
	}
	if !errors.Is(err, ErrMiss) {
		return pkgs, nil
	}
	_ = cache.PutPackages(ctx, variant, pkgs)
	return pkgs, nil
}
