package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/portfolio-engine/internal/cache"
	"github.com/kiranshivaraju/portfolio-engine/internal/store"
	"github.com/kiranshivaraju/portfolio-engine/pkg/models"
)

// AssetStore is the durable record of resolved assets.
type AssetStore interface {
	GetResolvedAsset(ctx context.Context, key string) (*models.ResolvedAsset, error)
	UpsertResolvedAsset(ctx context.Context, asset *models.ResolvedAsset) error
}

// TieredCache checks Redis first and falls back to Postgres, warming Redis
// on a durable hit. Either tier may be nil.
type TieredCache struct {
	fast    cache.Cache
	durable AssetStore
	ttl     time.Duration
}

// NewTieredCache returns a TieredCache whose Redis entries expire after ttl.
func NewTieredCache(fast cache.Cache, durable AssetStore, ttl time.Duration) *TieredCache {
	return &TieredCache{fast: fast, durable: durable, ttl: ttl}
}

// Lookup returns the persisted asset for key.
func (c *TieredCache) Lookup(ctx context.Context, key string) (models.ResolvedAsset, bool, error) {
	if c.fast != nil {
		raw, ok, err := c.fast.Get(ctx, cache.ResolvedAssetKey(key))
		if err != nil {
			slog.Warn("resolved asset redis lookup failed", "key", key, "error", err)
		} else if ok {
			var asset models.ResolvedAsset
			if err := json.Unmarshal(raw, &asset); err == nil {
				return asset, true, nil
			}
		}
	}

	if c.durable == nil {
		return models.ResolvedAsset{}, false, nil
	}
	asset, err := c.durable.GetResolvedAsset(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return models.ResolvedAsset{}, false, nil
	}
	if err != nil {
		return models.ResolvedAsset{}, false, fmt.Errorf("lookup resolved asset: %w", err)
	}
	c.warm(ctx, *asset)
	return *asset, true, nil
}

// Save persists asset durably, then in Redis.
func (c *TieredCache) Save(ctx context.Context, asset models.ResolvedAsset) error {
	if c.durable != nil {
		if err := c.durable.UpsertResolvedAsset(ctx, &asset); err != nil {
			return fmt.Errorf("save resolved asset: %w", err)
		}
	}
	c.warm(ctx, asset)
	return nil
}

func (c *TieredCache) warm(ctx context.Context, asset models.ResolvedAsset) {
	if c.fast == nil {
		return
	}
	raw, err := json.Marshal(asset)
	if err != nil {
		return
	}
	if err := c.fast.Set(ctx, cache.ResolvedAssetKey(asset.Key), raw, c.ttl); err != nil {
		slog.Warn("resolved asset redis write failed", "key", asset.Key, "error", err)
	}
}
