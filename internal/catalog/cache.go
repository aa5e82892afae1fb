package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"restaurant-system/internal/logger"
	"restaurant-system/internal/models"
)

// Source is the catalog the cache reads through to
type Source interface {
	GetDish(ctx context.Context, restaurantID, dishID string) (models.Dish, bool, error)
}

type cachedDish struct {
	Found bool         `json:"found"`
	Dish  *models.Dish `json:"dish,omitempty"`
}

// CachedCatalog is a cache-aside layer over a Source. Misses are cached too so
// unknown dish ids do not hit the database on every checkout. Concurrent misses
// for the same dish share one source lookup.
type CachedCatalog struct {
	source Source
	client redis.Cmdable
	ttl    time.Duration
	group  singleflight.Group
	logger *logger.Logger

	lookupTimeout time.Duration
}

// NewCachedCatalog wraps source with a Redis cache
func NewCachedCatalog(source Source, client redis.Cmdable, ttl time.Duration, log *logger.Logger) *CachedCatalog {
	return &CachedCatalog{source: source, client: client, ttl: ttl, logger: log, lookupTimeout: 5 * time.Second}
}

func dishKey(restaurantID, dishID string) string {
	return fmt.Sprintf("dish:%s:%s", restaurantID, dishID)
}

// GetDish returns the cached dish or loads it from the source. Redis failures fall back to the source.
func (c *CachedCatalog) GetDish(ctx context.Context, restaurantID, dishID string) (models.Dish, bool, error) {
	key := dishKey(restaurantID, dishID)
	requestID := logger.RequestIDFromContext(ctx)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var entry cachedDish
		if jsonErr := json.Unmarshal(raw, &entry); jsonErr == nil {
			if !entry.Found || entry.Dish == nil {
				return models.Dish{}, false, nil
			}
			return *entry.Dish, true, nil
		}
		c.logger.Warn("catalog_cache_corrupt", "Discarding unreadable cache entry", requestID, map[string]interface{}{"key": key})
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("catalog_cache_unavailable", "Catalog cache read failed, using database", requestID,
			map[string]interface{}{"key": key, "error": err.Error()})
	}

	// the shared lookup outlives any single caller; each caller still stops at its own deadline
	ch := c.group.DoChan(key, func() (interface{}, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.lookupTimeout)
		defer cancel()

		dish, found, err := c.source.GetDish(lookupCtx, restaurantID, dishID)
		if err != nil {
			return nil, err
		}
		entry := cachedDish{Found: found}
		if found {
			entry.Dish = &dish
		}
		c.store(lookupCtx, key, entry)
		return entry, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return models.Dish{}, false, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return models.Dish{}, false, res.Err
	}

	entry := res.Val.(cachedDish)
	if !entry.Found {
		return models.Dish{}, false, nil
	}
	return *entry.Dish, true, nil
}

// Invalidate drops a cached dish after the catalog changes. Without it a changed
// dish is served from cache for up to the configured TTL.
func (c *CachedCatalog) Invalidate(ctx context.Context, restaurantID, dishID string) error {
	return c.client.Del(ctx, dishKey(restaurantID, dishID)).Err()
}

func (c *CachedCatalog) store(ctx context.Context, key string, entry cachedDish) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("catalog_cache_write_failed", "Failed to cache dish", logger.RequestIDFromContext(ctx),
			map[string]interface{}{"key": key, "error": err.Error()})
	}
}
