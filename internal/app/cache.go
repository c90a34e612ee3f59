package app

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// cachePrefix is the key prefix for cached apps in Valkey.
	cachePrefix = "app"

	// DefaultCacheTTL bounds staleness after an out-of-band database change. Insert and Delete invalidate eagerly.
	DefaultCacheTTL = 30 * time.Second
)

func idCacheKey(id int64) string    { return cachePrefix + ":id:" + strconv.FormatInt(id, 10) }
func keyCacheKey(key string) string { return cachePrefix + ":key:" + key }

// CachedRepository is a read-through Valkey cache in front of another Repository. Connect and subscribe both resolve
// the app on every message, so lookups are on the hot path of the gateway.
type CachedRepository struct {
	inner Repository
	rdb   *redis.Client
	ttl   time.Duration
	log   zerolog.Logger
}

// NewCachedRepository wraps repo with a Valkey-backed lookup cache.
func NewCachedRepository(repo Repository, rdb *redis.Client, ttl time.Duration, logger zerolog.Logger) *CachedRepository {
	return &CachedRepository{inner: repo, rdb: rdb, ttl: ttl, log: logger}
}

// FindByID returns the cached app or falls through to the inner repository. Cache failures degrade to direct reads.
func (c *CachedRepository) FindByID(ctx context.Context, id int64) (*App, error) {
	if a, ok := c.get(ctx, idCacheKey(id)); ok {
		return a, nil
	}
	a, err := c.inner.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.put(ctx, a)
	return a, nil
}

// FindByKey returns the cached app or falls through to the inner repository.
func (c *CachedRepository) FindByKey(ctx context.Context, key string) (*App, error) {
	if a, ok := c.get(ctx, keyCacheKey(key)); ok {
		return a, nil
	}
	a, err := c.inner.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	c.put(ctx, a)
	return a, nil
}

// List is not cached; it serves the low-traffic admin API only.
func (c *CachedRepository) List(ctx context.Context) ([]App, error) {
	return c.inner.List(ctx)
}

// Insert creates the app and primes the cache.
func (c *CachedRepository) Insert(ctx context.Context, name string) (*App, error) {
	a, err := c.inner.Insert(ctx, name)
	if err != nil {
		return nil, err
	}
	c.put(ctx, a)
	return a, nil
}

// Delete removes the app and evicts both cache entries.
func (c *CachedRepository) Delete(ctx context.Context, id int64) error {
	a, err := c.inner.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := c.inner.Delete(ctx, id); err != nil {
		return err
	}
	if err := c.rdb.Del(ctx, idCacheKey(a.ID), keyCacheKey(a.Key)).Err(); err != nil {
		c.log.Warn().Err(err).Int64("app_id", id).Msg("Failed to evict app cache entries")
	}
	return nil
}

func (c *CachedRepository) get(ctx context.Context, key string) (*App, bool) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn().Err(err).Str("cache_key", key).Msg("App cache read failed")
		}
		return nil, false
	}
	var a App
	if err := json.Unmarshal(raw, &a); err != nil {
		c.log.Warn().Err(err).Str("cache_key", key).Msg("Corrupt app cache entry")
		return nil, false
	}
	return &a, true
}

func (c *CachedRepository) put(ctx context.Context, a *App) {
	raw, err := json.Marshal(a)
	if err != nil {
		c.log.Warn().Err(err).Int64("app_id", a.ID).Msg("Failed to marshal app for cache")
		return
	}
	pipe := c.rdb.Pipeline()
	pipe.Set(ctx, idCacheKey(a.ID), raw, c.ttl)
	pipe.Set(ctx, keyCacheKey(a.Key), raw, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn().Err(err).Int64("app_id", a.ID).Msg("Failed to write app cache entries")
	}
}

var _ Repository = (*CachedRepository)(nil)
