package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"stolik/internal/domain"
	"stolik/internal/metrics"
	"stolik/internal/models"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Cache stores directory answers as JSON.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// RedisCache shares cached answers between instances.
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, prefix: "directory:"}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	return val, true
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	_ = c.client.Set(ctx, c.prefix+key, value, ttl).Err()
}

// MemoryCache keeps answers in process.
type MemoryCache struct {
	store *gocache.Cache
}

func NewMemoryCache(defaultTTL time.Duration) *MemoryCache {
	return &MemoryCache{store: gocache.New(defaultTTL, 2*defaultTTL)}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	val, ok := c.store.Get(key)
	if !ok {
		return nil, false
	}
	data, ok := val.([]byte)
	return data, ok
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	c.store.Set(key, value, ttl)
}

// Cached memoizes successful directory answers for ttl. Failures are never cached.
type Cached struct {
	next   domain.Directory
	cache  Cache
	ttl    time.Duration
	logger *zerolog.Logger
}

func NewCached(next domain.Directory, cache Cache, ttl time.Duration, logger *zerolog.Logger) *Cached {
	return &Cached{next: next, cache: cache, ttl: ttl, logger: logger}
}

func (c *Cached) GetProfile(ctx context.Context, restaurantID int64) (*models.RestaurantProfile, error) {
	key := fmt.Sprintf("profile:%d", restaurantID)
	var profile models.RestaurantProfile
	if c.read(ctx, key, &profile) {
		return &profile, nil
	}

	fresh, err := c.next.GetProfile(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	c.write(ctx, key, fresh)
	return fresh, nil
}

func (c *Cached) GetTables(ctx context.Context, restaurantID int64) ([]models.Table, error) {
	key := fmt.Sprintf("tables:%d", restaurantID)
	var tables []models.Table
	if c.read(ctx, key, &tables) {
		return tables, nil
	}

	fresh, err := c.next.GetTables(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	c.write(ctx, key, fresh)
	return fresh, nil
}

func (c *Cached) read(ctx context.Context, key string, out any) bool {
	if c.ttl <= 0 {
		return false
	}
	data, ok := c.cache.Get(ctx, key)
	if ok {
		if err := json.Unmarshal(data, out); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("Dropping undecodable directory cache entry")
			ok = false
		}
	}
	metrics.IncDirectoryCache(ok)
	return ok
}

func (c *Cached) write(ctx context.Context, key string, val any) {
	if c.ttl <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	c.cache.Set(ctx, key, data, c.ttl)
}
