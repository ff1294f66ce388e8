// Package rediscache provides an optional shared cache for delta anchors, so
// multiple standard-profile relay instances sharing one Postgres store avoid
// repeating a full anchor lookup on every sync tick. It follows the
// redis/go-redis/v9 client wiring used in
// internal/infrastructure/cache (connect-with-ping, structured logging,
// sentinel errors) but narrows the surface to the one thing an anchor
// cache needs: get/set by filter key with a TTL.
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mscatalog/catalogrelay/internal/catalog/store"
)

// ErrNotFound indicates the cache has no entry for a given anchor filter.
var ErrNotFound = errors.New("rediscache: not found")

// Config carries the pool-sizing and retry parameters the standard profile
// feeds in from internal/config.RedisConfig.
type Config struct {
	Addr            string
	Password        string
	DB              int
	PoolSize        int
	MinIdleConns    int
	DialTimeout     time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxRetries      int
	MinRetryBackoff time.Duration
	MaxRetryBackoff time.Duration
	TTL             time.Duration
}

// AnchorCache is a shared Redis cache of anchors keyed by filter. On its own
// it only talks to Redis (a miss returns ErrNotFound); CachedStore puts it in
// front of a MetadataStore, falling through to the store on a miss and
// writing both on commit.
type AnchorCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// New connects to Redis and verifies the connection with a ping.
func New(cfg Config, logger *slog.Logger) (*AnchorCache, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: cfg.MinRetryBackoff,
		MaxRetryBackoff: cfg.MaxRetryBackoff,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("rediscache: connect: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	logger.Info("connected to redis anchor cache", "addr", cfg.Addr, "db", cfg.DB)
	return &AnchorCache{client: client, ttl: ttl, logger: logger}, nil
}

func cacheKey(filter store.AnchorFilter) string {
	return fmt.Sprintf("catalogrelay:anchor:%s:%s", filter.Kind, filter.Hash)
}

// Get returns the cached anchor for filter, ErrNotFound on a miss.
func (c *AnchorCache) Get(ctx context.Context, filter store.AnchorFilter) (string, error) {
	val, err := c.client.Get(ctx, cacheKey(filter)).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("rediscache: get: %w", err)
	}
	return val, nil
}

// Set caches anchor for filter with the configured TTL.
func (c *AnchorCache) Set(ctx context.Context, filter store.AnchorFilter, anchor string) error {
	if err := c.client.Set(ctx, cacheKey(filter), anchor, c.ttl).Err(); err != nil {
		return fmt.Errorf("rediscache: set: %w", err)
	}
	return nil
}

// Invalidate drops the cached entry for filter, forcing the next read to
// fall through to the metadata store.
func (c *AnchorCache) Invalidate(ctx context.Context, filter store.AnchorFilter) error {
	if err := c.client.Del(ctx, cacheKey(filter)).Err(); err != nil {
		return fmt.Errorf("rediscache: invalidate: %w", err)
	}
	return nil
}

// Health pings the Redis connection.
func (c *AnchorCache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (c *AnchorCache) Close() error {
	return c.client.Close()
}

// CachedStore wraps a store.MetadataStore and serves GetAnchor/CommitAnchor
// through the shared Redis cache first, falling through to the underlying
// store on a miss. Every other method delegates unchanged. Used only in the
// standard profile, where more than one relay instance may share one
// Postgres store and would otherwise each poll it for the same anchor.
type CachedStore struct {
	store.MetadataStore
	cache  *AnchorCache
	logger *slog.Logger
}

// NewCachedStore wraps base with cache for anchor lookups.
func NewCachedStore(base store.MetadataStore, cache *AnchorCache) *CachedStore {
	return &CachedStore{MetadataStore: base, cache: cache, logger: cache.logger}
}

func (c *CachedStore) GetAnchor(ctx context.Context, filter store.AnchorFilter) (string, bool, error) {
	anchor, err := c.cache.Get(ctx, filter)
	if err == nil {
		return anchor, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		c.logger.Warn("anchor cache read failed, falling through to store", "error", err)
	}

	anchor, ok, err := c.MetadataStore.GetAnchor(ctx, filter)
	if err != nil || !ok {
		return anchor, ok, err
	}
	if cacheErr := c.cache.Set(ctx, filter, anchor); cacheErr != nil {
		c.logger.Warn("anchor cache write failed", "error", cacheErr)
	}
	return anchor, ok, nil
}

func (c *CachedStore) CommitAnchor(ctx context.Context, filter store.AnchorFilter, anchor string) error {
	if err := c.MetadataStore.CommitAnchor(ctx, filter, anchor); err != nil {
		return err
	}
	if err := c.cache.Set(ctx, filter, anchor); err != nil {
		c.logger.Warn("anchor cache write failed after commit", "error", err)
	}
	return nil
}

func (c *CachedStore) Close() error {
	cacheErr := c.cache.Close()
	storeErr := c.MetadataStore.Close()
	if storeErr != nil {
		return storeErr
	}
	return cacheErr
}
