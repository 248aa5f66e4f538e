package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"reorder-api/pkg/logging"
	"reorder-api/pkg/models"
)

// DefaultAvailabilityTTL is how long a successful availability answer is reused.
const DefaultAvailabilityTTL = 10 * time.Minute

// AvailabilityCache stores availability answers per item.
type AvailabilityCache interface {
	Get(ctx context.Context, itemID string) (models.Availability, bool, error)
	Set(ctx context.Context, itemID string, a models.Availability, ttl time.Duration) error
}

// RedisAvailabilityCache keeps availability in Redis as JSON under a key prefix.
type RedisAvailabilityCache struct {
	client *redis.Client
	prefix string
}

// RedisCacheConfig configures the Redis connection.
type RedisCacheConfig struct {
	Addr        string
	Password    string
	DB          int
	Prefix      string
	DialTimeout time.Duration
}

// NewRedisAvailabilityCache connects to Redis and verifies the connection.
func NewRedisAvailabilityCache(ctx context.Context, cfg RedisCacheConfig) (*RedisAvailabilityCache, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.Info().Str("addr", cfg.Addr).Msg("connected to Redis for availability cache")
	return NewRedisAvailabilityCacheFromClient(rdb, cfg.Prefix), nil
}

// NewRedisAvailabilityCacheFromClient wraps an existing client.
func NewRedisAvailabilityCacheFromClient(client *redis.Client, prefix string) *RedisAvailabilityCache {
	if prefix == "" {
		prefix = "reorder:availability:"
	}
	return &RedisAvailabilityCache{client: client, prefix: prefix}
}

func (c *RedisAvailabilityCache) key(itemID string) string {
	return c.prefix + itemID
}

// Get returns the cached availability; found is false on a miss.
func (c *RedisAvailabilityCache) Get(ctx context.Context, itemID string) (models.Availability, bool, error) {
	raw, err := c.client.Get(ctx, c.key(itemID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Availability{}, false, nil
	}
	if err != nil {
		return models.Availability{}, false, fmt.Errorf("redis get %s: %w", itemID, err)
	}
	var a models.Availability
	if err := json.Unmarshal(raw, &a); err != nil {
		return models.Availability{}, false, fmt.Errorf("corrupt cache entry for %s: %w", itemID, err)
	}
	return a, true, nil
}

// Set stores availability with an expiry.
func (c *RedisAvailabilityCache) Set(ctx context.Context, itemID string, a models.Availability, ttl time.Duration) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.key(itemID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", itemID, err)
	}
	return nil
}

// Close closes the Redis client.
func (c *RedisAvailabilityCache) Close() error {
	return c.client.Close()
}

type memoryEntry struct {
	availability models.Availability
	expires      time.Time
}

// MemoryAvailabilityCache is an in-process TTL map, used when Redis is not configured.
type MemoryAvailabilityCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryAvailabilityCache creates an empty cache.
func NewMemoryAvailabilityCache() *MemoryAvailabilityCache {
	return &MemoryAvailabilityCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get returns a live entry.
func (c *MemoryAvailabilityCache) Get(_ context.Context, itemID string) (models.Availability, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[itemID]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expires) {
		return models.Availability{}, false, nil
	}
	return e.availability, true, nil
}

// Set stores an entry and drops expired ones.
func (c *MemoryAvailabilityCache) Set(_ context.Context, itemID string, a models.Availability, ttl time.Duration) error {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, id)
		}
	}
	c.entries[itemID] = memoryEntry{availability: a, expires: now.Add(ttl)}
	return nil
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryAvailabilityCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// CachedAvailabilityLookup serves lookups from a cache and fills it from next.
// Only successful lookups are cached; cache errors fall through to next.
type CachedAvailabilityLookup struct {
	next  AvailabilityLookup
	cache AvailabilityCache
	ttl   time.Duration
}

// NewCachedAvailabilityLookup decorates next with cache.
func NewCachedAvailabilityLookup(next AvailabilityLookup, cache AvailabilityCache, ttl time.Duration) *CachedAvailabilityLookup {
	if ttl <= 0 {
		ttl = DefaultAvailabilityTTL
	}
	return &CachedAvailabilityLookup{next: next, cache: cache, ttl: ttl}
}

// LookupAvailability implements AvailabilityLookup.
func (l *CachedAvailabilityLookup) LookupAvailability(ctx context.Context, itemID string) (models.Availability, error) {
	a, found, err := l.cache.Get(ctx, itemID)
	if err != nil {
		logging.Warn().Err(err).Str("item_id", itemID).Msg("availability cache read failed")
	} else if found {
		return a, nil
	}

	a, err = l.next.LookupAvailability(ctx, itemID)
	if err != nil {
		return models.Availability{}, err
	}

	if err := l.cache.Set(ctx, itemID, a, l.ttl); err != nil {
		logging.Warn().Err(err).Str("item_id", itemID).Msg("availability cache write failed")
	}
	return a, nil
}
