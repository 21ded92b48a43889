package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheVersionKey = "ledger:version"

// Cache is a versioned, time-bounded read cache for reporting queries. Every
// committed transaction bumps the version, which retires all prior keys at
// once. Write-path reads never consult it.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache wraps a redis client. A nil client degrades to pass-through.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising it when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// BuildKey composes a cache key qualified by the current version.
func (c *Cache) BuildKey(ctx context.Context, parts ...string) (string, error) {
	joined := strings.Join(parts, ":")
	if c == nil || c.client == nil {
		return joined, nil
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", joined, ver), nil
}

// FetchJSON loads a cached value or populates it from the loader.
func (c *Cache) FetchJSON(ctx context.Context, key string, dest interface{}, loader func(context.Context) (interface{}, error)) error {
	if loader == nil {
		return errors.New("ledger: cache loader required")
	}
	if c == nil || c.client == nil {
		value, err := loader(ctx)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, dest)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		return json.Unmarshal(payload, dest)
	}
	if err != redis.Nil {
		return err
	}
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

// Bump invalidates every cached report by advancing the version.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}

// CachedReader serves reporting reads through the cache, falling back to the
// coordinator's store on miss. It must never be used for write-path decisions.
type CachedReader struct {
	service *Service
	cache   *Cache
}

// NewCachedReader builds a reporting reader over the coordinator.
func NewCachedReader(service *Service, cache *Cache) *CachedReader {
	return &CachedReader{service: service, cache: cache}
}

// ItemBalance returns a possibly cached balance for reporting.
func (r *CachedReader) ItemBalance(ctx context.Context, itemID string) (BalanceSnapshot, error) {
	key, err := r.cache.BuildKey(ctx, "ledger", "balance", itemID)
	if err != nil {
		return r.service.GetItemBalance(ctx, itemID)
	}
	var snap BalanceSnapshot
	err = r.cache.FetchJSON(ctx, key, &snap, func(ctx context.Context) (interface{}, error) {
		return r.service.GetItemBalance(ctx, itemID)
	})
	if err != nil {
		return BalanceSnapshot{}, err
	}
	return snap, nil
}

// ItemLedger returns a possibly cached exportable ledger for reporting.
func (r *CachedReader) ItemLedger(ctx context.Context, itemID string, from, to time.Time) (ItemLedger, error) {
	key, err := r.cache.BuildKey(ctx, "ledger", "entries", itemID,
		from.Format(time.RFC3339), to.Format(time.RFC3339))
	if err != nil {
		return r.service.GetItemLedger(ctx, itemID, from, to)
	}
	var out ItemLedger
	err = r.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (interface{}, error) {
		return r.service.GetItemLedger(ctx, itemID, from, to)
	})
	if err != nil {
		return ItemLedger{}, err
	}
	return out, nil
}
