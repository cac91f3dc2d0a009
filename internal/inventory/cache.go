package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/stockledger/internal/observability"
)

const balanceCachePrefix = "stockledger:balance"

// BalanceCache keeps short-lived read-through copies of balances in Redis.
// Writers invalidate after commit. Ledger writes never read from it.
type BalanceCache struct {
	client  redis.UniversalClient
	ttl     time.Duration
	group   singleflight.Group
	metrics *observability.LedgerMetrics
}

// NewBalanceCache instantiates the cache helper.
func NewBalanceCache(client redis.UniversalClient, ttl time.Duration, metrics *observability.LedgerMetrics) *BalanceCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &BalanceCache{client: client, ttl: ttl, metrics: metrics}
}

func balanceCacheKey(key Key) string {
	return fmt.Sprintf("%s:%d:%d", balanceCachePrefix, key.ProductID, key.WarehouseID)
}

// Fetch returns the cached balance or loads it. Concurrent misses for the same
// key share one load.
func (c *BalanceCache) Fetch(ctx context.Context, key Key, loader func(context.Context) (Balance, error)) (Balance, error) {
	if loader == nil {
		return Balance{}, errors.New("inventory: cache loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	cacheKey := balanceCacheKey(key)
	payload, err := c.client.Get(ctx, cacheKey).Bytes()
	if err == nil {
		var balance Balance
		if err := json.Unmarshal(payload, &balance); err == nil {
			c.metrics.CacheResult(true)
			return balance, nil
		}
	} else if !errors.Is(err, redis.Nil) && ctx.Err() != nil {
		return Balance{}, ctx.Err()
	}
	c.metrics.CacheResult(false)

	resultChan := c.group.DoChan(cacheKey, func() (interface{}, error) {
		balance, err := loader(ctx)
		if err != nil {
			return Balance{}, err
		}
		if raw, err := json.Marshal(balance); err == nil {
			_ = c.client.Set(ctx, cacheKey, raw, c.ttl).Err()
		}
		return balance, nil
	})
	select {
	case <-ctx.Done():
		return Balance{}, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return Balance{}, res.Err
		}
		return res.Val.(Balance), nil
	}
}

// Invalidate drops cached balances for the keys.
func (c *BalanceCache) Invalidate(ctx context.Context, keys ...Key) error {
	if c == nil || c.client == nil || len(keys) == 0 {
		return nil
	}
	cacheKeys := make([]string, 0, len(keys))
	for _, key := range keys {
		cacheKeys = append(cacheKeys, balanceCacheKey(key))
		c.group.Forget(balanceCacheKey(key))
	}
	return c.client.Del(ctx, cacheKeys...).Err()
}
