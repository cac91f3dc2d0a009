package inventory_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/inventory"
)

func TestBalanceCacheReadThroughAndInvalidate(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cache := inventory.NewBalanceCache(client, time.Minute, nil)
	f := newFixture(t, func(p *inventory.ServiceParams) { p.Cache = cache })
	ctx := context.Background()
	purchase(t, f.svc, "8", "2", "")

	const cacheKey = "stockledger:balance:1:10"
	balance, err := f.svc.Balance(ctx, product, warehouse)
	require.NoError(t, err)
	require.True(t, balance.OnHand.Equal(dec("8")))
	require.True(t, mr.Exists(cacheKey))
	ttl := mr.TTL(cacheKey)
	require.Greater(t, ttl, time.Duration(0))

	// a direct write is invisible until the entry goes
	f.store.PutBalance(inventory.Balance{ProductID: product, WarehouseID: warehouse, OnHand: dec("99"), UnitCost: dec("2")})
	balance, err = f.svc.Balance(ctx, product, warehouse)
	require.NoError(t, err)
	require.True(t, balance.OnHand.Equal(dec("8")))

	require.NoError(t, cache.Invalidate(ctx, unit))
	require.False(t, mr.Exists(cacheKey))
	balance, err = f.svc.Balance(ctx, product, warehouse)
	require.NoError(t, err)
	require.True(t, balance.OnHand.Equal(dec("99")))
}

func TestLedgerWritesInvalidateCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(t, func(p *inventory.ServiceParams) {
		p.Cache = inventory.NewBalanceCache(client, time.Minute, nil)
	})
	ctx := context.Background()
	purchase(t, f.svc, "8", "2", "")
	_, err := f.svc.Balance(ctx, product, warehouse)
	require.NoError(t, err)

	_, err = sale(f.svc, "3")
	require.NoError(t, err)
	balance, err := f.svc.Balance(ctx, product, warehouse)
	require.NoError(t, err)
	require.True(t, balance.OnHand.Equal(dec("5")))
}

func TestNilCacheLoadsDirectly(t *testing.T) {
	var cache *inventory.BalanceCache
	calls := 0
	got, err := cache.Fetch(context.Background(), unit, func(context.Context) (inventory.Balance, error) {
		calls++
		return inventory.Balance{ProductID: product, WarehouseID: warehouse, OnHand: dec("1")}, nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.True(t, got.OnHand.Equal(dec("1")))
	require.NoError(t, cache.Invalidate(context.Background(), unit))
}
