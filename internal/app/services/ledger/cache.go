package ledger

import (
	"context"
	"math/big"
	"time"

	"github.com/go-redis/redis/v8"
)

// balanceKeyPrefix namespaces cached balances in a shared redis instance.
const balanceKeyPrefix = "funding:balance:"

// BalanceCache is a read-through cache for token balances backed by redis.
// All methods are safe on a nil receiver, which disables caching.
type BalanceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewBalanceCache wraps a redis client. A non-positive ttl defaults to one
// minute.
func NewBalanceCache(client *redis.Client, ttl time.Duration) *BalanceCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &BalanceCache{client: client, ttl: ttl}
}

// Get returns the cached balance for address and whether it was present.
func (c *BalanceCache) Get(ctx context.Context, address string) (*big.Int, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	val, err := c.client.Get(ctx, balanceKeyPrefix+address).Result()
	if err != nil {
		return nil, false
	}
	b, ok := new(big.Int).SetString(val, 10)
	if !ok {
		return nil, false
	}
	return b, true
}

// Set stores the balance for address with the configured ttl. Failures are
// ignored; the store remains the source of truth.
func (c *BalanceCache) Set(ctx context.Context, address string, balance *big.Int) {
	if c == nil || c.client == nil || balance == nil {
		return
	}
	c.client.Set(ctx, balanceKeyPrefix+address, balance.String(), c.ttl)
}

// Invalidate drops cached balances for the given addresses after a write.
func (c *BalanceCache) Invalidate(ctx context.Context, addresses ...string) error {
	if c == nil || c.client == nil || len(addresses) == 0 {
		return nil
	}
	keys := make([]string, len(addresses))
	for i, addr := range addresses {
		keys[i] = balanceKeyPrefix + addr
	}
	return c.client.Del(ctx, keys...).Err()
}
