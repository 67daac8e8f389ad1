package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// balanceCacheTTL bounds staleness of advisory balance reads.
const balanceCacheTTL = 30 * time.Second

// BalanceCache is an optional Redis-backed read cache for GetBalance.
// Cache failures are logged and swallowed; the database remains the
// source of truth.
type BalanceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewBalanceCache constructs a BalanceCache. Returns nil for a nil
// client so a cacheless Service wiring stays a one-liner.
func NewBalanceCache(rdb *redis.Client) *BalanceCache {
	if rdb == nil {
		return nil
	}
	return &BalanceCache{rdb: rdb, ttl: balanceCacheTTL}
}

func balanceKey(userID uint64) string {
	return fmt.Sprintf("billing:balance:%d", userID)
}

// Get returns the cached balance for a user, if present and parsable.
func (c *BalanceCache) Get(ctx context.Context, userID uint64) (Balance, bool) {
	if c == nil || c.rdb == nil {
		return Balance{}, false
	}
	raw, errGet := c.rdb.Get(ctx, balanceKey(userID)).Bytes()
	if errGet != nil {
		return Balance{}, false
	}
	var balance Balance
	if errUnmarshal := json.Unmarshal(raw, &balance); errUnmarshal != nil {
		return Balance{}, false
	}
	return balance, true
}

// Set stores a balance snapshot with the cache TTL.
func (c *BalanceCache) Set(ctx context.Context, userID uint64, balance Balance) {
	if c == nil || c.rdb == nil {
		return
	}
	payload, errMarshal := json.Marshal(balance)
	if errMarshal != nil {
		return
	}
	if errSet := c.rdb.Set(ctx, balanceKey(userID), payload, c.ttl).Err(); errSet != nil {
		log.WithError(errSet).Debug("ledger: balance cache set failed")
	}
}

// Invalidate drops the cached balance after a mutation.
func (c *BalanceCache) Invalidate(ctx context.Context, userID uint64) {
	if c == nil || c.rdb == nil {
		return
	}
	if errDel := c.rdb.Del(ctx, balanceKey(userID)).Err(); errDel != nil {
		log.WithError(errDel).Debug("ledger: balance cache invalidate failed")
	}
}
