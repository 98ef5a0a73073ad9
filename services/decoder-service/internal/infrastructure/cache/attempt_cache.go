package cache

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/safe-global/safe-decoder-service/shared/redis"
)

// AttemptCache is the negative cache gating provider calls. A stored
// "0" means the download should not be attempted again for the given
// retry budget. Entries carry no TTL; they are cleared externally when
// the retry budget changes.
type AttemptCache struct {
	redisDb *redis.Redis
}

// NewAttemptCache creates a negative-attempt cache
func NewAttemptCache(redisDb *redis.Redis) *AttemptCache {
	return &AttemptCache{redisDb: redisDb}
}

func attemptKey(address common.Address, chainID int64, maxRetries int) string {
	return fmt.Sprintf("should_attempt_download:%s:%d:%d", address.Hex(), chainID, maxRetries)
}

// ShouldAttempt reports whether a download may be attempted. Cache
// errors allow the attempt; the store is consulted afterwards anyway.
func (c *AttemptCache) ShouldAttempt(ctx context.Context, address common.Address, chainID int64, maxRetries int) bool {
	value, err := c.redisDb.Get(ctx, attemptKey(address, chainID, maxRetries))
	if err != nil {
		return true
	}
	return value != "0"
}

// MarkShouldNotAttempt records that downloads are exhausted for the
// address, chain and retry budget.
func (c *AttemptCache) MarkShouldNotAttempt(ctx context.Context, address common.Address, chainID int64, maxRetries int) error {
	return c.redisDb.Set(ctx, attemptKey(address, chainID, maxRetries), "0", 0)
}
