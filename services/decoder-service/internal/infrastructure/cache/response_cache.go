package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/safe-global/safe-decoder-service/services/decoder-service/internal/abihash"
	"github.com/safe-global/safe-decoder-service/shared/redis"
)

// ResponseCache caches serialized endpoint responses in a Redis hash per
// contract address. The coarse key / fine field design lets every query
// variant for an address share one invalidation.
type ResponseCache struct {
	redisDb *redis.Redis
	ttl     time.Duration
}

// NewResponseCache creates a response cache with the given TTL
func NewResponseCache(redisDb *redis.Redis, ttl time.Duration) *ResponseCache {
	return &ResponseCache{redisDb: redisDb, ttl: ttl}
}

// ContractKey builds the Redis hash key for a contract address
func ContractKey(address common.Address) string {
	return "contract:" + strings.ToLower(address.Hex())
}

// FieldKey hashes the request path plus its sorted query parameters into
// a hash field name.
func FieldKey(urlPath string, params map[string]string) string {
	payload := make(map[string]interface{}, len(params)+1)
	payload["url"] = urlPath
	for key, value := range params {
		payload[key] = value
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		// Marshaling a map of strings cannot fail; fall back to the path
		raw = []byte(urlPath)
	}
	canonical, err := abihash.Canonicalize(raw)
	if err != nil {
		canonical = raw
	}

	digest := md5.Sum(canonical)
	return hex.EncodeToString(digest[:])
}

// Get reads a cached response. Any cache error is reported as a miss;
// the cache is never authoritative.
func (c *ResponseCache) Get(ctx context.Context, address common.Address, field string) (string, bool) {
	value, err := c.redisDb.HGet(ctx, ContractKey(address), field)
	if err != nil {
		return "", false
	}
	return value, true
}

// Set stores a response. The TTL is set only when the key has none, so
// the expiration never slides.
func (c *ResponseCache) Set(ctx context.Context, address common.Address, field, value string) error {
	key := ContractKey(address)
	if err := c.redisDb.HSet(ctx, key, field, value); err != nil {
		return fmt.Errorf("failed to cache response: %w", err)
	}

	ttl, err := c.redisDb.TTL(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to read cache ttl: %w", err)
	}
	// go-redis reports "no expiration" as -1
	if ttl == -1 {
		return c.redisDb.Expire(ctx, key, c.ttl)
	}
	return nil
}

// Invalidate drops every cached response for the address
func (c *ResponseCache) Invalidate(ctx context.Context, address common.Address) error {
	return c.redisDb.Unlink(ctx, ContractKey(address))
}
