package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds the connection settings. URL is a standard
// redis:// connection string.
type RedisConfig struct {
	URL string
}

type Redis struct {
	conn *redis.Client
}

func NewRedis(cfg RedisConfig) (*Redis, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	conn := redis.NewClient(opts)

	return &Redis{conn: conn}, nil
}

// NewRedisWithClient wraps an existing client. Useful for testing with miniredis.
func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{conn: client}
}

func (r *Redis) HealthCheck(ctx context.Context) error {
	return r.conn.Ping(ctx).Err()
}

func (r *Redis) GetClient() *redis.Client {
	return r.conn
}

func (r *Redis) Close() error {
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

// Get retrieves a value by key. Returns redis.Nil error when the key is missing.
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	return r.conn.Get(ctx, key).Result()
}

// Set sets a key-value pair with expiration (0 means no expiration)
func (r *Redis) Set(ctx context.Context, key, value string, expiration time.Duration) error {
	return r.conn.Set(ctx, key, value, expiration).Err()
}

// Delete removes keys
func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	return r.conn.Del(ctx, keys...).Err()
}

// Unlink removes keys asynchronously on the server side
func (r *Redis) Unlink(ctx context.Context, keys ...string) error {
	return r.conn.Unlink(ctx, keys...).Err()
}

// Exists checks if keys exist
func (r *Redis) Exists(ctx context.Context, keys ...string) (int64, error) {
	return r.conn.Exists(ctx, keys...).Result()
}

// HGet reads a hash field. Returns redis.Nil error when key or field is missing.
func (r *Redis) HGet(ctx context.Context, key, field string) (string, error) {
	return r.conn.HGet(ctx, key, field).Result()
}

// HSet writes a hash field
func (r *Redis) HSet(ctx context.Context, key, field, value string) error {
	return r.conn.HSet(ctx, key, field, value).Err()
}

// TTL returns the remaining time to live of a key. -1 means the key has
// no expiration, -2 means the key does not exist.
func (r *Redis) TTL(ctx context.Context, key string) (time.Duration, error) {
	return r.conn.TTL(ctx, key).Result()
}

// Expire sets a timeout on a key
func (r *Redis) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return r.conn.Expire(ctx, key, expiration).Err()
}

// LPush pushes values onto the head of a list
func (r *Redis) LPush(ctx context.Context, key string, values ...interface{}) error {
	return r.conn.LPush(ctx, key, values...).Err()
}

// BRPop pops a value from the tail of a list, blocking up to timeout.
// Returns redis.Nil error on timeout.
func (r *Redis) BRPop(ctx context.Context, timeout time.Duration, keys ...string) ([]string, error) {
	return r.conn.BRPop(ctx, timeout, keys...).Result()
}

// LLen returns the length of a list
func (r *Redis) LLen(ctx context.Context, key string) (int64, error) {
	return r.conn.LLen(ctx, key).Result()
}

// IsNil reports whether the error means "key not found"
func IsNil(err error) bool {
	return err == redis.Nil
}
