package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig controls redis client behavior.
// Keep it config-driven; defaults should be safe and conservative.
type RedisConfig struct {
	Addr     string
	Password string

	// Basic timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Pool tuning
	PoolSize        int
	MinIdleConns    int
	PoolTimeout     time.Duration
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	PingTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 20
	}
	if out.MinIdleConns < 0 {
		out.MinIdleConns = 0
	}
	if out.PoolTimeout <= 0 {
		out.PoolTimeout = 4 * time.Second
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 5 * time.Minute
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 30 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// OpenRedis initializes a Redis client and validates connectivity via PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		PoolTimeout:     cfg.PoolTimeout,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

var leaseAcquireScript = redis.NewScript(`
-- KEYS[1] = lease key
-- ARGV[1] = owner
-- ARGV[2] = ttl_ms (int)
--
-- Returns {1, owner} if acquired, {0, current_holder} otherwise.
-- current_holder is '' if the key vanished between SET and GET.
if redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2]) then
  return {1, ARGV[1]}
end
local cur = redis.call('GET', KEYS[1])
if not cur then
  cur = ''
end
return {0, cur}
`)

var leaseReleaseScript = redis.NewScript(`
-- KEYS[1] = lease key
-- ARGV[1] = owner
-- Deletes only if the key is still held by owner.
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

var leaseExtendScript = redis.NewScript(`
-- KEYS[1] = lease key
-- ARGV[1] = owner
-- ARGV[2] = ttl_ms (int)
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// AcquireLease attempts to take an exclusive, TTL-bounded lease on key for owner.
// It is intended for single-holder invariants (e.g., one active call per location).
//
// Safety properties:
// - Atomic acquire using Lua.
// - TTL prevents leaked leases on process crash.
// - When rejected, the current holder is returned so callers can detect stale leases.
func AcquireLease(ctx context.Context, rdb *redis.Client, key, owner string, ttl time.Duration) (bool, string, error) {
	if rdb == nil {
		return false, "", fmt.Errorf("redis client is nil")
	}
	if key == "" || owner == "" {
		return false, "", fmt.Errorf("key and owner are required")
	}
	if ttl <= 0 {
		return false, "", fmt.Errorf("ttl must be > 0")
	}

	res, err := leaseAcquireScript.Run(ctx, rdb, []string{key}, owner, ttl.Milliseconds()).Slice()
	if err != nil {
		return false, "", err
	}
	if len(res) != 2 {
		return false, "", fmt.Errorf("unexpected lease reply length %d", len(res))
	}
	acquired, _ := res[0].(int64)
	holder, _ := res[1].(string)
	return acquired == 1, holder, nil
}

// ReleaseLease releases key only if owner still holds it.
func ReleaseLease(ctx context.Context, rdb *redis.Client, key, owner string) (bool, error) {
	if rdb == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	if key == "" || owner == "" {
		return false, fmt.Errorf("key and owner are required")
	}
	n, err := leaseReleaseScript.Run(ctx, rdb, []string{key}, owner).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ExtendLease resets the TTL of key only if owner still holds it.
func ExtendLease(ctx context.Context, rdb *redis.Client, key, owner string, ttl time.Duration) (bool, error) {
	if rdb == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	if key == "" || owner == "" {
		return false, fmt.Errorf("key and owner are required")
	}
	if ttl <= 0 {
		return false, fmt.Errorf("ttl must be > 0")
	}
	n, err := leaseExtendScript.Run(ctx, rdb, []string{key}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
