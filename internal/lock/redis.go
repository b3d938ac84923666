package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/slot-booking/internal/clock"
)

// RedisManager stores leases as Redis keys with a PX expiry, so every process
// pointed at the same Redis shares one lease table. Expiry is enforced by
// Redis itself; there is nothing to sweep.
type RedisManager struct {
	client *redis.Client
	clock  clock.Clock
}

func NewRedisManager(client *redis.Client, clk clock.Clock) *RedisManager {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &RedisManager{client: client, clock: clk}
}

func (m *RedisManager) Acquire(ctx context.Context, key string, opts AcquireOptions) (string, bool, error) {
	token := uuid.NewString()

	ok, err := retry(ctx, opts, func() (bool, error) {
		ok, err := m.client.SetNX(ctx, key, token, opts.TTL).Result()
		if err != nil {
			return false, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		return ok, nil
	})
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

var releaseScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (m *RedisManager) Release(ctx context.Context, key, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, m.client, []string{key}, token).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("release lock %s: %w", key, err)
	}
	return n == 1, nil
}

var extendScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val ~= ARGV[1] then
  return 0
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl <= 0 then
  return 0
end
return redis.call("PEXPIRE", KEYS[1], ttl + tonumber(ARGV[2]))
`)

func (m *RedisManager) Extend(ctx context.Context, key, token string, additional time.Duration) (bool, error) {
	n, err := extendScript.Run(ctx, m.client, []string{key}, token, additional.Milliseconds()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("extend lock %s: %w", key, err)
	}
	return n == 1, nil
}

func (m *RedisManager) IsLocked(ctx context.Context, key string) (bool, error) {
	n, err := m.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("check lock %s: %w", key, err)
	}
	return n == 1, nil
}

func (m *RedisManager) Info(ctx context.Context, key string) (*Lease, error) {
	pipe := m.client.Pipeline()
	get := pipe.Get(ctx, key)
	pttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("lock info %s: %w", key, err)
	}

	token, err := get.Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock info %s: %w", key, err)
	}

	// PTTL reports -1/-2 for keys without expiry or already gone.
	ttl := pttl.Val()
	if ttl <= 0 {
		return nil, nil
	}

	return &Lease{
		Key:       key,
		Token:     token,
		ExpiresAt: m.clock.Now().Add(ttl),
	}, nil
}
