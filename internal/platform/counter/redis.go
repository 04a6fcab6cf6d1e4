// Copyright (c) 2026 Decorly. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package counter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taibuivan/decorly/internal/platform/constants"
)

// Buckets are hashes {count, first, locked} with millisecond timestamps.
// The caller's clock is passed in ARGV so every instance agrees on "now"
// for a given decision, and each script runs atomically on the server.

var hitScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])

local first = tonumber(redis.call('HGET', KEYS[1], 'first'))
local count = tonumber(redis.call('HGET', KEYS[1], 'count'))

if (not first) or (now - first > window) then
  redis.call('DEL', KEYS[1])
  redis.call('HSET', KEYS[1], 'first', now, 'count', 0)
  redis.call('PEXPIRE', KEYS[1], window * 2)
  first = now
  count = 0
end

if count >= max then
  return {0, count, first + window - now}
end

count = redis.call('HINCRBY', KEYS[1], 'count', 1)
return {1, count, 0}
`)

var failScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])

local locked = tonumber(redis.call('HGET', KEYS[1], 'locked'))
local first = tonumber(redis.call('HGET', KEYS[1], 'first'))
local count = tonumber(redis.call('HGET', KEYS[1], 'count'))

if locked and locked > now then
  return {0, count or 0, locked - now}
end

if locked or (not first) or (now - first > window) then
  redis.call('DEL', KEYS[1])
  redis.call('HSET', KEYS[1], 'first', now, 'count', 0)
end

count = redis.call('HINCRBY', KEYS[1], 'count', 1)
redis.call('PEXPIRE', KEYS[1], window * 2)

if count >= max then
  redis.call('HSET', KEYS[1], 'locked', now + window)
  return {0, count, window}
end

return {1, count, 0}
`)

var statusScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local locked = tonumber(redis.call('HGET', KEYS[1], 'locked'))
local count = tonumber(redis.call('HGET', KEYS[1], 'count')) or 0

if locked and locked > now then
  return {0, count, locked - now}
end
return {1, count, 0}
`)

// Redis is a [Store] shared by every API instance.
type Redis struct {
	client redis.Cmdable
	now    func() time.Time
}

// NewRedis wraps a go-redis client.
func NewRedis(client redis.Cmdable, opts ...Option) *Redis {
	o := buildOptions(opts)
	return &Redis{client: client, now: o.now}
}

// Hit implements [Store].
func (store *Redis) Hit(ctx context.Context, key string, limit Limit) (Decision, error) {
	return store.run(ctx, hitScript, key, limit.Window.Milliseconds(), limit.Max)
}

// Fail implements [Store].
func (store *Redis) Fail(ctx context.Context, key string, limit Limit) (Decision, error) {
	return store.run(ctx, failScript, key, limit.Window.Milliseconds(), limit.Max)
}

// Status implements [Store].
func (store *Redis) Status(ctx context.Context, key string) (Decision, error) {
	return store.run(ctx, statusScript, key)
}

// Reset implements [Store].
func (store *Redis) Reset(ctx context.Context, key string) error {
	if err := store.client.Del(ctx, constants.RedisPrefixCounter+key).Err(); err != nil {
		return fmt.Errorf("redis_counter_reset_failed: %w", err)
	}
	return nil
}

func (store *Redis) run(ctx context.Context, script *redis.Script, key string, args ...any) (Decision, error) {
	argv := append([]any{store.now().UnixMilli()}, args...)

	values, err := script.Run(ctx, store.client, []string{constants.RedisPrefixCounter + key}, argv...).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis_counter_script_failed: %w", err)
	}
	if len(values) != 3 {
		return Decision{}, fmt.Errorf("redis_counter_script_failed: unexpected reply of length %d", len(values))
	}

	return Decision{
		Allowed:    values[0] == 1,
		Count:      int(values[1]),
		RetryAfter: time.Duration(values[2]) * time.Millisecond,
	}, nil
}
