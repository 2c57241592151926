package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ashureev/tripsitter/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "tripsitter:ratelimit:"
	// Counters only matter for the current day; keep them a little longer
	// than that so a late reader still sees yesterday's marker.
	redisCounterTTL = 48 * time.Hour
)

var resetScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "day") ~= ARGV[1] then
	redis.call("HSET", KEYS[1], "count", 0, "day", ARGV[1])
end
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return 1
`)

var incrementScript = redis.NewScript(`
local n
if redis.call("HGET", KEYS[1], "day") == ARGV[1] then
	n = redis.call("HINCRBY", KEYS[1], "count", 1)
else
	redis.call("HSET", KEYS[1], "count", 1, "day", ARGV[1])
	n = 1
end
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return n
`)

// RedisCounters keeps counters in Redis hashes so several server instances
// share one view of the quotas.
type RedisCounters struct {
	client redis.UniversalClient
}

// NewRedisCounters wraps client.
func NewRedisCounters(client redis.UniversalClient) *RedisCounters {
	return &RedisCounters{client: client}
}

func redisKey(scope string) string {
	return redisKeyPrefix + scope
}

// Counter returns the stored counter for scope.
func (r *RedisCounters) Counter(ctx context.Context, scope string) (*domain.RateCounter, error) {
	fields, err := r.client.HGetAll(ctx, redisKey(scope)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	count, err := strconv.Atoi(fields["count"])
	if err != nil {
		return nil, fmt.Errorf("redis counter %s: bad count %q", scope, fields["count"])
	}
	return &domain.RateCounter{Scope: scope, Count: count, Day: fields["day"]}, nil
}

// ResetCounter zeroes the counter unless it is already dated day.
func (r *RedisCounters) ResetCounter(ctx context.Context, scope, day string) error {
	err := resetScript.Run(ctx, r.client, []string{redisKey(scope)}, day, redisCounterTTL.Milliseconds()).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis reset %s: %w", scope, err)
	}
	return nil
}

// IncrementCounter adds one for day and returns the new count.
func (r *RedisCounters) IncrementCounter(ctx context.Context, scope, day string) (int, error) {
	n, err := incrementScript.Run(ctx, r.client, []string{redisKey(scope)}, day, redisCounterTTL.Milliseconds()).Int()
	if err != nil {
		return 0, fmt.Errorf("redis increment %s: %w", scope, err)
	}
	return n, nil
}

var _ CounterStore = (*RedisCounters)(nil)
