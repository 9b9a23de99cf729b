package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dverma2339/kubepilot/control_plane/observability"
)

// slidingWindowScript implements the window atomically: prune, count, and
// conditionally record in one round trip so concurrent instances cannot
// admit past the limit between a read and a write.
//
// KEYS[1] = zset key
// ARGV[1] = now (unix micros), ARGV[2] = window (micros),
// ARGV[3] = limit, ARGV[4] = member id
// Returns the count after pruning; the caller admitted iff count < limit
// before the insert (script only inserts in that case).
const slidingWindowScript = `
	redis.call("zremrangebyscore", KEYS[1], 0, ARGV[1] - ARGV[2])
	local count = redis.call("zcard", KEYS[1])
	if count < tonumber(ARGV[3]) then
		redis.call("zadd", KEYS[1], ARGV[1], ARGV[4])
		redis.call("pexpire", KEYS[1], math.ceil(ARGV[2] / 1000))
		return count
	end
	return -1
`

// RedisLimiter is the shared-store sliding window for multi-instance
// deployments. Each key maps to a ZSET of request instants.
type RedisLimiter struct {
	client    *redis.Client
	scriptSHA string
	prefix    string
}

// NewRedisLimiter connects, verifies the connection and preloads the window
// script (avoids sending script text on every call).
func NewRedisLimiter(addr string, password string, db int) (*RedisLimiter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	sha, err := client.ScriptLoad(ctx, slidingWindowScript).Result()
	if err != nil {
		return nil, fmt.Errorf("ratelimit: failed to preload window script: %w", err)
	}

	return &RedisLimiter{
		client:    client,
		scriptSHA: sha,
		prefix:    "kubepilot:ratelimit:",
	}, nil
}

// Client exposes the underlying connection so other components (idempotency
// records) can share it instead of dialing twice.
func (l *RedisLimiter) Client() *redis.Client {
	return l.client
}

// Allow runs the preloaded script for the key's window.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	start := time.Now()
	defer func() {
		observability.RedisLatency.Observe(time.Since(start).Seconds())
	}()

	d := Decision{Limit: limit, Window: window}

	nowMicros := time.Now().UnixMicro()
	res, err := l.client.EvalSha(ctx, l.scriptSHA, []string{l.prefix + key},
		nowMicros, window.Microseconds(), limit, uuid.NewString()).Result()
	if err != nil {
		return d, err
	}

	count, ok := res.(int64)
	if !ok {
		return d, fmt.Errorf("ratelimit: unexpected script result %T", res)
	}
	if count < 0 {
		return d, nil // over limit
	}
	d.Allowed = true
	d.Remaining = limit - int(count) - 1
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	return d, nil
}

// Close releases the underlying client.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
