package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/ratelimit"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// takeScript refills by elapsed time and grants up to the whole tokens available.
// KEYS[1] = bucket hash
// ARGV[1] = capacity, ARGV[2] = refill per second, ARGV[3] = now in ms, ARGV[4] = requested
// Returns {granted, retry_after_ms, remaining}
var takeScript = redis.NewScript(`
	local key = KEYS[1]
	local capacity = tonumber(ARGV[1])
	local rate = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])
	local requested = tonumber(ARGV[4])

	local state = redis.call('hmget', key, 'tokens', 'ts')
	local tokens = tonumber(state[1])
	local ts = tonumber(state[2])
	if tokens == nil or ts == nil then
		tokens = capacity
		ts = now
	end

	local elapsed = now - ts
	if elapsed > 0 then
		tokens = math.min(capacity, tokens + elapsed * rate / 1000)
		ts = now
	end

	local granted = math.min(requested, math.floor(tokens))
	if granted < 0 then
		granted = 0
	end
	tokens = tokens - granted

	redis.call('hset', key, 'tokens', tostring(tokens), 'ts', ts)
	redis.call('pexpire', key, math.ceil(capacity * 1000 / rate) + 1000)

	local retry = 0
	if granted < requested then
		retry = math.ceil((1 - tokens) * 1000 / rate)
	end

	return {granted, retry, math.floor(tokens)}
`)

// TokenBucket is a ratelimit.Bucket shared by every worker through Redis.
type TokenBucket struct {
	client *Client
	name   string
	key    string
	config ratelimit.Config
	now    func() time.Time
}

func NewTokenBucket(client *Client, name string, config ratelimit.Config) (*TokenBucket, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &TokenBucket{
		client: client,
		name:   name,
		key:    "fern:bucket:" + name,
		config: config,
		now:    time.Now,
	}, nil
}

func (b *TokenBucket) Take(ctx context.Context, n int) (ratelimit.Grant, error) {
	ctx, span := tracing.StartSpan(ctx, "redis.TokenBucket.Take")
	defer span.End()

	args := []any{b.config.Capacity, b.config.RefillPerSecond, b.now().UnixMilli(), n}
	result, err := takeScript.Run(ctx, b.client.rdb, []string{b.key}, args...).Slice()
	if err != nil {
		return ratelimit.Grant{}, fmt.Errorf("take %d tokens from %s: %w", n, b.name, err)
	}
	if len(result) != 3 {
		return ratelimit.Grant{}, fmt.Errorf("unexpected token bucket reply: %v", result)
	}

	grant := ratelimit.Grant{
		Requested:  n,
		Granted:    int(toInt64(result[0])),
		RetryAfter: time.Duration(toInt64(result[1])) * time.Millisecond,
		Remaining:  int(toInt64(result[2])),
	}
	metrics.RecordTokens(b.name, grant.Granted, grant.Requested-grant.Granted)

	if grant.Partial() {
		b.client.logger.WithContext(ctx).WithFields(map[string]any{
			"bucket":      b.name,
			"requested":   grant.Requested,
			"granted":     grant.Granted,
			"retry_after": grant.RetryAfter.String(),
		}).Debug("Token bucket exhausted")
	}
	return grant, nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
