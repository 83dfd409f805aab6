package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/billinglab/billing-backend/internal/domain/models"
)

// meterScript makes check-and-increment a single atomic step so two
// concurrent requests can never both spend the last unit of quota. It also
// rolls the window: a stored reset time at or before now restarts the count
// from zero under the caller's new reset time.
//
// KEYS[1] usage hash, ARGV: now, delta, limit, next reset (unix seconds).
// Returns {allowed, count, limit} where count is the post-increment value on
// allow and the untouched value on deny.
const meterScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local delta = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local next_reset = tonumber(ARGV[4])

local fields = redis.call('HMGET', key, 'count', 'reset_at')
local count = tonumber(fields[1]) or 0
local reset_at = tonumber(fields[2]) or 0

if reset_at ~= 0 and reset_at <= now then
  count = 0
end
if reset_at == 0 or reset_at <= now then
  reset_at = next_reset
end

if count + delta > limit then
  return {0, count, limit}
end

count = count + delta
redis.call('HMSET', key, 'count', count, 'reset_at', reset_at)
redis.call('EXPIRE', key, 86400)
return {1, count, limit}
`

func usageKey(userID int64, feature string) string {
	return fmt.Sprintf("usage:%d:%s", userID, feature)
}

// Decision is the outcome of one metered increment.
type Decision struct {
	Allowed bool
	Count   int64
	Limit   int64
	ResetAt time.Time
}

// Meter enforces per-user per-feature quotas with monthly windows. The hot
// path lives entirely in redis; callers mirror allowed increments into the
// durable store afterward.
type Meter struct {
	rdb    redis.UniversalClient
	script *redis.Script
	logger *zap.Logger
	now    func() time.Time

	// eval is swappable in tests.
	eval func(ctx context.Context, keys []string, args ...interface{}) (interface{}, error)
}

// NewMeter builds a usage meter on the redis client.
func NewMeter(rdb redis.UniversalClient, logger *zap.Logger) *Meter {
	m := &Meter{
		rdb:    rdb,
		script: redis.NewScript(meterScript),
		logger: logger,
		now:    time.Now,
	}
	m.eval = func(ctx context.Context, keys []string, args ...interface{}) (interface{}, error) {
		return m.script.Run(ctx, m.rdb, keys, args...).Result()
	}
	return m
}

// Increment atomically charges delta units of the feature against the limit.
// The window resets at the first instant of the next calendar month, UTC.
func (m *Meter) Increment(ctx context.Context, userID int64, feature string, delta, limit int64) (Decision, error) {
	now := m.now().UTC()
	nextReset := models.NextMonthlyReset(now)

	res, err := m.eval(ctx,
		[]string{usageKey(userID, feature)},
		now.Unix(), delta, limit, nextReset.Unix())
	if err != nil {
		return Decision{}, fmt.Errorf("usage increment: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 3 {
		return Decision{}, fmt.Errorf("usage increment: unexpected script reply %v", res)
	}
	allowed, _ := vals[0].(int64)
	count, _ := vals[1].(int64)
	lim, _ := vals[2].(int64)

	d := Decision{
		Allowed: allowed == 1,
		Count:   count,
		Limit:   lim,
		ResetAt: nextReset,
	}
	if !d.Allowed {
		m.logger.Info("usage limit reached",
			zap.Int64("user_id", userID),
			zap.String("feature", feature),
			zap.Int64("count", count),
			zap.Int64("limit", lim))
	}
	return d, nil
}

// Peek reads the current counter without charging it.
func (m *Meter) Peek(ctx context.Context, userID int64, feature string) (count int64, resetAt time.Time, err error) {
	fields, err := m.rdb.HMGet(ctx, usageKey(userID, feature), "count", "reset_at").Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("usage peek: %w", err)
	}
	if s, ok := fields[0].(string); ok {
		fmt.Sscanf(s, "%d", &count)
	}
	if s, ok := fields[1].(string); ok {
		var epoch int64
		fmt.Sscanf(s, "%d", &epoch)
		if epoch > 0 {
			resetAt = time.Unix(epoch, 0).UTC()
		}
	}
	return count, resetAt, nil
}

// Clear removes the live counter, forcing the next increment to start a
// fresh window. Used by plan changes and manual resets.
func (m *Meter) Clear(ctx context.Context, userID int64, feature string) error {
	if err := m.rdb.Del(ctx, usageKey(userID, feature)).Err(); err != nil {
		return fmt.Errorf("usage clear: %w", err)
	}
	return nil
}
