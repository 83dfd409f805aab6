package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Physical structures per logical queue Q: Q (work list), Q:delayed (zset
// keyed by ready-at epoch), Q:processing (in-flight under lease), Q:failed
// (dead letters).
func delayedKey(queue string) string    { return queue + ":delayed" }
func processingKey(queue string) string { return queue + ":processing" }
func failedKey(queue string) string     { return queue + ":failed" }

// NewRedisClient builds a redis client from a URL with a bounded pool.
func NewRedisClient(url string, maxConns int) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if maxConns > 0 {
		opts.PoolSize = maxConns
	}
	return redis.NewClient(opts), nil
}

// Substrate provides the primitive operations on named queues. All writes use
// per-key-atomic redis primitives; Claim is a single BRPOPLPUSH so a worker
// crash between pop and push cannot lose a message.
type Substrate struct {
	rdb    redis.UniversalClient
	logger *zap.Logger
}

// NewSubstrate creates a queue substrate on the given redis client.
func NewSubstrate(rdb redis.UniversalClient, logger *zap.Logger) *Substrate {
	return &Substrate{rdb: rdb, logger: logger}
}

// Ping verifies connectivity.
func (s *Substrate) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Enqueue appends a serialized message to the head of the queue.
func (s *Substrate) Enqueue(ctx context.Context, queue string, raw string) error {
	if err := s.rdb.LPush(ctx, queue, raw).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", queue, err)
	}
	enqueuesTotal.WithLabelValues(queue).Inc()
	return nil
}

// Claim atomically moves the tail of the queue onto the head of its
// processing list and returns the raw message, blocking up to leaseTimeout.
// Returns ("", nil) when no message becomes available.
func (s *Substrate) Claim(ctx context.Context, queue string, leaseTimeout time.Duration) (string, error) {
	raw, err := s.rdb.BRPopLPush(ctx, queue, processingKey(queue), leaseTimeout).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("claim %s: %w", queue, err)
	}
	claimsTotal.WithLabelValues(queue).Inc()
	return raw, nil
}

// Ack removes the first occurrence of the exact serialized form from the
// processing list.
func (s *Substrate) Ack(ctx context.Context, queue string, raw string) error {
	if err := s.rdb.LRem(ctx, processingKey(queue), 1, raw).Err(); err != nil {
		return fmt.Errorf("ack %s: %w", queue, err)
	}
	return nil
}

// RemoveFromProcessing is Ack under a different intent: taking an in-flight
// message back out of the lease list before retrying or dead-lettering it.
func (s *Substrate) RemoveFromProcessing(ctx context.Context, queue string, raw string) error {
	if err := s.rdb.LRem(ctx, processingKey(queue), 1, raw).Err(); err != nil {
		return fmt.Errorf("remove from processing %s: %w", queue, err)
	}
	return nil
}

// DelayEnqueue inserts the message into the delayed set, ready delaySeconds
// from now.
func (s *Substrate) DelayEnqueue(ctx context.Context, queue string, raw string, delay time.Duration) error {
	score := float64(time.Now().Add(delay).Unix())
	if err := s.rdb.ZAdd(ctx, delayedKey(queue), redis.Z{Score: score, Member: raw}).Err(); err != nil {
		return fmt.Errorf("delay enqueue %s: %w", queue, err)
	}
	delayedTotal.WithLabelValues(queue).Inc()
	return nil
}

// PromoteDue moves every delayed entry whose ready-at score has passed back
// onto the main queue and returns the count moved. Idempotent: promoting an
// empty due set is a no-op.
func (s *Substrate) PromoteDue(ctx context.Context, queue string) (int, error) {
	now := fmt.Sprintf("%d", time.Now().Unix())
	members, err := s.rdb.ZRangeByScore(ctx, delayedKey(queue), &redis.ZRangeBy{Min: "0", Max: now}).Result()
	if err != nil {
		return 0, fmt.Errorf("promote due %s: %w", queue, err)
	}
	if len(members) == 0 {
		return 0, nil
	}
	for _, raw := range members {
		// ZREM before LPUSH so an overlapping pump invocation cannot
		// promote the same member twice.
		removed, err := s.rdb.ZRem(ctx, delayedKey(queue), raw).Result()
		if err != nil {
			return 0, fmt.Errorf("promote due %s: %w", queue, err)
		}
		if removed == 0 {
			continue
		}
		if err := s.rdb.LPush(ctx, queue, raw).Err(); err != nil {
			return 0, fmt.Errorf("promote due %s: %w", queue, err)
		}
	}
	promotedTotal.WithLabelValues(queue).Add(float64(len(members)))
	return len(members), nil
}

// DeadLetter appends the message to the dead-letter list.
func (s *Substrate) DeadLetter(ctx context.Context, queue string, raw string) error {
	if err := s.rdb.LPush(ctx, failedKey(queue), raw).Err(); err != nil {
		return fmt.Errorf("dead letter %s: %w", queue, err)
	}
	deadLettersTotal.WithLabelValues(queue).Inc()
	return nil
}

// LenActive returns the depth of the main work list.
func (s *Substrate) LenActive(ctx context.Context, queue string) (int64, error) {
	return s.rdb.LLen(ctx, queue).Result()
}

// LenDelayed returns the number of scheduled entries.
func (s *Substrate) LenDelayed(ctx context.Context, queue string) (int64, error) {
	return s.rdb.ZCard(ctx, delayedKey(queue)).Result()
}

// LenProcessing returns the number of in-flight entries.
func (s *Substrate) LenProcessing(ctx context.Context, queue string) (int64, error) {
	return s.rdb.LLen(ctx, processingKey(queue)).Result()
}

// LenFailed returns the dead-letter depth.
func (s *Substrate) LenFailed(ctx context.Context, queue string) (int64, error) {
	return s.rdb.LLen(ctx, failedKey(queue)).Result()
}

// ListProcessing returns a snapshot of the in-flight list for the sweeper.
func (s *Substrate) ListProcessing(ctx context.Context, queue string) ([]string, error) {
	items, err := s.rdb.LRange(ctx, processingKey(queue), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list processing %s: %w", queue, err)
	}
	return items, nil
}

// TrimFailed keeps only the newest keep entries when the dead-letter list has
// grown past threshold. Returns the number of entries dropped.
func (s *Substrate) TrimFailed(ctx context.Context, queue string, threshold, keep int64) (int64, error) {
	key := failedKey(queue)
	length, err := s.rdb.LLen(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("trim failed %s: %w", queue, err)
	}
	if length <= threshold {
		return 0, nil
	}
	// LPUSH prepends, so the newest entries sit at the head.
	if err := s.rdb.LTrim(ctx, key, 0, keep-1).Err(); err != nil {
		return 0, fmt.Errorf("trim failed %s: %w", queue, err)
	}
	return length - keep, nil
}

// QueueStats describes the depth of one logical queue across its physical
// structures.
type QueueStats struct {
	Active     int64 `json:"active_depth"`
	Delayed    int64 `json:"delayed_depth"`
	Processing int64 `json:"processing_depth"`
	Failed     int64 `json:"failed_depth"`
	Total      int64 `json:"total_depth"`
}

// Stats inspects one logical queue.
func (s *Substrate) Stats(ctx context.Context, queue string) (QueueStats, error) {
	var st QueueStats
	var err error
	if st.Active, err = s.LenActive(ctx, queue); err != nil {
		return st, err
	}
	if st.Delayed, err = s.LenDelayed(ctx, queue); err != nil {
		return st, err
	}
	if st.Processing, err = s.LenProcessing(ctx, queue); err != nil {
		return st, err
	}
	if st.Failed, err = s.LenFailed(ctx, queue); err != nil {
		return st, err
	}
	st.Total = st.Active + st.Delayed + st.Processing + st.Failed
	depthGauge.WithLabelValues(queue, "active").Set(float64(st.Active))
	depthGauge.WithLabelValues(queue, "delayed").Set(float64(st.Delayed))
	depthGauge.WithLabelValues(queue, "processing").Set(float64(st.Processing))
	depthGauge.WithLabelValues(queue, "failed").Set(float64(st.Failed))
	return st, nil
}

// PushEventLog appends a compact job event to the ephemeral log list.
// Best-effort: errors are logged, never returned.
func (s *Substrate) PushEventLog(ctx context.Context, raw string) {
	if err := s.rdb.LPush(ctx, eventLogKey, raw).Err(); err != nil {
		s.logger.Debug("event log push failed", zap.Error(err))
	}
}

const eventLogKey = "q:log:jobs"
