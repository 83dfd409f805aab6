package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func lockKey(queue, messageID string) string {
	return fmt.Sprintf("lock:%s:%s", queue, messageID)
}

// LockManager hands out per-message processing locks so that concurrent
// workers (or a worker racing the sweeper) never execute the same message
// twice at once. Locks expire on their own; release is an optimization.
type LockManager struct {
	rdb redis.UniversalClient
}

// NewLockManager creates a lock manager on the given redis client.
func NewLockManager(rdb redis.UniversalClient) *LockManager {
	return &LockManager{rdb: rdb}
}

// Acquire takes the lock for the message if free. Returns false when another
// holder has it.
func (l *LockManager) Acquire(ctx context.Context, queue, messageID string, ttl time.Duration) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, lockKey(queue, messageID), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", messageID, err)
	}
	return ok, nil
}

// Release drops the lock. Safe to call on an already-expired lock.
func (l *LockManager) Release(ctx context.Context, queue, messageID string) error {
	if err := l.rdb.Del(ctx, lockKey(queue, messageID)).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", messageID, err)
	}
	return nil
}

// Held reports whether the lock currently exists. The sweeper uses this to
// tell in-flight messages from orphans.
func (l *LockManager) Held(ctx context.Context, queue, messageID string) (bool, error) {
	n, err := l.rdb.Exists(ctx, lockKey(queue, messageID)).Result()
	if err != nil {
		return false, fmt.Errorf("check lock %s: %w", messageID, err)
	}
	return n > 0, nil
}
