package shutdown

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// InFlightTracker gates units of work so shutdown can wait for the
// ones already started. The queue workers check it before claiming a
// job, so cancelling their context never abandons a half-processed
// message while the database is still needed to settle it.
type InFlightTracker struct {
	wg      sync.WaitGroup
	closing chan struct{}
	once    sync.Once
	logger  *zap.Logger
	name    string
}

func NewInFlightTracker(name string, logger *zap.Logger) *InFlightTracker {
	return &InFlightTracker{
		closing: make(chan struct{}),
		logger:  logger,
		name:    name,
	}
}

// Add marks one unit of work as started. It returns false once
// shutdown has begun, and the caller must not start the work.
func (t *InFlightTracker) Add() bool {
	select {
	case <-t.closing:
		return false
	default:
		t.wg.Add(1)
		return true
	}
}

// Done marks a unit of work as finished.
func (t *InFlightTracker) Done() {
	t.wg.Done()
}

// Shutdown refuses new work and waits for started work, up to ctx's
// deadline.
func (t *InFlightTracker) Shutdown(ctx context.Context) error {
	t.once.Do(func() { close(t.closing) })

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.logger.Info("in-flight work drained", zap.String("tracker", t.name))
		return nil
	case <-ctx.Done():
		t.logger.Warn("in-flight work did not drain in time", zap.String("tracker", t.name))
		return ctx.Err()
	}
}
