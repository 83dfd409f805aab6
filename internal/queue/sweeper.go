package queue

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/billinglab/billing-backend/internal/domain/models"
)

// SweeperBackend is the slice of the substrate the sweeper needs.
type SweeperBackend interface {
	ListProcessing(ctx context.Context, queue string) ([]string, error)
	RemoveFromProcessing(ctx context.Context, queue string, raw string) error
	DelayEnqueue(ctx context.Context, queue string, raw string, delay time.Duration) error
	DeadLetter(ctx context.Context, queue string, raw string) error
}

// LockInspector checks whether a message's processing lock is alive.
type LockInspector interface {
	Held(ctx context.Context, queue, messageID string) (bool, error)
}

// Sweeper recovers orphaned in-flight messages. A message sitting in a
// processing list without a live lock belonged to a crashed worker; the
// sweeper charges it one attempt and reschedules or dead-letters it.
// Messages whose lock is still held are skipped untouched.
type Sweeper struct {
	backend  SweeperBackend
	locks    LockInspector
	policies *PolicyRegistry
	queues   []string
	interval time.Duration
	recorder JobRecorder
	logger   *zap.Logger
}

// NewSweeper builds a sweeper over the given queues.
func NewSweeper(backend SweeperBackend, locks LockInspector, policies *PolicyRegistry, queues []string, interval time.Duration, recorder JobRecorder, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		backend:  backend,
		locks:    locks,
		policies: policies,
		queues:   queues,
		interval: interval,
		recorder: recorder,
		logger:   logger,
	}
}

// Run sweeps on each tick until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("orphan sweeper started", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("orphan sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce scans every queue's processing list once.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	for _, q := range s.queues {
		if err := s.sweepQueue(ctx, q); err != nil {
			s.logger.Error("sweep failed", zap.String("queue", q), zap.Error(err))
		}
	}
}

func (s *Sweeper) sweepQueue(ctx context.Context, queue string) error {
	entries, err := s.backend.ListProcessing(ctx, queue)
	if err != nil {
		return err
	}
	policy := s.policies.ForQueue(queue)
	for _, raw := range entries {
		env, derr := Decode(raw)
		if derr != nil {
			// Unparseable in-flight entries cannot be retried.
			s.logger.Error("orphan parse failed", zap.String("queue", queue), zap.Error(derr))
			if err := s.backend.RemoveFromProcessing(ctx, queue, raw); err != nil {
				return err
			}
			if err := s.backend.DeadLetter(ctx, queue, raw); err != nil {
				return err
			}
			sweptOrphansTotal.WithLabelValues(queue).Inc()
			continue
		}
		messageID := env.MessageID(raw)

		held, herr := s.locks.Held(ctx, queue, messageID)
		if herr != nil {
			return herr
		}
		if held {
			continue
		}

		if err := s.recoverOrphan(ctx, queue, env, raw, messageID, policy); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sweeper) recoverOrphan(ctx context.Context, queue string, env *Envelope, raw, messageID string, policy Policy) error {
	if err := s.backend.RemoveFromProcessing(ctx, queue, raw); err != nil {
		return err
	}
	sweptOrphansTotal.WithLabelValues(queue).Inc()

	attempts := env.Attempts + 1
	max := policy.MaxRetries
	if env.MaxAttempts > 0 {
		max = env.MaxAttempts
	}
	entry := models.JobLog{
		Queue:          queue,
		MessageID:      messageID,
		CorrelationID:  env.CorrelationID,
		IdempotencyKey: env.IdempotencyKey,
		Action:         env.Action,
		Attempts:       attempts,
		LastError:      "orphaned in processing",
	}

	if attempts > max {
		s.logger.Error("orphan dead-lettered",
			zap.String("queue", queue),
			zap.String("message_id", messageID),
			zap.Int("attempts", attempts))
		if err := s.backend.DeadLetter(ctx, queue, raw); err != nil {
			return err
		}
		entry.Status = models.JobStatusDead
		s.record(ctx, entry)
		return nil
	}

	delay := policy.Backoff(attempts)
	next, err := env.Clone(attempts).Encode()
	if err != nil {
		return err
	}
	if err := s.backend.DelayEnqueue(ctx, queue, next, delay); err != nil {
		return err
	}
	s.logger.Warn("orphan rescheduled",
		zap.String("queue", queue),
		zap.String("message_id", messageID),
		zap.Int("attempts", attempts),
		zap.Duration("delay", delay))
	retryAt := time.Now().UTC().Add(delay)
	entry.Status = models.JobStatusRetry
	entry.NextRetryAt = &retryAt
	s.record(ctx, entry)
	return nil
}

func (s *Sweeper) record(ctx context.Context, entry models.JobLog) {
	if s.recorder != nil {
		s.recorder.Record(ctx, entry)
	}
}
