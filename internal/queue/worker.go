package queue

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/billinglab/billing-backend/internal/domain"
	"github.com/billinglab/billing-backend/internal/domain/models"
)

// Backend is the slice of the substrate a worker needs. Substrate satisfies
// it; tests substitute an in-memory fake.
type Backend interface {
	Claim(ctx context.Context, queue string, leaseTimeout time.Duration) (string, error)
	Enqueue(ctx context.Context, queue string, raw string) error
	Ack(ctx context.Context, queue string, raw string) error
	RemoveFromProcessing(ctx context.Context, queue string, raw string) error
	DelayEnqueue(ctx context.Context, queue string, raw string, delay time.Duration) error
	DeadLetter(ctx context.Context, queue string, raw string) error
}

// Locker hands out per-message processing locks.
type Locker interface {
	Acquire(ctx context.Context, queue, messageID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, queue, messageID string) error
}

type resultKind int

const (
	kindSuccess resultKind = iota
	kindDuplicate
	kindRetry
	kindFatal
)

// Result is a handler's verdict on one message.
type Result struct {
	kind resultKind
	err  error
}

// Success acknowledges the message.
func Success() Result { return Result{kind: kindSuccess} }

// Duplicate acknowledges a message whose effect was already applied.
func Duplicate() Result { return Result{kind: kindDuplicate} }

// Retry schedules the message for another attempt with backoff.
func Retry(err error) Result { return Result{kind: kindRetry, err: err} }

// Fatal dead-letters the message without further attempts.
func Fatal(err error) Result { return Result{kind: kindFatal, err: err} }

// Handler processes one decoded message.
type Handler func(ctx context.Context, env *Envelope) Result

// Gate admits units of work during shutdown draining. Add reports
// whether new work may start; Done marks it finished.
type Gate interface {
	Add() bool
	Done()
}

type openGate struct{}

func (openGate) Add() bool { return true }
func (openGate) Done()     {}

// Worker consumes one queue: claim, lock, dispatch by action, then ack,
// retry with backoff, or dead-letter. Delivery is at-least-once; handlers
// are expected to be idempotent on their idempotency key.
type Worker struct {
	queue        string
	backend      Backend
	locks        Locker
	policy       Policy
	handlers     map[string]Handler
	recorder     JobRecorder
	logger       *zap.Logger
	claimTimeout time.Duration
	gate         Gate
}

// NewWorker builds a worker for one queue. Handlers map action names to
// their processors; messages with an unregistered action dead-letter.
func NewWorker(queue string, backend Backend, locks Locker, policy Policy, handlers map[string]Handler, recorder JobRecorder, logger *zap.Logger) *Worker {
	return &Worker{
		queue:        queue,
		backend:      backend,
		locks:        locks,
		policy:       policy,
		handlers:     handlers,
		recorder:     recorder,
		logger:       logger.With(zap.String("queue", queue)),
		claimTimeout: time.Second,
		gate:         openGate{},
	}
}

// WithClaimTimeout overrides the blocking claim timeout.
func (w *Worker) WithClaimTimeout(d time.Duration) *Worker {
	if d > 0 {
		w.claimTimeout = d
	}
	return w
}

// WithGate makes the worker check the gate before each claim, so
// shutdown can wait for the message being processed.
func (w *Worker) WithGate(g Gate) *Worker {
	if g != nil {
		w.gate = g
	}
	return w
}

// Run consumes the queue until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped")
			return
		default:
		}
		if !w.gate.Add() {
			w.logger.Info("worker stopped, draining")
			return
		}
		err := w.RunOnce(ctx)
		w.gate.Done()
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Error("worker iteration failed", zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
		}
	}
}

// RunOnce claims and fully settles at most one message. A nil return with no
// available message is a normal idle pass.
func (w *Worker) RunOnce(ctx context.Context) error {
	raw, err := w.backend.Claim(ctx, w.queue, w.claimTimeout)
	if err != nil {
		return err
	}
	if raw == "" {
		return nil
	}

	env, err := Decode(raw)
	if err != nil {
		// Unparseable messages can never succeed; settle them straight
		// into the dead-letter list.
		w.logger.Error("message parse failed", zap.Error(err))
		if rerr := w.backend.RemoveFromProcessing(ctx, w.queue, raw); rerr != nil {
			return rerr
		}
		if derr := w.backend.DeadLetter(ctx, w.queue, raw); derr != nil {
			return derr
		}
		w.record(ctx, models.JobLog{
			Queue:     w.queue,
			MessageID: ContentHash(raw),
			Status:    models.JobStatusDead,
			LastError: err.Error(),
		})
		jobOutcomesTotal.WithLabelValues(w.queue, "parse_failed").Inc()
		return nil
	}

	messageID := env.MessageID(raw)
	w.record(ctx, w.entry(env, messageID, models.JobStatusReceived, ""))

	acquired, err := w.locks.Acquire(ctx, w.queue, messageID, w.policy.LockTTL)
	if err != nil {
		w.logger.Warn("lock acquire failed", zap.String("message_id", messageID), zap.Error(err))
		acquired = false
	}
	if !acquired {
		// Someone else holds the message. Put it back at the end of the
		// line rather than spinning on the lock.
		if rerr := w.backend.RemoveFromProcessing(ctx, w.queue, raw); rerr != nil {
			return rerr
		}
		if qerr := w.backend.Enqueue(ctx, w.queue, raw); qerr != nil {
			return qerr
		}
		w.record(ctx, w.entry(env, messageID, models.JobStatusRetry, "lock_unavailable"))
		jobOutcomesTotal.WithLabelValues(w.queue, "lock_unavailable").Inc()
		return nil
	}
	defer func() {
		if rerr := w.locks.Release(ctx, w.queue, messageID); rerr != nil {
			w.logger.Debug("lock release failed", zap.String("message_id", messageID), zap.Error(rerr))
		}
	}()

	w.record(ctx, w.entry(env, messageID, models.JobStatusProcessing, ""))

	start := time.Now()
	res := w.dispatch(ctx, env)
	jobDuration.WithLabelValues(w.queue).Observe(time.Since(start).Seconds())

	// Non-retryable domain failures take the fatal path regardless of how
	// the handler classified them.
	if res.kind == kindRetry && res.err != nil &&
		(domain.IsValidationError(res.err) || domain.IsFatalInvariant(res.err)) {
		res = Fatal(res.err)
	}

	switch res.kind {
	case kindSuccess, kindDuplicate:
		if aerr := w.backend.Ack(ctx, w.queue, raw); aerr != nil {
			return aerr
		}
		detail := ""
		if res.kind == kindDuplicate {
			detail = "duplicate"
		}
		w.record(ctx, w.entry(env, messageID, models.JobStatusSuccess, detail))
		jobOutcomesTotal.WithLabelValues(w.queue, "success").Inc()
		return nil

	case kindFatal:
		w.logger.Error("message dead-lettered",
			zap.String("message_id", messageID),
			zap.String("action", env.Action),
			zap.Error(res.err))
		if rerr := w.backend.RemoveFromProcessing(ctx, w.queue, raw); rerr != nil {
			return rerr
		}
		if derr := w.backend.DeadLetter(ctx, w.queue, raw); derr != nil {
			return derr
		}
		w.record(ctx, w.entryErr(env, messageID, models.JobStatusDead, res.err))
		jobOutcomesTotal.WithLabelValues(w.queue, "dead").Inc()
		return nil

	default:
		return w.settleRetry(ctx, env, raw, messageID, res.err)
	}
}

// settleRetry applies the backoff policy to a retryable failure: another
// delayed attempt while the budget lasts, the dead-letter list after.
func (w *Worker) settleRetry(ctx context.Context, env *Envelope, raw, messageID string, cause error) error {
	if rerr := w.backend.RemoveFromProcessing(ctx, w.queue, raw); rerr != nil {
		return rerr
	}

	attempts := env.Attempts + 1
	max := w.policy.MaxRetries
	if env.MaxAttempts > 0 {
		max = env.MaxAttempts
	}
	if attempts > max {
		w.logger.Error("retry budget exhausted",
			zap.String("message_id", messageID),
			zap.Int("attempts", attempts),
			zap.Error(cause))
		if derr := w.backend.DeadLetter(ctx, w.queue, raw); derr != nil {
			return derr
		}
		entry := w.entryErr(env, messageID, models.JobStatusDead, cause)
		entry.Attempts = attempts
		w.record(ctx, entry)
		jobOutcomesTotal.WithLabelValues(w.queue, "dead").Inc()
		return nil
	}

	delay := w.policy.Backoff(attempts)
	next, err := env.Clone(attempts).Encode()
	if err != nil {
		return err
	}
	if derr := w.backend.DelayEnqueue(ctx, w.queue, next, delay); derr != nil {
		return derr
	}
	w.logger.Warn("message scheduled for retry",
		zap.String("message_id", messageID),
		zap.Int("attempts", attempts),
		zap.Duration("delay", delay),
		zap.Error(cause))
	retryAt := time.Now().UTC().Add(delay)
	entry := w.entryErr(env, messageID, models.JobStatusRetry, cause)
	entry.Attempts = attempts
	entry.NextRetryAt = &retryAt
	w.record(ctx, entry)
	jobOutcomesTotal.WithLabelValues(w.queue, "retry").Inc()
	return nil
}

func (w *Worker) dispatch(ctx context.Context, env *Envelope) Result {
	h, ok := w.handlers[env.Action]
	if !ok {
		return Fatal(fmt.Errorf("no handler for action %q", env.Action))
	}
	return h(ctx, env)
}

func (w *Worker) entry(env *Envelope, messageID string, status models.JobStatus, detail string) models.JobLog {
	return models.JobLog{
		Queue:          w.queue,
		MessageID:      messageID,
		CorrelationID:  env.CorrelationID,
		IdempotencyKey: env.IdempotencyKey,
		Action:         env.Action,
		Status:         status,
		Attempts:       env.Attempts,
		LastError:      detail,
	}
}

func (w *Worker) entryErr(env *Envelope, messageID string, status models.JobStatus, cause error) models.JobLog {
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	return w.entry(env, messageID, status, detail)
}

func (w *Worker) record(ctx context.Context, entry models.JobLog) {
	if w.recorder != nil {
		w.recorder.Record(ctx, entry)
	}
}
