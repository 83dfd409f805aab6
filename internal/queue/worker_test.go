package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/billinglab/billing-backend/internal/domain"
	"github.com/billinglab/billing-backend/internal/domain/models"
)

type fakeBackend struct {
	claims   []string
	claimErr error

	enqueued []string
	acked    []string
	removed  []string
	delayed  []string
	delays   []time.Duration
	dead     []string
}

func (f *fakeBackend) Claim(ctx context.Context, queue string, leaseTimeout time.Duration) (string, error) {
	if f.claimErr != nil {
		return "", f.claimErr
	}
	if len(f.claims) == 0 {
		return "", nil
	}
	raw := f.claims[0]
	f.claims = f.claims[1:]
	return raw, nil
}

func (f *fakeBackend) Enqueue(ctx context.Context, queue, raw string) error {
	f.enqueued = append(f.enqueued, raw)
	return nil
}

func (f *fakeBackend) Ack(ctx context.Context, queue, raw string) error {
	f.acked = append(f.acked, raw)
	return nil
}

func (f *fakeBackend) RemoveFromProcessing(ctx context.Context, queue, raw string) error {
	f.removed = append(f.removed, raw)
	return nil
}

func (f *fakeBackend) DelayEnqueue(ctx context.Context, queue, raw string, delay time.Duration) error {
	f.delayed = append(f.delayed, raw)
	f.delays = append(f.delays, delay)
	return nil
}

func (f *fakeBackend) DeadLetter(ctx context.Context, queue, raw string) error {
	f.dead = append(f.dead, raw)
	return nil
}

type fakeLocker struct {
	available bool
	err       error
	acquired  []string
	released  []string
}

func (f *fakeLocker) Acquire(ctx context.Context, queue, messageID string, ttl time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.available {
		f.acquired = append(f.acquired, messageID)
	}
	return f.available, nil
}

func (f *fakeLocker) Release(ctx context.Context, queue, messageID string) error {
	f.released = append(f.released, messageID)
	return nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []models.JobLog
}

func (f *fakeRecorder) Record(ctx context.Context, entry models.JobLog) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
}

func (f *fakeRecorder) statuses() []models.JobStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.JobStatus, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.Status)
	}
	return out
}

func encodeT(t *testing.T, env *Envelope) string {
	t.Helper()
	raw, err := env.Encode()
	require.NoError(t, err)
	return raw
}

func newTestWorker(backend *fakeBackend, locks *fakeLocker, recorder *fakeRecorder, handlers map[string]Handler) *Worker {
	return NewWorker("q:sub:payment_initiation", backend, locks,
		DefaultPolicy(), handlers, recorder, zap.NewNop())
}

func TestWorker_SuccessAcks(t *testing.T) {
	env := NewEnvelope("payment_initiation", map[string]interface{}{"amount": "9.99"})
	raw := encodeT(t, env)
	backend := &fakeBackend{claims: []string{raw}}
	locks := &fakeLocker{available: true}
	recorder := &fakeRecorder{}

	w := newTestWorker(backend, locks, recorder, map[string]Handler{
		"payment_initiation": func(ctx context.Context, env *Envelope) Result { return Success() },
	})

	require.NoError(t, w.RunOnce(context.Background()))
	assert.Equal(t, []string{raw}, backend.acked)
	assert.Empty(t, backend.dead)
	assert.Equal(t, []models.JobStatus{
		models.JobStatusReceived,
		models.JobStatusProcessing,
		models.JobStatusSuccess,
	}, recorder.statuses())
	assert.Equal(t, []string{env.ID}, locks.released)
}

func TestWorker_DuplicateAcksWithoutReapplying(t *testing.T) {
	raw := encodeT(t, NewEnvelope("payment_initiation", map[string]interface{}{"amount": "9.99"}))
	backend := &fakeBackend{claims: []string{raw}}
	recorder := &fakeRecorder{}

	w := newTestWorker(backend, &fakeLocker{available: true}, recorder, map[string]Handler{
		"payment_initiation": func(ctx context.Context, env *Envelope) Result { return Duplicate() },
	})

	require.NoError(t, w.RunOnce(context.Background()))
	assert.Equal(t, []string{raw}, backend.acked)
	last := recorder.entries[len(recorder.entries)-1]
	assert.Equal(t, models.JobStatusSuccess, last.Status)
	assert.Equal(t, "duplicate", last.LastError)
}

func TestWorker_RetrySchedulesDelayedRedelivery(t *testing.T) {
	env := NewEnvelope("payment_initiation", map[string]interface{}{"amount": "9.99"})
	raw := encodeT(t, env)
	backend := &fakeBackend{claims: []string{raw}}
	recorder := &fakeRecorder{}

	w := newTestWorker(backend, &fakeLocker{available: true}, recorder, map[string]Handler{
		"payment_initiation": func(ctx context.Context, env *Envelope) Result {
			return Retry(domain.Retryable(errors.New("gateway 503")))
		},
	})

	require.NoError(t, w.RunOnce(context.Background()))
	assert.Equal(t, []string{raw}, backend.removed)
	require.Len(t, backend.delayed, 1)
	assert.Empty(t, backend.dead)

	redelivered, err := Decode(backend.delayed[0])
	require.NoError(t, err)
	assert.Equal(t, 1, redelivered.Attempts)
	assert.Equal(t, env.ID, redelivered.ID)

	// First retry of the default policy: 60s base plus up to 10s jitter.
	assert.GreaterOrEqual(t, backend.delays[0], 120*time.Second)
	assert.Less(t, backend.delays[0], 130*time.Second)
}

func TestWorker_RetryBudgetExhaustedDeadLetters(t *testing.T) {
	env := NewEnvelope("payment_initiation", map[string]interface{}{"amount": "9.99"})
	env.Attempts = 5
	raw := encodeT(t, env)
	backend := &fakeBackend{claims: []string{raw}}
	recorder := &fakeRecorder{}

	w := newTestWorker(backend, &fakeLocker{available: true}, recorder, map[string]Handler{
		"payment_initiation": func(ctx context.Context, env *Envelope) Result {
			return Retry(domain.Retryable(errors.New("still down")))
		},
	})

	require.NoError(t, w.RunOnce(context.Background()))
	assert.Equal(t, []string{raw}, backend.dead)
	assert.Empty(t, backend.delayed)
	last := recorder.entries[len(recorder.entries)-1]
	assert.Equal(t, models.JobStatusDead, last.Status)
	assert.Equal(t, 6, last.Attempts)
}

func TestWorker_PerMessageMaxAttemptsOverride(t *testing.T) {
	env := NewEnvelope("payment_initiation", map[string]interface{}{"amount": "9.99"})
	env.Attempts = 1
	env.MaxAttempts = 1
	raw := encodeT(t, env)
	backend := &fakeBackend{claims: []string{raw}}

	w := newTestWorker(backend, &fakeLocker{available: true}, &fakeRecorder{}, map[string]Handler{
		"payment_initiation": func(ctx context.Context, env *Envelope) Result {
			return Retry(domain.Retryable(errors.New("nope")))
		},
	})

	require.NoError(t, w.RunOnce(context.Background()))
	assert.Equal(t, []string{raw}, backend.dead)
	assert.Empty(t, backend.delayed)
}

func TestWorker_FatalDeadLetters(t *testing.T) {
	raw := encodeT(t, NewEnvelope("payment_initiation", map[string]interface{}{"amount": "bad"}))
	backend := &fakeBackend{claims: []string{raw}}

	w := newTestWorker(backend, &fakeLocker{available: true}, &fakeRecorder{}, map[string]Handler{
		"payment_initiation": func(ctx context.Context, env *Envelope) Result {
			return Fatal(errors.New("malformed amount"))
		},
	})

	require.NoError(t, w.RunOnce(context.Background()))
	assert.Equal(t, []string{raw}, backend.removed)
	assert.Equal(t, []string{raw}, backend.dead)
	assert.Empty(t, backend.delayed)
}

func TestWorker_ValidationErrorEscalatesRetryToFatal(t *testing.T) {
	raw := encodeT(t, NewEnvelope("payment_initiation", map[string]interface{}{"amount": "9.99"}))
	backend := &fakeBackend{claims: []string{raw}}

	w := newTestWorker(backend, &fakeLocker{available: true}, &fakeRecorder{}, map[string]Handler{
		"payment_initiation": func(ctx context.Context, env *Envelope) Result {
			// Handler misclassified a permanent failure as retryable.
			return Retry(domain.NewDomainError(domain.ErrorCodeValidationFailed, "missing subscription_id"))
		},
	})

	require.NoError(t, w.RunOnce(context.Background()))
	assert.Equal(t, []string{raw}, backend.dead)
	assert.Empty(t, backend.delayed)
}

func TestWorker_UnparseableMessageDeadLetters(t *testing.T) {
	raw := "not json at all"
	backend := &fakeBackend{claims: []string{raw}}
	recorder := &fakeRecorder{}

	w := newTestWorker(backend, &fakeLocker{available: true}, recorder, nil)

	require.NoError(t, w.RunOnce(context.Background()))
	assert.Equal(t, []string{raw}, backend.removed)
	assert.Equal(t, []string{raw}, backend.dead)
	require.Len(t, recorder.entries, 1)
	assert.Equal(t, models.JobStatusDead, recorder.entries[0].Status)
	assert.Equal(t, ContentHash(raw), recorder.entries[0].MessageID)
}

func TestWorker_LockUnavailableRequeues(t *testing.T) {
	raw := encodeT(t, NewEnvelope("payment_initiation", map[string]interface{}{"amount": "9.99"}))
	backend := &fakeBackend{claims: []string{raw}}
	recorder := &fakeRecorder{}

	handlerCalled := false
	w := newTestWorker(backend, &fakeLocker{available: false}, recorder, map[string]Handler{
		"payment_initiation": func(ctx context.Context, env *Envelope) Result {
			handlerCalled = true
			return Success()
		},
	})

	require.NoError(t, w.RunOnce(context.Background()))
	assert.False(t, handlerCalled)
	assert.Equal(t, []string{raw}, backend.removed)
	assert.Equal(t, []string{raw}, backend.enqueued)
	assert.Empty(t, backend.acked)
}

func TestWorker_UnknownActionDeadLetters(t *testing.T) {
	raw := encodeT(t, NewEnvelope("mystery_action", map[string]interface{}{}))
	backend := &fakeBackend{claims: []string{raw}}

	w := newTestWorker(backend, &fakeLocker{available: true}, &fakeRecorder{}, map[string]Handler{})

	require.NoError(t, w.RunOnce(context.Background()))
	assert.Equal(t, []string{raw}, backend.dead)
}

func TestWorker_EmptyClaimIsNoop(t *testing.T) {
	backend := &fakeBackend{}
	recorder := &fakeRecorder{}

	w := newTestWorker(backend, &fakeLocker{available: true}, recorder, nil)

	require.NoError(t, w.RunOnce(context.Background()))
	assert.Empty(t, recorder.entries)
}

type closedGate struct{}

func (closedGate) Add() bool { return false }
func (closedGate) Done()     {}

func TestWorker_RunStopsWhenGateCloses(t *testing.T) {
	backend := &fakeBackend{}
	w := newTestWorker(backend, &fakeLocker{available: true}, &fakeRecorder{}, nil).
		WithGate(closedGate{})

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after gate closed")
	}
}
