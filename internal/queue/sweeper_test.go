package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/billinglab/billing-backend/internal/domain/models"
)

type sweepBackend struct {
	fakeBackend
	processing map[string][]string
}

func (b *sweepBackend) ListProcessing(ctx context.Context, queue string) ([]string, error) {
	return b.processing[queue], nil
}

type fakeInspector struct {
	held map[string]bool
}

func (f *fakeInspector) Held(ctx context.Context, queue, messageID string) (bool, error) {
	return f.held[messageID], nil
}

func newTestSweeper(backend *sweepBackend, locks *fakeInspector, recorder *fakeRecorder) *Sweeper {
	return NewSweeper(backend, locks, NewPolicyRegistry(),
		[]string{"q:sub:payment_initiation"}, time.Minute, recorder, zap.NewNop())
}

func TestSweeper_ReschedulesOrphan(t *testing.T) {
	env := NewEnvelope("payment_initiation", map[string]interface{}{"amount": "9.99"})
	raw := encodeT(t, env)
	backend := &sweepBackend{processing: map[string][]string{
		"q:sub:payment_initiation": {raw},
	}}
	recorder := &fakeRecorder{}

	s := newTestSweeper(backend, &fakeInspector{}, recorder)
	s.SweepOnce(context.Background())

	assert.Equal(t, []string{raw}, backend.removed)
	require.Len(t, backend.delayed, 1)
	assert.Empty(t, backend.dead)

	redelivered, err := Decode(backend.delayed[0])
	require.NoError(t, err)
	assert.Equal(t, 1, redelivered.Attempts)
	assert.Equal(t, env.ID, redelivered.ID)

	require.Len(t, recorder.entries, 1)
	assert.Equal(t, models.JobStatusRetry, recorder.entries[0].Status)
	assert.Equal(t, "orphaned in processing", recorder.entries[0].LastError)
	require.NotNil(t, recorder.entries[0].NextRetryAt)
}

func TestSweeper_SkipsHeldLock(t *testing.T) {
	env := NewEnvelope("payment_initiation", map[string]interface{}{"amount": "9.99"})
	raw := encodeT(t, env)
	backend := &sweepBackend{processing: map[string][]string{
		"q:sub:payment_initiation": {raw},
	}}
	locks := &fakeInspector{held: map[string]bool{env.ID: true}}

	s := newTestSweeper(backend, locks, &fakeRecorder{})
	s.SweepOnce(context.Background())

	assert.Empty(t, backend.removed)
	assert.Empty(t, backend.delayed)
	assert.Empty(t, backend.dead)
}

func TestSweeper_DeadLettersExhaustedOrphan(t *testing.T) {
	env := NewEnvelope("payment_initiation", map[string]interface{}{"amount": "9.99"})
	env.Attempts = 5
	raw := encodeT(t, env)
	backend := &sweepBackend{processing: map[string][]string{
		"q:sub:payment_initiation": {raw},
	}}
	recorder := &fakeRecorder{}

	s := newTestSweeper(backend, &fakeInspector{}, recorder)
	s.SweepOnce(context.Background())

	assert.Equal(t, []string{raw}, backend.removed)
	assert.Equal(t, []string{raw}, backend.dead)
	assert.Empty(t, backend.delayed)
	require.Len(t, recorder.entries, 1)
	assert.Equal(t, models.JobStatusDead, recorder.entries[0].Status)
	assert.Equal(t, 6, recorder.entries[0].Attempts)
}

func TestSweeper_DeadLettersUnparseableEntry(t *testing.T) {
	backend := &sweepBackend{processing: map[string][]string{
		"q:sub:payment_initiation": {"corrupt {"},
	}}

	s := newTestSweeper(backend, &fakeInspector{}, &fakeRecorder{})
	s.SweepOnce(context.Background())

	assert.Equal(t, []string{"corrupt {"}, backend.removed)
	assert.Equal(t, []string{"corrupt {"}, backend.dead)
}
