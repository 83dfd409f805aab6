package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/billinglab/billing-backend/internal/domain/models"
)

var meterNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func newStubMeter(reply interface{}, err error) (*Meter, *[][]interface{}) {
	calls := &[][]interface{}{}
	m := NewMeter(nil, zap.NewNop())
	m.now = func() time.Time { return meterNow }
	m.eval = func(ctx context.Context, keys []string, args ...interface{}) (interface{}, error) {
		call := append([]interface{}{keys[0]}, args...)
		*calls = append(*calls, call)
		return reply, err
	}
	return m, calls
}

func TestMeter_IncrementAllowed(t *testing.T) {
	m, calls := newStubMeter([]interface{}{int64(1), int64(5), int64(100)}, nil)

	d, err := m.Increment(context.Background(), 42, "api_calls", 1, 100)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(5), d.Count)
	assert.Equal(t, int64(100), d.Limit)
	assert.Equal(t, models.NextMonthlyReset(meterNow), d.ResetAt)

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	assert.Equal(t, "usage:42:api_calls", call[0])
	assert.Equal(t, meterNow.Unix(), call[1])
	assert.Equal(t, int64(1), call[2])
	assert.Equal(t, int64(100), call[3])
	assert.Equal(t, models.NextMonthlyReset(meterNow).Unix(), call[4])
}

func TestMeter_IncrementDenied(t *testing.T) {
	m, _ := newStubMeter([]interface{}{int64(0), int64(100), int64(100)}, nil)

	d, err := m.Increment(context.Background(), 42, "api_calls", 1, 100)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	// Denials report the untouched counter.
	assert.Equal(t, int64(100), d.Count)
}

func TestMeter_IncrementRedisErrorPropagates(t *testing.T) {
	m, _ := newStubMeter(nil, errors.New("connection refused"))

	_, err := m.Increment(context.Background(), 42, "api_calls", 1, 100)
	require.Error(t, err)
}

func TestMeter_IncrementMalformedReply(t *testing.T) {
	m, _ := newStubMeter([]interface{}{int64(1)}, nil)

	_, err := m.Increment(context.Background(), 42, "api_calls", 1, 100)
	require.Error(t, err)
}

func TestNextMonthlyReset(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want time.Time
	}{
		{
			name: "mid_month",
			at:   time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC),
			want: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "year_rollover",
			at:   time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC),
			want: time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "first_instant_of_month",
			at:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			want: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, models.NextMonthlyReset(tt.at))
		})
	}
}
