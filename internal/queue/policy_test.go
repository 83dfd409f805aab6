package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicyRegistry_ForQueue(t *testing.T) {
	reg := NewPolicyRegistry()

	tests := []struct {
		name        string
		queue       string
		wantRetries int
	}{
		{name: "default_for_payment_initiation", queue: QueuePaymentInitiation, wantRetries: 5},
		{name: "default_for_unknown_queue", queue: "q:sub:something_new", wantRetries: 5},
		{name: "money_movement_for_trial_payment", queue: QueueTrialPayment, wantRetries: 3},
		{name: "money_movement_for_refunds", queue: QueueRefundInitiation, wantRetries: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := reg.ForQueue(tt.queue)
			assert.Equal(t, tt.wantRetries, p.MaxRetries)
		})
	}
}

func TestPolicy_Backoff_GrowsAndCaps(t *testing.T) {
	p := Policy{
		BaseDelay:         60 * time.Second,
		BackoffMultiplier: 2.0,
		MaxDelay:          time.Hour,
		Jitter:            0,
	}

	assert.Equal(t, 60*time.Second, p.Backoff(0))
	assert.Equal(t, 120*time.Second, p.Backoff(1))
	assert.Equal(t, 240*time.Second, p.Backoff(2))

	// 60s * 2^10 would be far past the cap.
	assert.Equal(t, time.Hour, p.Backoff(10))
}

func TestPolicy_Backoff_JitterBounds(t *testing.T) {
	p := Policy{
		BaseDelay:         10 * time.Second,
		BackoffMultiplier: 2.0,
		MaxDelay:          time.Hour,
		Jitter:            5 * time.Second,
	}

	for i := 0; i < 50; i++ {
		d := p.Backoff(1)
		assert.GreaterOrEqual(t, d, 20*time.Second)
		assert.Less(t, d, 25*time.Second)
	}
}
