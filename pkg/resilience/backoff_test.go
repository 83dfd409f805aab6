package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialBackoff_GrowsAndCaps(t *testing.T) {
	eb := &ExponentialBackoff{
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
	}

	tests := []struct {
		name    string
		attempt int
		want    time.Duration
	}{
		{name: "first_attempt", attempt: 0, want: 1 * time.Second},
		{name: "second_attempt", attempt: 1, want: 2 * time.Second},
		{name: "fifth_attempt", attempt: 4, want: 16 * time.Second},
		{name: "capped_at_max", attempt: 10, want: 30 * time.Second},
		{name: "negative_attempt_uses_base", attempt: -1, want: 1 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, eb.NextDelay(tt.attempt))
		})
	}
}

func TestExponentialBackoff_JitterStaysInBand(t *testing.T) {
	eb := WebhookBackoff()

	for i := 0; i < 100; i++ {
		d := eb.NextDelay(2)
		// 4s nominal, ±10% jitter.
		assert.GreaterOrEqual(t, d, 3600*time.Millisecond)
		assert.LessOrEqual(t, d, 4400*time.Millisecond)
	}
}

func TestFixedBackoff(t *testing.T) {
	fb := &FixedBackoff{Delay: 5 * time.Millisecond}
	for _, attempt := range []int{0, 3, 99} {
		assert.Equal(t, 5*time.Millisecond, fb.NextDelay(attempt))
	}
}
