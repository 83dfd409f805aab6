// Package resilience holds retry primitives shared by the outbound
// HTTP paths. Queue redelivery has its own schedule in internal/queue.
package resilience

import (
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy yields the delay before retry attempt n (0-indexed).
type BackoffStrategy interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff grows the delay geometrically and adds jitter so
// concurrent senders do not retry in lockstep.
type ExponentialBackoff struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     float64 // fraction of the delay, 0.1 means ±10%
}

// WebhookBackoff is the delivery retry schedule: roughly 1s, 2s, 4s,
// 8s, 16s, then capped at 30s.
func WebhookBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		return eb.BaseDelay
	}

	delay := float64(eb.BaseDelay) * math.Pow(eb.Multiplier, float64(attempt))
	if delay > float64(eb.MaxDelay) {
		delay = float64(eb.MaxDelay)
	}

	jitter := (rand.Float64()*2 - 1) * delay * eb.Jitter
	next := time.Duration(delay + jitter)
	if next < 0 {
		next = eb.BaseDelay
	}
	return next
}

// FixedBackoff always waits the same delay. Tests use it to avoid
// exponential sleeps.
type FixedBackoff struct {
	Delay time.Duration
}

func (fb *FixedBackoff) NextDelay(int) time.Duration { return fb.Delay }
