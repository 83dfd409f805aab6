package queue

import (
	"math"
	"math/rand"
	"time"
)

// Logical queue names. The sub/pay segment marks the owning service.
const (
	QueuePaymentInitiation  = "q:sub:payment_initiation"
	QueueTrialPayment       = "q:sub:trial_payment"
	QueuePlanChange         = "q:sub:plan_change"
	QueueUsageSync          = "q:sub:usage_sync"
	QueueSubscriptionUpdate = "q:pay:subscription_update"
	QueueRefundInitiation   = "q:pay:refund_initiation"
)

// SubscriptionQueues are the queues consumed by the subscription service.
func SubscriptionQueues() []string {
	return []string{QueuePaymentInitiation, QueueTrialPayment, QueuePlanChange, QueueUsageSync}
}

// PaymentQueues are the queues consumed by the payment service.
func PaymentQueues() []string {
	return []string{QueueSubscriptionUpdate, QueueRefundInitiation}
}

// Policy fixes the retry and lease behavior for one queue.
type Policy struct {
	MaxRetries        int
	BaseDelay         time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration
	Jitter            time.Duration
	LockTTL           time.Duration
	VisibilityTimeout time.Duration
}

// DefaultPolicy applies to any queue without an explicit override.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:        5,
		BaseDelay:         60 * time.Second,
		BackoffMultiplier: 2.0,
		MaxDelay:          time.Hour,
		Jitter:            10 * time.Second,
		LockTTL:           3 * time.Minute,
		VisibilityTimeout: 5 * time.Minute,
	}
}

// moneyMovementPolicy retries fewer times with a tighter cap. Queues whose
// actions move money prefer failing fast into the dead-letter list over long
// automatic retry tails.
func moneyMovementPolicy() Policy {
	return Policy{
		MaxRetries:        3,
		BaseDelay:         60 * time.Second,
		BackoffMultiplier: 2.0,
		MaxDelay:          10 * time.Minute,
		Jitter:            5 * time.Second,
		LockTTL:           2 * time.Minute,
		VisibilityTimeout: 4 * time.Minute,
	}
}

// PolicyRegistry resolves the retry policy for a queue name.
type PolicyRegistry struct {
	overrides map[string]Policy
	fallback  Policy
}

// NewPolicyRegistry builds the standard registry.
func NewPolicyRegistry() *PolicyRegistry {
	return &PolicyRegistry{
		overrides: map[string]Policy{
			QueueTrialPayment:     moneyMovementPolicy(),
			QueueRefundInitiation: moneyMovementPolicy(),
		},
		fallback: DefaultPolicy(),
	}
}

// ForQueue returns the policy for the named queue.
func (r *PolicyRegistry) ForQueue(queue string) Policy {
	if p, ok := r.overrides[queue]; ok {
		return p
	}
	return r.fallback
}

// Backoff computes the delay before the attempts-th retry: exponential in the
// attempt count, capped, plus uniform jitter to spread thundering herds.
func (p Policy) Backoff(attempts int) time.Duration {
	base := float64(p.BaseDelay) * math.Pow(p.BackoffMultiplier, float64(attempts))
	if capped := float64(p.MaxDelay); base > capped {
		base = capped
	}
	delay := time.Duration(base)
	if p.Jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(p.Jitter)))
	}
	return delay
}
