package models

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus represents the current state of a subscription
type SubscriptionStatus string

const (
	SubStatusPending   SubscriptionStatus = "pending"
	SubStatusActive    SubscriptionStatus = "active"
	SubStatusTrial     SubscriptionStatus = "trial"
	SubStatusPastDue   SubscriptionStatus = "past_due"
	SubStatusCancelled SubscriptionStatus = "cancelled"
	SubStatusRevoked   SubscriptionStatus = "revoked"
)

// IsTerminal reports whether no further payment events may change the status.
func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubStatusCancelled || s == SubStatusRevoked
}

// Subscription binds a user to a plan over a billing period.
// References are by id; relations are resolved where needed.
type Subscription struct {
	ID         uuid.UUID
	UserID     int64
	PlanID     int64
	Status     SubscriptionStatus
	StartDate  time.Time
	EndDate    time.Time
	CanceledAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsActive reports whether the subscription currently grants access.
func (s *Subscription) IsActive(now time.Time) bool {
	return (s.Status == SubStatusActive || s.Status == SubStatusTrial) && s.EndDate.After(now)
}

// IsExpired reports whether the billing period has lapsed.
func (s *Subscription) IsExpired(now time.Time) bool {
	return !s.EndDate.After(now)
}

// DaysRemaining returns whole days left in the current billing period.
func (s *Subscription) DaysRemaining(now time.Time) int {
	if s.IsExpired(now) {
		return 0
	}
	d := int(s.EndDate.Sub(now).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

// SubscriptionEvent is an append-only audit record of a subscription state change.
type SubscriptionEvent struct {
	ID             int64
	SubscriptionID uuid.UUID
	EventType      string
	TransactionID  *uuid.UUID
	OldPlanID      *int64
	NewPlanID      *int64
	EffectiveAt    time.Time
	Metadata       map[string]interface{}
	CreatedAt      time.Time
}

// Subscription event types
const (
	EventCreated        = "created"
	EventTrialStarted   = "trial_started"
	EventPaymentSuccess = "payment_success"
	EventPaymentFailed  = "payment_failed"
	EventRenewed        = "renewed"
	EventCancelled      = "cancelled"
	EventPlanChanged    = "plan_changed"
)
