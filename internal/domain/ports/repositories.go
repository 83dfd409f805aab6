package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/billinglab/billing-backend/internal/domain/models"
)

// UserRepository persists users.
type UserRepository interface {
	Create(ctx context.Context, tx DBTX, user *models.User) error
	GetByID(ctx context.Context, tx DBTX, id int64) (*models.User, error)
	GetByEmail(ctx context.Context, tx DBTX, email string) (*models.User, error)
}

// PlanRepository persists plans.
type PlanRepository interface {
	Create(ctx context.Context, tx DBTX, plan *models.Plan) error
	GetByID(ctx context.Context, tx DBTX, id int64) (*models.Plan, error)
	ListActive(ctx context.Context, tx DBTX) ([]*models.Plan, error)
}

// SubscriptionRepository persists subscriptions and their audit events.
type SubscriptionRepository interface {
	Create(ctx context.Context, tx DBTX, sub *models.Subscription) error
	GetByID(ctx context.Context, tx DBTX, id uuid.UUID) (*models.Subscription, error)
	ListByUser(ctx context.Context, tx DBTX, userID int64) ([]*models.Subscription, error)
	// GetActiveByUser returns the user's active or trial subscription whose
	// period has not lapsed, or nil.
	GetActiveByUser(ctx context.Context, tx DBTX, userID int64) (*models.Subscription, error)
	// GetPendingByUser returns the user's pending subscription, or nil.
	GetPendingByUser(ctx context.Context, tx DBTX, userID int64) (*models.Subscription, error)
	// ListDueForRenewal returns active and trial subscriptions whose period
	// ends at or before cutoff, oldest end date first.
	ListDueForRenewal(ctx context.Context, tx DBTX, cutoff time.Time, limit int32) ([]*models.Subscription, error)
	UpdateStatus(ctx context.Context, tx DBTX, id uuid.UUID, status models.SubscriptionStatus) error
	UpdatePlan(ctx context.Context, tx DBTX, id uuid.UUID, planID int64) error
	UpdateEndDate(ctx context.Context, tx DBTX, id uuid.UUID, endDate time.Time) error
	MarkCancelled(ctx context.Context, tx DBTX, id uuid.UUID, at time.Time) error

	AppendEvent(ctx context.Context, tx DBTX, event *models.SubscriptionEvent) error
	ListEvents(ctx context.Context, tx DBTX, subscriptionID uuid.UUID) ([]*models.SubscriptionEvent, error)
}

// TransactionRepository persists payment transactions.
type TransactionRepository interface {
	Create(ctx context.Context, tx DBTX, txn *models.Transaction) error
	GetByID(ctx context.Context, tx DBTX, id uuid.UUID) (*models.Transaction, error)
	ListBySubscription(ctx context.Context, tx DBTX, subscriptionID uuid.UUID) ([]*models.Transaction, error)
	// UpdateStatus sets the status plus gateway reference and error message.
	// Implementations refuse to overwrite a terminal status with another
	// terminal status.
	UpdateStatus(ctx context.Context, tx DBTX, id uuid.UUID, status models.TransactionStatus, gatewayRef, errorMessage string) error
}

// UsageRepository persists the durable mirror of usage counters.
type UsageRepository interface {
	// Upsert sets the counter for (userID, feature) to count with the given
	// reset time, inserting the row on first use.
	Upsert(ctx context.Context, tx DBTX, userID int64, feature string, count int64, resetAt time.Time) error
	GetByUserFeature(ctx context.Context, tx DBTX, userID int64, feature string) (*models.UserUsage, error)
	ListByUser(ctx context.Context, tx DBTX, userID int64) ([]*models.UserUsage, error)
	Reset(ctx context.Context, tx DBTX, userID int64, feature string) error
	ResetAll(ctx context.Context, tx DBTX, userID int64) (int64, error)
}

// WebhookInboxRepository persists inbound webhook records on the subscription side.
type WebhookInboxRepository interface {
	Create(ctx context.Context, tx DBTX, eventID string, payload map[string]interface{}) error
	GetByEventID(ctx context.Context, tx DBTX, eventID string) (*models.WebhookInbox, error)
	UpdatePayload(ctx context.Context, tx DBTX, eventID string, payload map[string]interface{}) error
	MarkProcessed(ctx context.Context, tx DBTX, eventID string, at time.Time) error
	RecordFailure(ctx context.Context, tx DBTX, eventID string, errorMessage string) error
}

// OutboundWebhookRepository persists payment-side delivery records.
type OutboundWebhookRepository interface {
	Create(ctx context.Context, tx DBTX, record *models.OutboundWebhook) error
	MarkCompleted(ctx context.Context, tx DBTX, eventID string, responseCode int, at time.Time) error
	RecordAttempt(ctx context.Context, tx DBTX, eventID string, responseCode int, lastError string) error
}

// JobLogRepository appends durable job lifecycle rows. Writes are best-effort.
type JobLogRepository interface {
	Append(ctx context.Context, tx DBTX, entry *models.JobLog) error
	ListByMessageID(ctx context.Context, tx DBTX, messageID string) ([]*models.JobLog, error)
}
