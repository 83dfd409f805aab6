package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/billinglab/billing-backend/internal/domain"
	"github.com/billinglab/billing-backend/internal/domain/models"
	"github.com/billinglab/billing-backend/internal/domain/ports"
)

const subscriptionColumns = `id, user_id, plan_id, status, start_date, end_date, canceled_at, created_at, updated_at`

// SubscriptionRepository implements ports.SubscriptionRepository against PostgreSQL
type SubscriptionRepository struct {
	db ports.DBPort
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db ports.DBPort) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) q(tx ports.DBTX) ports.DBTX {
	if tx != nil {
		return tx
	}
	return r.db.GetDB()
}

// Create inserts a subscription.
func (r *SubscriptionRepository) Create(ctx context.Context, tx ports.DBTX, sub *models.Subscription) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	err := r.q(tx).QueryRow(ctx, `
		INSERT INTO subscriptions (id, user_id, plan_id, status, start_date, end_date)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		sub.ID, sub.UserID, sub.PlanID, string(sub.Status), sub.StartDate, sub.EndDate,
	).Scan(&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

// GetByID retrieves a subscription. Missing rows map to the domain not-found error.
func (r *SubscriptionRepository) GetByID(ctx context.Context, tx ports.DBTX, id uuid.UUID) (*models.Subscription, error) {
	row := r.q(tx).QueryRow(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	sub, err := scanSubscription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

// ListByUser returns all of the user's subscriptions, newest first.
func (r *SubscriptionRepository) ListByUser(ctx context.Context, tx ports.DBTX, userID int64) ([]*models.Subscription, error) {
	rows, err := r.q(tx).Query(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

// GetActiveByUser returns the user's access-granting subscription, or nil.
// A subscription grants access while active or in trial and its period has
// not lapsed.
func (r *SubscriptionRepository) GetActiveByUser(ctx context.Context, tx ports.DBTX, userID int64) (*models.Subscription, error) {
	row := r.q(tx).QueryRow(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE user_id = $1 AND status IN ('active', 'trial') AND end_date > now()
		ORDER BY created_at DESC LIMIT 1`, userID)
	sub, err := scanSubscription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active subscription: %w", err)
	}
	return sub, nil
}

// GetPendingByUser returns the user's pending subscription, or nil.
func (r *SubscriptionRepository) GetPendingByUser(ctx context.Context, tx ports.DBTX, userID int64) (*models.Subscription, error) {
	row := r.q(tx).QueryRow(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE user_id = $1 AND status = 'pending'
		ORDER BY created_at DESC LIMIT 1`, userID)
	sub, err := scanSubscription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending subscription: %w", err)
	}
	return sub, nil
}

// ListDueForRenewal returns access-granting subscriptions whose period ends
// at or before cutoff, oldest end date first.
func (r *SubscriptionRepository) ListDueForRenewal(ctx context.Context, tx ports.DBTX, cutoff time.Time, limit int32) ([]*models.Subscription, error) {
	rows, err := r.q(tx).Query(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status IN ('active', 'trial') AND end_date <= $1
		ORDER BY end_date LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list due for renewal: %w", err)
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

// UpdateStatus sets the subscription status.
func (r *SubscriptionRepository) UpdateStatus(ctx context.Context, tx ports.DBTX, id uuid.UUID, status models.SubscriptionStatus) error {
	tag, err := r.q(tx).Exec(ctx, `
		UPDATE subscriptions SET status = $2, updated_at = now() WHERE id = $1`,
		id, string(status))
	if err != nil {
		return fmt.Errorf("update subscription status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSubscriptionNotFound
	}
	return nil
}

// UpdatePlan moves the subscription to a different plan.
func (r *SubscriptionRepository) UpdatePlan(ctx context.Context, tx ports.DBTX, id uuid.UUID, planID int64) error {
	tag, err := r.q(tx).Exec(ctx, `
		UPDATE subscriptions SET plan_id = $2, updated_at = now() WHERE id = $1`,
		id, planID)
	if err != nil {
		return fmt.Errorf("update subscription plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSubscriptionNotFound
	}
	return nil
}

// UpdateEndDate sets a new billing period end.
func (r *SubscriptionRepository) UpdateEndDate(ctx context.Context, tx ports.DBTX, id uuid.UUID, endDate time.Time) error {
	tag, err := r.q(tx).Exec(ctx, `
		UPDATE subscriptions SET end_date = $2, updated_at = now() WHERE id = $1`,
		id, endDate)
	if err != nil {
		return fmt.Errorf("update subscription end date: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSubscriptionNotFound
	}
	return nil
}

// MarkCancelled sets the cancelled status and stamps the cancellation time.
func (r *SubscriptionRepository) MarkCancelled(ctx context.Context, tx ports.DBTX, id uuid.UUID, at time.Time) error {
	tag, err := r.q(tx).Exec(ctx, `
		UPDATE subscriptions SET status = 'cancelled', canceled_at = $2, updated_at = now()
		WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("cancel subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSubscriptionNotFound
	}
	return nil
}

// AppendEvent records one audit event.
func (r *SubscriptionRepository) AppendEvent(ctx context.Context, tx ports.DBTX, event *models.SubscriptionEvent) error {
	var metadata []byte
	if event.Metadata != nil {
		var err error
		metadata, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("marshal event metadata: %w", err)
		}
	} else {
		metadata = []byte("{}")
	}
	if event.EffectiveAt.IsZero() {
		event.EffectiveAt = time.Now().UTC()
	}
	err := r.q(tx).QueryRow(ctx, `
		INSERT INTO subscription_events
			(subscription_id, event_type, transaction_id, old_plan_id, new_plan_id, effective_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		event.SubscriptionID, event.EventType, event.TransactionID,
		event.OldPlanID, event.NewPlanID, event.EffectiveAt, metadata,
	).Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		return fmt.Errorf("append subscription event: %w", err)
	}
	return nil
}

// ListEvents returns the audit trail for a subscription, oldest first.
func (r *SubscriptionRepository) ListEvents(ctx context.Context, tx ports.DBTX, subscriptionID uuid.UUID) ([]*models.SubscriptionEvent, error) {
	rows, err := r.q(tx).Query(ctx, `
		SELECT id, subscription_id, event_type, transaction_id, old_plan_id, new_plan_id,
		       effective_at, metadata, created_at
		FROM subscription_events
		WHERE subscription_id = $1 ORDER BY created_at`, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("list subscription events: %w", err)
	}
	defer rows.Close()

	var events []*models.SubscriptionEvent
	for rows.Next() {
		var e models.SubscriptionEvent
		var metadata []byte
		if err := rows.Scan(&e.ID, &e.SubscriptionID, &e.EventType, &e.TransactionID,
			&e.OldPlanID, &e.NewPlanID, &e.EffectiveAt, &metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan subscription event: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal event metadata: %w", err)
			}
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

func scanSubscription(row pgx.Row) (*models.Subscription, error) {
	var s models.Subscription
	var status string
	if err := row.Scan(&s.ID, &s.UserID, &s.PlanID, &status, &s.StartDate, &s.EndDate,
		&s.CanceledAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Status = models.SubscriptionStatus(status)
	return &s, nil
}

func collectSubscriptions(rows pgx.Rows) ([]*models.Subscription, error) {
	var subs []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
