package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/billinglab/billing-backend/internal/domain"
	"github.com/billinglab/billing-backend/internal/domain/models"
	"github.com/billinglab/billing-backend/internal/domain/ports"
	"github.com/billinglab/billing-backend/internal/queue"
)

// CardDetails is pass-through payment instrument data. It is forwarded to
// the payment service and never persisted here.
type CardDetails struct {
	Number         string `json:"number"`
	Expiry         string `json:"expiry"`
	CVV            string `json:"cvv"`
	CardholderName string `json:"name"`
}

// CreateRequest is the input to Create.
type CreateRequest struct {
	UserID int64
	PlanID int64
	Card   CardDetails
}

// Service owns the subscription lifecycle on the subscription side: creation,
// cancellation, plan changes, and applying payment outcomes.
type Service struct {
	db        ports.DBPort
	plans     ports.PlanRepository
	subs      ports.SubscriptionRepository
	inbox     ports.WebhookInboxRepository
	publisher queue.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates a new subscription service
func NewService(
	db ports.DBPort,
	plans ports.PlanRepository,
	subs ports.SubscriptionRepository,
	inbox ports.WebhookInboxRepository,
	publisher queue.Publisher,
	logger *zap.Logger,
) *Service {
	return &Service{
		db:        db,
		plans:     plans,
		subs:      subs,
		inbox:     inbox,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Create provisions a pending subscription and enqueues the first charge.
// The subscription grants no access until a payment outcome arrives; trial
// plans run a full charge that the payment side refunds immediately after.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Subscription, error) {
	plan, err := s.plans.GetByID(ctx, nil, req.PlanID)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		return nil, domain.ErrPlanInactive
	}

	now := s.now().UTC()
	sub := &models.Subscription{
		ID:        uuid.New(),
		UserID:    req.UserID,
		PlanID:    plan.ID,
		Status:    models.SubStatusPending,
		StartDate: now,
		EndDate:   now.Add(plan.BillingCycle.PeriodDuration()),
	}

	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if existing, err := s.subs.GetActiveByUser(ctx, tx, req.UserID); err != nil {
			return err
		} else if existing != nil {
			return domain.ErrSubscriptionAlreadyExists
		}
		if existing, err := s.subs.GetPendingByUser(ctx, tx, req.UserID); err != nil {
			return err
		} else if existing != nil {
			return domain.ErrSubscriptionAlreadyExists
		}
		if err := s.subs.Create(ctx, tx, sub); err != nil {
			return err
		}
		return s.subs.AppendEvent(ctx, tx, &models.SubscriptionEvent{
			SubscriptionID: sub.ID,
			EventType:      models.EventCreated,
			NewPlanID:      &plan.ID,
			EffectiveAt:    now,
		})
	})
	if err != nil {
		return nil, err
	}

	targetQueue := queue.QueuePaymentInitiation
	if plan.IsTrialPlan() {
		targetQueue = queue.QueueTrialPayment
	}
	env := queue.NewEnvelope("payment_initiation", map[string]interface{}{
		"subscription_id": sub.ID.String(),
		"user_id":         req.UserID,
		"plan_id":         plan.ID,
		"amount":          plan.Price.String(),
		"currency":        plan.Currency,
		"trial":           plan.IsTrialPlan(),
		"card": map[string]interface{}{
			"number": req.Card.Number,
			"expiry": req.Card.Expiry,
			"cvv":    req.Card.CVV,
			"name":   req.Card.CardholderName,
		},
	}).WithCorrelation(sub.ID.String())

	if err := s.publisher.Publish(ctx, targetQueue, env); err != nil {
		// The subscription exists but no charge is in flight. Leave it
		// pending; a create retry by the user will fail on the pending
		// guard, so surface the enqueue failure loudly.
		s.logger.Error("payment initiation enqueue failed",
			zap.String("subscription_id", sub.ID.String()), zap.Error(err))
		return nil, domain.Retryable(err)
	}

	s.logger.Info("subscription created",
		zap.String("subscription_id", sub.ID.String()),
		zap.Int64("user_id", req.UserID),
		zap.Int64("plan_id", plan.ID),
		zap.Bool("trial", plan.IsTrialPlan()))
	return sub, nil
}

// Get returns a subscription owned by the user.
func (s *Service) Get(ctx context.Context, userID int64, id uuid.UUID) (*models.Subscription, error) {
	sub, err := s.subs.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if sub.UserID != userID {
		return nil, domain.ErrSubscriptionNotFound
	}
	return sub, nil
}

// ListByUser returns all the user's subscriptions.
func (s *Service) ListByUser(ctx context.Context, userID int64) ([]*models.Subscription, error) {
	return s.subs.ListByUser(ctx, nil, userID)
}

// ListEvents returns the audit trail for a subscription the user owns.
func (s *Service) ListEvents(ctx context.Context, userID int64, id uuid.UUID) ([]*models.SubscriptionEvent, error) {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.subs.ListEvents(ctx, nil, id)
}

// Cancel marks the subscription cancelled. Access continues until the paid
// period lapses; no refund is issued.
func (s *Service) Cancel(ctx context.Context, userID int64, id uuid.UUID) error {
	now := s.now().UTC()
	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		sub, err := s.subs.GetByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if sub.UserID != userID {
			return domain.ErrSubscriptionNotFound
		}
		if sub.Status.IsTerminal() {
			return domain.ErrSubscriptionNotActive
		}
		if err := s.subs.MarkCancelled(ctx, tx, id, now); err != nil {
			return err
		}
		return s.subs.AppendEvent(ctx, tx, &models.SubscriptionEvent{
			SubscriptionID: id,
			EventType:      models.EventCancelled,
			EffectiveAt:    now,
		})
	})
	if err != nil {
		return err
	}
	s.logger.Info("subscription cancelled",
		zap.String("subscription_id", id.String()), zap.Int64("user_id", userID))
	return nil
}

// RequestPlanChange validates and enqueues a plan change. The change applies
// asynchronously; billing at the new price starts with the next renewal.
func (s *Service) RequestPlanChange(ctx context.Context, userID int64, id uuid.UUID, newPlanID int64) error {
	sub, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if sub.Status != models.SubStatusActive && sub.Status != models.SubStatusTrial {
		return domain.ErrSubscriptionNotActive
	}
	if sub.PlanID == newPlanID {
		return domain.NewDomainError(domain.ErrorCodeValidationFailed, "already on requested plan")
	}
	plan, err := s.plans.GetByID(ctx, nil, newPlanID)
	if err != nil {
		return err
	}
	if !plan.IsActive {
		return domain.ErrPlanInactive
	}

	env := queue.NewEnvelope("plan_change", map[string]interface{}{
		"subscription_id": id.String(),
		"user_id":         userID,
		"new_plan_id":     newPlanID,
	}).WithCorrelation(id.String())
	if err := s.publisher.Publish(ctx, queue.QueuePlanChange, env); err != nil {
		return domain.Retryable(err)
	}
	s.logger.Info("plan change requested",
		zap.String("subscription_id", id.String()),
		zap.Int64("new_plan_id", newPlanID))
	return nil
}

// ApplyPlanChange performs the enqueued plan change: swap the plan, record
// the audit event. Idempotent: a replay sees the plan already swapped and
// only records that nothing changed.
func (s *Service) ApplyPlanChange(ctx context.Context, id uuid.UUID, newPlanID int64) error {
	now := s.now().UTC()
	return s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		sub, err := s.subs.GetByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if sub.PlanID == newPlanID {
			return nil
		}
		if sub.Status.IsTerminal() {
			return domain.ErrSubscriptionNotActive
		}
		if _, err := s.plans.GetByID(ctx, tx, newPlanID); err != nil {
			return err
		}
		oldPlanID := sub.PlanID
		if err := s.subs.UpdatePlan(ctx, tx, id, newPlanID); err != nil {
			return err
		}
		return s.subs.AppendEvent(ctx, tx, &models.SubscriptionEvent{
			SubscriptionID: id,
			EventType:      models.EventPlanChanged,
			OldPlanID:      &oldPlanID,
			NewPlanID:      &newPlanID,
			EffectiveAt:    now,
		})
	})
}
