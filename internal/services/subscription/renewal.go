package subscription

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/billinglab/billing-backend/internal/domain/models"
	"github.com/billinglab/billing-backend/internal/queue"
)

const renewalBatchSize = 100

// EnqueueDueRenewals finds subscriptions whose period has lapsed, parks the
// active ones in past_due, and enqueues a renewal charge for each. Trial
// subscriptions renew at their conversion price. Renewal charges use the
// instrument on file; no card data rides in the message. Returns the number
// of renewals enqueued.
func (s *Service) EnqueueDueRenewals(ctx context.Context) (int, error) {
	now := s.now().UTC()

	var due []*models.Subscription
	err := s.db.WithReadOnlyTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		due, err = s.subs.ListDueForRenewal(ctx, tx, now, renewalBatchSize)
		return err
	})
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, sub := range due {
		if err := s.enqueueRenewal(ctx, sub, now); err != nil {
			s.logger.Error("renewal enqueue failed",
				zap.String("subscription_id", sub.ID.String()), zap.Error(err))
			continue
		}
		enqueued++
	}
	if enqueued > 0 {
		s.logger.Info("renewals enqueued", zap.Int("count", enqueued))
	}
	return enqueued, nil
}

func (s *Service) enqueueRenewal(ctx context.Context, sub *models.Subscription, now time.Time) error {
	plan, err := s.plans.GetByID(ctx, nil, sub.PlanID)
	if err != nil {
		return err
	}

	// Price the renewal at the conversion plan for trials that have one.
	amount := plan.Price
	currency := plan.Currency
	if plan.IsTrialPlan() {
		if renewalID := plan.RenewalPlanID(); renewalID != 0 {
			renewalPlan, err := s.plans.GetByID(ctx, nil, renewalID)
			if err != nil {
				return err
			}
			amount = renewalPlan.Price
			currency = renewalPlan.Currency
		}
	}

	// Park the subscription in past_due before enqueueing so the next scan
	// does not pick it up again. Access is already gone: the period lapsed.
	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return s.subs.UpdateStatus(ctx, tx, sub.ID, models.SubStatusPastDue)
	})
	if err != nil {
		return err
	}

	env := queue.NewEnvelope("payment_initiation", map[string]interface{}{
		"subscription_id": sub.ID.String(),
		"user_id":         sub.UserID,
		"plan_id":         sub.PlanID,
		"amount":          amount.String(),
		"currency":        currency,
		"renewal":         true,
	}).WithCorrelation(sub.ID.String()).
		WithIdempotencyKey("renewal_" + sub.ID.String() + "_" + sub.EndDate.UTC().Format("20060102"))

	return s.publisher.Publish(ctx, queue.QueuePaymentInitiation, env)
}

// RunRenewalLoop scans for due renewals on the given interval until the
// context is cancelled.
func (s *Service) RunRenewalLoop(ctx context.Context, interval time.Duration) {
	s.logger.Info("renewal scheduler started", zap.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("renewal scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.EnqueueDueRenewals(ctx); err != nil {
				s.logger.Error("renewal scan failed", zap.Error(err))
			}
		}
	}
}
