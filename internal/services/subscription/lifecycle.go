package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/billinglab/billing-backend/internal/domain"
	"github.com/billinglab/billing-backend/internal/domain/models"
	"github.com/billinglab/billing-backend/pkg/observability"
)

// paymentOutcome is the parsed payment webhook payload.
type paymentOutcome struct {
	EventID        string
	SubscriptionID uuid.UUID
	TransactionID  *uuid.UUID
	Succeeded      bool
	Renewal        bool
}

func parsePaymentOutcome(eventID string, payload map[string]interface{}) (*paymentOutcome, error) {
	out := &paymentOutcome{EventID: eventID}

	rawSub, ok := payload["subscription_id"].(string)
	if !ok || rawSub == "" {
		return nil, domain.ErrValidationMissingField.WithDetail("field", "subscription_id")
	}
	subID, err := uuid.Parse(rawSub)
	if err != nil {
		return nil, domain.ErrValidationFailed.WithDetail("field", "subscription_id")
	}
	out.SubscriptionID = subID

	status, ok := payload["status"].(string)
	if !ok || (status != "success" && status != "failed") {
		return nil, domain.ErrValidationFailed.WithDetail("field", "status")
	}
	out.Succeeded = status == "success"

	if rawTxn, ok := payload["transaction_id"].(string); ok && rawTxn != "" {
		txnID, err := uuid.Parse(rawTxn)
		if err != nil {
			return nil, domain.ErrValidationFailed.WithDetail("field", "transaction_id")
		}
		out.TransactionID = &txnID
	}
	if renewal, ok := payload["renewal"].(bool); ok {
		out.Renewal = renewal
	}
	return out, nil
}

// ProcessPaymentEvent applies one payment outcome exactly once. Every event
// lands in the inbox first; the unique event id is the dedup point, so the
// queue-delivered copy and the direct HTTP copy of the same event collapse
// into a single state transition.
func (s *Service) ProcessPaymentEvent(ctx context.Context, eventID string, payload map[string]interface{}) error {
	if eventID == "" {
		return domain.ErrValidationMissingField.WithDetail("field", "event_id")
	}

	if err := s.inbox.Create(ctx, nil, eventID, payload); err != nil {
		if !domain.IsDuplicateEvent(err) {
			return domain.Retryable(err)
		}
		record, gerr := s.inbox.GetByEventID(ctx, nil, eventID)
		if gerr != nil {
			return domain.Retryable(gerr)
		}
		if record != nil && record.Processed {
			s.logger.Info("payment event already processed", zap.String("event_id", eventID))
			return nil
		}
		// A prior attempt stored the event but failed to apply it. Keep
		// the freshest payload and run the transition again.
		if uerr := s.inbox.UpdatePayload(ctx, nil, eventID, payload); uerr != nil {
			return domain.Retryable(uerr)
		}
	}

	outcome, err := parsePaymentOutcome(eventID, payload)
	if err != nil {
		_ = s.inbox.RecordFailure(ctx, nil, eventID, err.Error())
		return err
	}

	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := s.applyOutcome(ctx, tx, outcome); err != nil {
			return err
		}
		return s.inbox.MarkProcessed(ctx, tx, eventID, s.now().UTC())
	})
	if err != nil {
		_ = s.inbox.RecordFailure(ctx, nil, eventID, err.Error())
		if domain.IsValidationError(err) || domain.IsFatalInvariant(err) || domain.IsNotFoundError(err) {
			return err
		}
		return domain.Retryable(err)
	}

	s.logger.Info("payment event applied",
		zap.String("event_id", eventID),
		zap.String("subscription_id", outcome.SubscriptionID.String()),
		zap.Bool("succeeded", outcome.Succeeded))
	return nil
}

// applyOutcome runs the status transition table for one payment outcome.
// Terminal subscriptions record the event without changing state.
func (s *Service) applyOutcome(ctx context.Context, tx pgx.Tx, outcome *paymentOutcome) error {
	sub, err := s.subs.GetByID(ctx, tx, outcome.SubscriptionID)
	if err != nil {
		return err
	}
	plan, err := s.plans.GetByID(ctx, tx, sub.PlanID)
	if err != nil {
		return err
	}
	now := s.now().UTC()

	event := &models.SubscriptionEvent{
		SubscriptionID: sub.ID,
		TransactionID:  outcome.TransactionID,
		EffectiveAt:    now,
		Metadata:       map[string]interface{}{"event_id": outcome.EventID},
	}

	if sub.Status.IsTerminal() {
		event.EventType = models.EventPaymentSuccess
		if !outcome.Succeeded {
			event.EventType = models.EventPaymentFailed
		}
		event.Metadata["terminal_status"] = string(sub.Status)
		return s.appendEvent(ctx, tx, event)
	}

	if outcome.Succeeded {
		return s.applySuccess(ctx, tx, sub, plan, outcome, event, now)
	}
	return s.applyFailure(ctx, tx, sub, event)
}

func (s *Service) applySuccess(ctx context.Context, tx pgx.Tx, sub *models.Subscription, plan *models.Plan, outcome *paymentOutcome, event *models.SubscriptionEvent, now time.Time) error {
	switch sub.Status {
	case models.SubStatusPending:
		if plan.IsTrialPlan() {
			trialEnd := now.AddDate(0, 0, plan.TrialPeriodDays())
			if err := s.transition(ctx, tx, sub, models.SubStatusTrial, trialEnd); err != nil {
				return err
			}
			event.EventType = models.EventTrialStarted
			return s.appendEvent(ctx, tx, event)
		}
		if err := s.transition(ctx, tx, sub, models.SubStatusActive, now.Add(plan.BillingCycle.PeriodDuration())); err != nil {
			return err
		}
		event.EventType = models.EventPaymentSuccess
		return s.appendEvent(ctx, tx, event)

	case models.SubStatusPastDue:
		// A lapsed trial recovering through a renewal charge converts the
		// same way a live trial does.
		if plan.IsTrialPlan() && outcome.Renewal {
			return s.convertTrial(ctx, tx, sub, plan, event, now)
		}
		if err := s.transition(ctx, tx, sub, models.SubStatusActive, now.Add(plan.BillingCycle.PeriodDuration())); err != nil {
			return err
		}
		event.EventType = models.EventPaymentSuccess
		return s.appendEvent(ctx, tx, event)

	case models.SubStatusActive:
		if err := s.subs.UpdateEndDate(ctx, tx, sub.ID, sub.EndDate.Add(plan.BillingCycle.PeriodDuration())); err != nil {
			return err
		}
		event.EventType = models.EventRenewed
		return s.appendEvent(ctx, tx, event)

	case models.SubStatusTrial:
		if outcome.Renewal {
			return s.convertTrial(ctx, tx, sub, plan, event, now)
		}
		event.EventType = models.EventPaymentSuccess
		return s.appendEvent(ctx, tx, event)

	default:
		return domain.FatalInvariant(fmt.Errorf("unhandled subscription status %q", sub.Status))
	}
}

// convertTrial moves a renewing trial onto its configured renewal plan, or
// extends the trial plan's own cycle when none is configured.
func (s *Service) convertTrial(ctx context.Context, tx pgx.Tx, sub *models.Subscription, plan *models.Plan, event *models.SubscriptionEvent, now time.Time) error {
	renewalID := plan.RenewalPlanID()
	if renewalID == 0 {
		if err := s.transition(ctx, tx, sub, models.SubStatusActive, now.Add(plan.BillingCycle.PeriodDuration())); err != nil {
			return err
		}
		event.EventType = models.EventRenewed
		return s.appendEvent(ctx, tx, event)
	}

	renewalPlan, err := s.plans.GetByID(ctx, tx, renewalID)
	if err != nil {
		return err
	}
	if err := s.subs.UpdatePlan(ctx, tx, sub.ID, renewalPlan.ID); err != nil {
		return err
	}
	if err := s.transition(ctx, tx, sub, models.SubStatusActive, now.Add(renewalPlan.BillingCycle.PeriodDuration())); err != nil {
		return err
	}
	oldPlanID := plan.ID
	event.EventType = models.EventRenewed
	event.OldPlanID = &oldPlanID
	event.NewPlanID = &renewalPlan.ID
	return s.appendEvent(ctx, tx, event)
}

func (s *Service) applyFailure(ctx context.Context, tx pgx.Tx, sub *models.Subscription, event *models.SubscriptionEvent) error {
	event.EventType = models.EventPaymentFailed
	switch sub.Status {
	case models.SubStatusPending:
		// The charge will be retried by the payment pipeline; the
		// subscription stays pending until the retry budget runs out.
		return s.appendEvent(ctx, tx, event)
	case models.SubStatusActive, models.SubStatusTrial, models.SubStatusPastDue:
		if err := s.subs.UpdateStatus(ctx, tx, sub.ID, models.SubStatusRevoked); err != nil {
			return err
		}
		observability.RecordSubscriptionTransition(string(sub.Status), string(models.SubStatusRevoked))
		return s.appendEvent(ctx, tx, event)
	default:
		return domain.FatalInvariant(fmt.Errorf("unhandled subscription status %q", sub.Status))
	}
}

func (s *Service) transition(ctx context.Context, tx pgx.Tx, sub *models.Subscription, status models.SubscriptionStatus, endDate time.Time) error {
	if err := s.subs.UpdateStatus(ctx, tx, sub.ID, status); err != nil {
		return err
	}
	if err := s.subs.UpdateEndDate(ctx, tx, sub.ID, endDate); err != nil {
		return err
	}
	observability.RecordSubscriptionTransition(string(sub.Status), string(status))
	return nil
}

func (s *Service) appendEvent(ctx context.Context, tx pgx.Tx, event *models.SubscriptionEvent) error {
	if err := s.subs.AppendEvent(ctx, tx, event); err != nil {
		return err
	}
	observability.RecordSubscriptionEvent(string(event.EventType))
	return nil
}
