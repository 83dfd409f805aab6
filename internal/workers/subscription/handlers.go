package subscription

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/billinglab/billing-backend/internal/adapters/paymentclient"
	"github.com/billinglab/billing-backend/internal/domain"
	"github.com/billinglab/billing-backend/internal/domain/ports"
	"github.com/billinglab/billing-backend/internal/queue"
	subsvc "github.com/billinglab/billing-backend/internal/services/subscription"
	usagesvc "github.com/billinglab/billing-backend/internal/services/usage"
)

// Handlers holds the subscription service's queue consumers. Each entry is
// idempotent on replay; delivery is at-least-once.
type Handlers struct {
	payments *paymentclient.Client
	subs     *subsvc.Service
	usage    *usagesvc.Service
	plans    ports.PlanRepository
	subRepo  ports.SubscriptionRepository
	logger   *zap.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(
	payments *paymentclient.Client,
	subs *subsvc.Service,
	usage *usagesvc.Service,
	plans ports.PlanRepository,
	subRepo ports.SubscriptionRepository,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		payments: payments,
		subs:     subs,
		usage:    usage,
		plans:    plans,
		subRepo:  subRepo,
		logger:   logger,
	}
}

// PaymentQueueHandlers maps actions for the payment initiation and trial
// payment queues.
func (h *Handlers) PaymentQueueHandlers() map[string]queue.Handler {
	return map[string]queue.Handler{
		"payment_initiation": h.HandlePaymentInitiation,
	}
}

// PlanChangeHandlers maps actions for the plan change queue.
func (h *Handlers) PlanChangeHandlers() map[string]queue.Handler {
	return map[string]queue.Handler{
		"plan_change": h.HandlePlanChange,
	}
}

// UsageSyncHandlers maps actions for the usage sync queue.
func (h *Handlers) UsageSyncHandlers() map[string]queue.Handler {
	return map[string]queue.Handler{
		"usage_sync": h.HandleUsageSync,
	}
}

// HandlePaymentInitiation forwards a queued charge to the payment service.
// Any settled outcome is success here: the verdict comes back through the
// payment webhook, not through this job.
func (h *Handlers) HandlePaymentInitiation(ctx context.Context, env *queue.Envelope) queue.Result {
	req := paymentclient.ProcessPaymentRequest{
		Currency: "USD",
	}
	if v, ok := env.Payload["subscription_id"].(string); ok {
		req.SubscriptionID = v
	}
	amount, ok := env.Payload["amount"].(string)
	if !ok || amount == "" {
		return queue.Fatal(domain.ErrValidationMissingField.WithDetail("field", "amount"))
	}
	req.Amount = amount
	if v, ok := env.Payload["currency"].(string); ok && v != "" {
		req.Currency = v
	}
	if v, ok := env.Payload["trial"].(bool); ok {
		req.Trial = v
	}
	if v, ok := env.Payload["renewal"].(bool); ok {
		req.Renewal = v
	}
	if v, ok := env.Payload["upgrade"].(bool); ok {
		req.Upgrade = v
	}
	if card, ok := env.Payload["card"].(map[string]interface{}); ok {
		req.Card = make(map[string]string, len(card))
		for k, v := range card {
			if s, ok := v.(string); ok {
				req.Card[k] = s
			}
		}
	}

	result, err := h.payments.ProcessPayment(ctx, req)
	if err != nil {
		if domain.IsRetryable(err) {
			return queue.Retry(err)
		}
		return queue.Fatal(err)
	}

	h.logger.Info("payment settled via internal api",
		zap.String("subscription_id", req.SubscriptionID),
		zap.String("transaction_id", result.TransactionID),
		zap.String("status", result.Status))
	return queue.Success()
}

// HandlePlanChange applies a queued plan change and clears the user's usage
// counters so the new plan starts clean.
func (h *Handlers) HandlePlanChange(ctx context.Context, env *queue.Envelope) queue.Result {
	rawSub, ok := env.Payload["subscription_id"].(string)
	if !ok {
		return queue.Fatal(domain.ErrValidationMissingField.WithDetail("field", "subscription_id"))
	}
	subID, err := uuid.Parse(rawSub)
	if err != nil {
		return queue.Fatal(domain.ErrValidationFailed.WithDetail("field", "subscription_id"))
	}
	newPlanID, ok := numericPayloadField(env.Payload, "new_plan_id")
	if !ok {
		return queue.Fatal(domain.ErrValidationMissingField.WithDetail("field", "new_plan_id"))
	}
	userID, ok := numericPayloadField(env.Payload, "user_id")
	if !ok {
		return queue.Fatal(domain.ErrValidationMissingField.WithDetail("field", "user_id"))
	}

	// Snapshot the old plan's features before the swap so their counters
	// can be cleared afterward.
	features := map[string]struct{}{}
	if sub, err := h.subRepo.GetByID(ctx, nil, subID); err == nil {
		if oldPlan, perr := h.plans.GetByID(ctx, nil, sub.PlanID); perr == nil {
			for f := range oldPlan.FeatureLimits() {
				features[f] = struct{}{}
			}
		}
	}
	if newPlan, err := h.plans.GetByID(ctx, nil, newPlanID); err == nil {
		for f := range newPlan.FeatureLimits() {
			features[f] = struct{}{}
		}
	}

	if err := h.subs.ApplyPlanChange(ctx, subID, newPlanID); err != nil {
		if domain.IsValidationError(err) || domain.IsNotFoundError(err) {
			return queue.Fatal(err)
		}
		return queue.Retry(err)
	}

	names := make([]string, 0, len(features))
	for f := range features {
		names = append(names, f)
	}
	if err := h.usage.ResetAll(ctx, userID, names); err != nil {
		// The plan already changed; counter reset must not rerun the swap.
		h.logger.Warn("usage reset after plan change failed",
			zap.String("subscription_id", subID.String()), zap.Error(err))
	}
	return queue.Success()
}

// HandleUsageSync mirrors one user's live counters into postgres.
func (h *Handlers) HandleUsageSync(ctx context.Context, env *queue.Envelope) queue.Result {
	userID, ok := numericPayloadField(env.Payload, "user_id")
	if !ok {
		return queue.Fatal(domain.ErrValidationMissingField.WithDetail("field", "user_id"))
	}
	if err := h.usage.Sync(ctx, userID); err != nil {
		if domain.GetErrorCode(err) == domain.ErrorCodeNoActiveSubscription {
			// Nothing to mirror for a user without access.
			return queue.Success()
		}
		return queue.Retry(err)
	}
	return queue.Success()
}

func numericPayloadField(payload map[string]interface{}, key string) (int64, bool) {
	switch v := payload[key].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case string:
		var n int64
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n, true
		}
	}
	return 0, false
}
