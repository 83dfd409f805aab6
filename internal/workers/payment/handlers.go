package payment

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/billinglab/billing-backend/internal/domain"
	"github.com/billinglab/billing-backend/internal/queue"
	paysvc "github.com/billinglab/billing-backend/internal/services/payment"
)

// Handlers holds the payment service's queue consumers.
type Handlers struct {
	payments *paysvc.Service
	logger   *zap.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(payments *paysvc.Service, logger *zap.Logger) *Handlers {
	return &Handlers{payments: payments, logger: logger}
}

// SubscriptionUpdateHandlers maps actions for the outcome delivery queue.
func (h *Handlers) SubscriptionUpdateHandlers() map[string]queue.Handler {
	return map[string]queue.Handler{
		"subscription_update": h.HandleSubscriptionUpdate,
	}
}

// RefundHandlers maps actions for the refund queue.
func (h *Handlers) RefundHandlers() map[string]queue.Handler {
	return map[string]queue.Handler{
		"refund_initiation": h.HandleRefund,
	}
}

// HandleSubscriptionUpdate pushes one payment outcome to the subscription
// service over the signed webhook channel. The receiver's inbox makes
// replays harmless.
func (h *Handlers) HandleSubscriptionUpdate(ctx context.Context, env *queue.Envelope) queue.Result {
	eventID, _ := env.Payload["event_id"].(string)
	if eventID == "" {
		eventID = env.IdempotencyKey
	}
	if eventID == "" {
		return queue.Fatal(domain.ErrValidationMissingField.WithDetail("field", "event_id"))
	}

	if err := h.payments.DeliverOutcome(ctx, eventID, env.Payload); err != nil {
		if domain.IsRetryable(err) {
			return queue.Retry(err)
		}
		// The receiver rejected the payload outright; more attempts will
		// not change its mind.
		return queue.Fatal(err)
	}
	return queue.Success()
}

// HandleRefund runs one queued refund through the gateway.
func (h *Handlers) HandleRefund(ctx context.Context, env *queue.Envelope) queue.Result {
	rawTxn, ok := env.Payload["transaction_id"].(string)
	if !ok || rawTxn == "" {
		return queue.Fatal(domain.ErrValidationMissingField.WithDetail("field", "transaction_id"))
	}
	txnID, err := uuid.Parse(rawTxn)
	if err != nil {
		return queue.Fatal(domain.ErrValidationFailed.WithDetail("field", "transaction_id"))
	}

	amount := decimal.Zero
	if raw, ok := env.Payload["amount"].(string); ok && raw != "" {
		amount, err = decimal.NewFromString(raw)
		if err != nil {
			return queue.Fatal(domain.ErrValidationFailed.WithDetail("field", "amount"))
		}
	}
	reason, _ := env.Payload["reason"].(string)
	if reason == "" {
		reason = "requested"
	}

	err = h.payments.Refund(ctx, txnID, amount, reason)
	switch {
	case err == nil:
		return queue.Success()
	case domain.IsDuplicateEvent(err):
		return queue.Duplicate()
	case domain.IsRetryable(err):
		// Settle the refund as errored when this was the last attempt;
		// otherwise let the backoff path bring it back.
		if env.MaxAttempts > 0 && env.Attempts+1 > env.MaxAttempts {
			h.payments.MarkRefundError(ctx, txnID, err.Error())
		}
		return queue.Retry(err)
	default:
		h.payments.MarkRefundError(ctx, txnID, err.Error())
		return queue.Fatal(err)
	}
}
