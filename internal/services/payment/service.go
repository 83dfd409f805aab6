package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/billinglab/billing-backend/internal/domain"
	"github.com/billinglab/billing-backend/internal/domain/models"
	"github.com/billinglab/billing-backend/internal/domain/ports"
	"github.com/billinglab/billing-backend/internal/queue"
	"github.com/billinglab/billing-backend/pkg/observability"
)

// ProcessRequest is the input to Process.
type ProcessRequest struct {
	SubscriptionID *uuid.UUID
	Amount         decimal.Decimal
	Currency       string
	CardNumber     string
	CardExpiry     string
	CardCVV        string
	CardholderName string
	Trial          bool
	Renewal        bool
	Upgrade        bool
}

// Service runs the charge pipeline on the payment side: record, charge once,
// settle, announce. The gateway call is the only step that is never retried;
// everything around it is safe to replay.
type Service struct {
	db        ports.DBPort
	txns      ports.TransactionRepository
	outbound  ports.OutboundWebhookRepository
	gateway   ports.PaymentGateway
	publisher queue.Publisher
	notifier  OutcomeNotifier
	targetURL string
	logger    *zap.Logger
	now       func() time.Time
}

// OutcomeNotifier posts a payment outcome directly to the subscription
// service. Deliveries are best-effort: the queue path is the reliable one.
type OutcomeNotifier interface {
	Deliver(ctx context.Context, url string, payload interface{}, eventID string) error
}

// NewService creates a new payment service
func NewService(
	db ports.DBPort,
	txns ports.TransactionRepository,
	outbound ports.OutboundWebhookRepository,
	gateway ports.PaymentGateway,
	publisher queue.Publisher,
	notifier OutcomeNotifier,
	targetURL string,
	logger *zap.Logger,
) *Service {
	return &Service{
		db:        db,
		txns:      txns,
		outbound:  outbound,
		gateway:   gateway,
		publisher: publisher,
		notifier:  notifier,
		targetURL: targetURL,
		logger:    logger,
		now:       time.Now,
	}
}

// Process executes one payment end to end and returns the settled
// transaction. The returned transaction is terminal: success or failed.
func (s *Service) Process(ctx context.Context, req ProcessRequest) (*models.Transaction, error) {
	if req.Amount.IsNegative() || req.Amount.IsZero() {
		return nil, domain.ErrValidationFailed.WithDetail("field", "amount")
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}

	txn := &models.Transaction{
		ID:             uuid.New(),
		SubscriptionID: req.SubscriptionID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Status:         models.TxnStatusPending,
		Metadata: map[string]interface{}{
			"trial":   req.Trial,
			"renewal": req.Renewal,
			"upgrade": req.Upgrade,
		},
	}
	if len(req.CardNumber) >= 4 {
		txn.Metadata["card_last4"] = req.CardNumber[len(req.CardNumber)-4:]
	}

	if err := s.txns.Create(ctx, nil, txn); err != nil {
		return nil, err
	}
	if err := s.txns.UpdateStatus(ctx, nil, txn.ID, models.TxnStatusProcessing, "", ""); err != nil {
		return nil, err
	}

	// One gateway call per transaction, ever. A failure here settles the
	// transaction; retrying the charge would risk a double capture.
	charge, err := s.gateway.Charge(ctx, &ports.ChargeRequest{
		TransactionID:  txn.ID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		CardNumber:     req.CardNumber,
		CardExpiry:     req.CardExpiry,
		CardCVV:        req.CardCVV,
		CardholderName: req.CardholderName,
		Metadata:       txn.Metadata,
	})
	if err != nil {
		if uerr := s.txns.UpdateStatus(ctx, nil, txn.ID, models.TxnStatusFailed, "", err.Error()); uerr != nil {
			s.logger.Error("settle after gateway error failed",
				zap.String("transaction_id", txn.ID.String()), zap.Error(uerr))
		}
		txn.Status = models.TxnStatusFailed
		txn.ErrorMessage = err.Error()
		s.announce(ctx, txn, req)
		return txn, nil
	}

	if charge.Status == "success" {
		if err := s.txns.UpdateStatus(ctx, nil, txn.ID, models.TxnStatusSuccess, charge.GatewayReference, ""); err != nil {
			return nil, err
		}
		txn.Status = models.TxnStatusSuccess
		txn.GatewayReference = charge.GatewayReference
	} else {
		msg := charge.Message
		if charge.ErrorCode != "" {
			msg = charge.ErrorCode
		}
		if err := s.txns.UpdateStatus(ctx, nil, txn.ID, models.TxnStatusFailed, charge.GatewayReference, msg); err != nil {
			return nil, err
		}
		txn.Status = models.TxnStatusFailed
		txn.GatewayReference = charge.GatewayReference
		txn.ErrorMessage = msg
	}

	s.logger.Info("payment settled",
		zap.String("transaction_id", txn.ID.String()),
		zap.String("status", string(txn.Status)),
		zap.String("amount", txn.Amount.String()))
	observability.RecordPaymentTransaction(
		string(txn.Action()), string(txn.Status), txn.Amount.Shift(2).IntPart(), txn.Currency)

	// Trial charges are refunded right away: the charge proves the card,
	// the refund hands the money back.
	if req.Trial && txn.IsSuccessful() {
		s.enqueueTrialRefund(ctx, txn)
	}

	s.announce(ctx, txn, req)
	return txn, nil
}

// GetTransaction returns a transaction by id.
func (s *Service) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return s.txns.GetByID(ctx, nil, id)
}

func (s *Service) enqueueTrialRefund(ctx context.Context, txn *models.Transaction) {
	env := queue.NewEnvelope("refund_initiation", map[string]interface{}{
		"transaction_id": txn.ID.String(),
		"amount":         txn.Amount.String(),
		"reason":         "trial_refund",
	}).WithCorrelation(txn.ID.String())
	if err := s.publisher.Publish(ctx, queue.QueueRefundInitiation, env); err != nil {
		// The sweep of dead trials without refunds is an operator task;
		// the charge itself already settled.
		s.logger.Error("trial refund enqueue failed",
			zap.String("transaction_id", txn.ID.String()), zap.Error(err))
	}
}

// announce publishes the outcome onto the reliable queue and attempts one
// immediate direct delivery. The subscription-side inbox collapses the two.
func (s *Service) announce(ctx context.Context, txn *models.Transaction, req ProcessRequest) {
	eventID := fmt.Sprintf("payment_%s_%d", txn.ID.String(), s.now().Unix())
	payload := map[string]interface{}{
		"event_id":       eventID,
		"transaction_id": txn.ID.String(),
		"status":         string(txn.Status),
		"amount":         txn.Amount.String(),
		"currency":       txn.Currency,
		"trial":          req.Trial,
		"renewal":        req.Renewal,
		"upgrade":        req.Upgrade,
	}
	if txn.SubscriptionID != nil {
		payload["subscription_id"] = txn.SubscriptionID.String()
	}
	if txn.ErrorMessage != "" {
		payload["error"] = txn.ErrorMessage
	}

	env := queue.NewEnvelope("subscription_update", payload).
		WithIdempotencyKey(eventID)
	if txn.SubscriptionID != nil {
		env.WithCorrelation(txn.SubscriptionID.String())
	}
	if err := s.publisher.Publish(ctx, queue.QueueSubscriptionUpdate, env); err != nil {
		s.logger.Error("outcome enqueue failed",
			zap.String("event_id", eventID), zap.Error(err))
	}

	if err := s.outbound.Create(ctx, nil, &models.OutboundWebhook{
		EventID:   eventID,
		TargetURL: s.targetURL,
		Payload:   payload,
	}); err != nil {
		s.logger.Warn("outbound record create failed",
			zap.String("event_id", eventID), zap.Error(err))
	}

	if s.notifier != nil {
		if err := s.notifier.Deliver(ctx, s.targetURL, payload, eventID); err != nil {
			s.logger.Warn("direct outcome delivery failed, queue path will cover it",
				zap.String("event_id", eventID), zap.Error(err))
		} else {
			_ = s.outbound.MarkCompleted(ctx, nil, eventID, 200, s.now().UTC())
		}
	}
}

// Refund moves a settled transaction through the refund lifecycle. Replay
// safe: each status step is skipped when already passed.
func (s *Service) Refund(ctx context.Context, transactionID uuid.UUID, amount decimal.Decimal, reason string) error {
	txn, err := s.txns.GetByID(ctx, nil, transactionID)
	if err != nil {
		return err
	}

	switch txn.Status {
	case models.TxnStatusRefundComplete:
		return domain.ErrDuplicateEvent
	case models.TxnStatusSuccess:
		if err := s.txns.UpdateStatus(ctx, nil, transactionID, models.TxnStatusRefundInitiated, "", ""); err != nil {
			return err
		}
	case models.TxnStatusRefundInitiated:
		// Prior attempt died between marking and the gateway call.
	default:
		return domain.ErrTransactionTerminal.WithDetail("status", string(txn.Status))
	}

	if amount.IsZero() {
		amount = txn.Amount
	}

	resp, err := s.gateway.Refund(ctx, transactionID, amount, reason)
	if err != nil {
		if domain.IsRetryable(err) {
			return err
		}
		if uerr := s.txns.UpdateStatus(ctx, nil, transactionID, models.TxnStatusRefundError, "", err.Error()); uerr != nil {
			return uerr
		}
		observability.RecordRefund(reason, "error")
		return err
	}

	if err := s.txns.UpdateStatus(ctx, nil, transactionID, models.TxnStatusRefundComplete, resp.RefundReference, ""); err != nil {
		return err
	}
	observability.RecordRefund(reason, "complete")
	s.logger.Info("refund completed",
		zap.String("transaction_id", transactionID.String()),
		zap.String("amount", amount.String()),
		zap.String("reason", reason))
	return nil
}

// MarkRefundError settles a refund that ran out of retries.
func (s *Service) MarkRefundError(ctx context.Context, transactionID uuid.UUID, cause string) {
	if err := s.txns.UpdateStatus(ctx, nil, transactionID, models.TxnStatusRefundError, "", cause); err != nil {
		s.logger.Error("mark refund error failed",
			zap.String("transaction_id", transactionID.String()), zap.Error(err))
	}
}

// DeliverOutcome pushes one queued outcome to the subscription service. The
// subscription_update worker calls this for the reliable delivery path.
func (s *Service) DeliverOutcome(ctx context.Context, eventID string, payload map[string]interface{}) error {
	err := s.notifier.Deliver(ctx, s.targetURL, payload, eventID)
	if err != nil {
		code := 0
		if domain.IsRetryable(err) {
			code = 502
		} else {
			code = 400
		}
		_ = s.outbound.RecordAttempt(ctx, nil, eventID, code, err.Error())
		return err
	}
	return s.outbound.MarkCompleted(ctx, nil, eventID, 200, s.now().UTC())
}
