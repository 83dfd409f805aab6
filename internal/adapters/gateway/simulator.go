package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/billinglab/billing-backend/internal/domain"
	"github.com/billinglab/billing-backend/internal/domain/ports"
)

// Test card numbers with fixed outcomes. Any other number succeeds most of
// the time to keep demo traffic realistic.
const (
	CardAlwaysSucceeds = "4242424242424242"
	CardAlwaysDeclines = "4000000000000002"
)

var declineCodes = []string{
	"insufficient_funds",
	"card_declined",
	"expired_card",
	"invalid_cvv",
}

// Simulator is a stand-in payment gateway with realistic latency and decline
// behavior. It satisfies ports.PaymentGateway for local and demo environments.
type Simulator struct {
	minDelay    time.Duration
	maxDelay    time.Duration
	successRate float64
	logger      *zap.Logger
}

// NewSimulator builds a simulator. successRate applies only to card numbers
// without a fixed outcome.
func NewSimulator(minDelay, maxDelay time.Duration, successRate float64, logger *zap.Logger) *Simulator {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	if successRate <= 0 || successRate > 1 {
		successRate = 0.9
	}
	return &Simulator{minDelay: minDelay, maxDelay: maxDelay, successRate: successRate, logger: logger}
}

// Charge simulates an authorization and capture. The call blocks for the
// configured latency window and respects context cancellation while waiting.
func (s *Simulator) Charge(ctx context.Context, req *ports.ChargeRequest) (*ports.ChargeResponse, error) {
	elapsed, err := s.simulateLatency(ctx)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeGatewayTimeout, "gateway charge interrupted", err)
	}

	card := strings.ReplaceAll(req.CardNumber, " ", "")
	resp := &ports.ChargeResponse{
		GatewayReference: "ch_" + uuid.NewString(),
		ProcessingTimeMS: int(elapsed.Milliseconds()),
	}

	declined := false
	switch card {
	case CardAlwaysSucceeds:
	case CardAlwaysDeclines:
		declined = true
	default:
		declined = rand.Float64() >= s.successRate
	}

	if declined {
		code := declineCodes[rand.Intn(len(declineCodes))]
		resp.Status = "failed"
		resp.ErrorCode = code
		resp.Message = fmt.Sprintf("charge declined: %s", code)
		s.logger.Info("simulated charge declined",
			zap.String("transaction_id", req.TransactionID.String()),
			zap.String("error_code", code))
		return resp, nil
	}

	resp.Status = "success"
	resp.Message = "charge approved"
	s.logger.Info("simulated charge approved",
		zap.String("transaction_id", req.TransactionID.String()),
		zap.String("gateway_reference", resp.GatewayReference))
	return resp, nil
}

// Refund simulates refund initiation. Refunds settle asynchronously in real
// gateways, so the simulator only ever reports "initiated".
func (s *Simulator) Refund(ctx context.Context, transactionID uuid.UUID, amount decimal.Decimal, reason string) (*ports.RefundResponse, error) {
	if _, err := s.simulateLatency(ctx); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeGatewayTimeout, "gateway refund interrupted", err)
	}
	s.logger.Info("simulated refund initiated",
		zap.String("transaction_id", transactionID.String()),
		zap.String("amount", amount.String()),
		zap.String("reason", reason))
	return &ports.RefundResponse{
		RefundReference: "re_" + uuid.NewString(),
		Status:          "initiated",
		Message:         "refund accepted for processing",
	}, nil
}

func (s *Simulator) simulateLatency(ctx context.Context) (time.Duration, error) {
	delay := s.minDelay
	if span := s.maxDelay - s.minDelay; span > 0 {
		delay += time.Duration(rand.Int63n(int64(span)))
	}
	select {
	case <-time.After(delay):
		return delay, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
