package gateway

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/billinglab/billing-backend/internal/domain"
	"github.com/billinglab/billing-backend/internal/domain/ports"
)

// BreakerGateway wraps a PaymentGateway with a circuit breaker. When the
// gateway is failing hard, calls short-circuit with a retryable error instead
// of piling timeouts onto a struggling upstream. Declines are not failures;
// only transport errors count against the breaker.
type BreakerGateway struct {
	inner   ports.PaymentGateway
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerGateway wraps inner with the standard breaker settings.
func NewBreakerGateway(inner ports.PaymentGateway, logger *zap.Logger) *BreakerGateway {
	return &BreakerGateway{
		inner: inner,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "payment-gateway",
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("gateway circuit state changed",
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}),
	}
}

// Charge forwards to the wrapped gateway through the breaker.
func (g *BreakerGateway) Charge(ctx context.Context, req *ports.ChargeRequest) (*ports.ChargeResponse, error) {
	resp, err := g.breaker.Execute(func() (interface{}, error) {
		return g.inner.Charge(ctx, req)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, domain.Retryable(err)
		}
		return nil, err
	}
	return resp.(*ports.ChargeResponse), nil
}

// Refund forwards to the wrapped gateway through the breaker.
func (g *BreakerGateway) Refund(ctx context.Context, transactionID uuid.UUID, amount decimal.Decimal, reason string) (*ports.RefundResponse, error) {
	resp, err := g.breaker.Execute(func() (interface{}, error) {
		return g.inner.Refund(ctx, transactionID, amount, reason)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, domain.Retryable(err)
		}
		return nil, err
	}
	return resp.(*ports.RefundResponse), nil
}
