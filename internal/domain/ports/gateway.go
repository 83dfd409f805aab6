package ports

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ChargeRequest is the input to a gateway charge. Card data never leaves the
// payment service; only the masked last four digits are persisted.
type ChargeRequest struct {
	TransactionID  uuid.UUID
	Amount         decimal.Decimal
	Currency       string
	CardNumber     string
	CardExpiry     string
	CardCVV        string
	CardholderName string
	Metadata       map[string]interface{}
}

// ChargeResponse is the gateway's verdict on a charge.
type ChargeResponse struct {
	GatewayReference string
	Status           string // success | failed
	Message          string
	ErrorCode        string
	ProcessingTimeMS int
}

// RefundResponse is the gateway's verdict on a refund initiation.
type RefundResponse struct {
	RefundReference string
	Status          string // initiated | refund_complete | refund_error
	Message         string
}

// PaymentGateway is the external charge/refund collaborator. Charge may block
// for a few seconds and is not idempotent on transport retries: callers must
// not retry a gateway call for the same transaction.
type PaymentGateway interface {
	Charge(ctx context.Context, req *ChargeRequest) (*ChargeResponse, error)
	Refund(ctx context.Context, transactionID uuid.UUID, amount decimal.Decimal, reason string) (*RefundResponse, error)
}
