package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionStatus represents the current state of a transaction
type TransactionStatus string

const (
	TxnStatusPending        TransactionStatus = "pending"
	TxnStatusProcessing     TransactionStatus = "processing"
	TxnStatusSuccess        TransactionStatus = "success"
	TxnStatusFailed         TransactionStatus = "failed"
	TxnStatusRefundInitiated TransactionStatus = "refund_initiated"
	TxnStatusRefundComplete  TransactionStatus = "refund_complete"
	TxnStatusRefundError     TransactionStatus = "refund_error"
)

// IsTerminal reports whether the status may not be reverted. Success, failed
// and the refund statuses are terminal with respect to gateway outcomes.
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case TxnStatusSuccess, TxnStatusFailed, TxnStatusRefundInitiated,
		TxnStatusRefundComplete, TxnStatusRefundError:
		return true
	}
	return false
}

// PaymentAction tags what kind of payment a transaction represents.
type PaymentAction string

const (
	ActionInitial PaymentAction = "initial"
	ActionTrial   PaymentAction = "trial"
	ActionRenewal PaymentAction = "renewal"
	ActionUpgrade PaymentAction = "upgrade"
)

// Valid reports whether a is one of the four known payment actions.
func (a PaymentAction) Valid() bool {
	switch a {
	case ActionInitial, ActionTrial, ActionRenewal, ActionUpgrade:
		return true
	}
	return false
}

// Transaction represents a payment attempt against a subscription.
type Transaction struct {
	ID               uuid.UUID
	SubscriptionID   *uuid.UUID
	Amount           decimal.Decimal
	Currency         string
	Status           TransactionStatus
	GatewayReference string
	ErrorMessage     string
	Metadata         map[string]interface{}
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsSuccessful reports whether the charge went through.
func (t *Transaction) IsSuccessful() bool {
	return t.Status == TxnStatusSuccess
}

// Action derives the payment action from transaction metadata. Renewal wins
// over trial when both flags are present.
func (t *Transaction) Action() PaymentAction {
	if t.Metadata == nil {
		return ActionInitial
	}
	if b, ok := t.Metadata["renewal"].(bool); ok && b {
		return ActionRenewal
	}
	if b, ok := t.Metadata["trial"].(bool); ok && b {
		return ActionTrial
	}
	if b, ok := t.Metadata["upgrade"].(bool); ok && b {
		return ActionUpgrade
	}
	return ActionInitial
}
