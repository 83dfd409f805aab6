package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a machine-readable error code
type ErrorCode string

const (
	// Authentication & signature errors (AUTH_*)
	ErrorCodeAuthMissing          ErrorCode = "AUTH_MISSING"
	ErrorCodeAuthInvalid          ErrorCode = "AUTH_INVALID"
	ErrorCodeAuthSignatureInvalid ErrorCode = "AUTH_SIGNATURE_INVALID"
	ErrorCodeAuthTimestampInvalid ErrorCode = "AUTH_TIMESTAMP_INVALID"
	ErrorCodeAuthTimestampExpired ErrorCode = "AUTH_TIMESTAMP_EXPIRED"

	// Validation errors (VALIDATION_*)
	ErrorCodeValidationFailed       ErrorCode = "VALIDATION_FAILED"
	ErrorCodeValidationMissingField ErrorCode = "VALIDATION_MISSING_FIELD"

	// Subscription errors (SUB_*)
	ErrorCodeSubNotFound      ErrorCode = "SUB_NOT_FOUND"
	ErrorCodeSubNotActive     ErrorCode = "SUB_NOT_ACTIVE"
	ErrorCodeSubAlreadyExists ErrorCode = "SUB_ALREADY_EXISTS"

	// Plan errors (PLAN_*)
	ErrorCodePlanNotFound ErrorCode = "PLAN_NOT_FOUND"
	ErrorCodePlanInactive ErrorCode = "PLAN_INACTIVE"

	// Transaction errors (TXN_*)
	ErrorCodeTxnNotFound      ErrorCode = "TXN_NOT_FOUND"
	ErrorCodeTxnTerminalState ErrorCode = "TXN_TERMINAL_STATE"

	// Usage errors (USAGE_*)
	ErrorCodeUsageLimitExceeded  ErrorCode = "USAGE_LIMIT_EXCEEDED"
	ErrorCodeFeatureUnavailable  ErrorCode = "USAGE_FEATURE_UNAVAILABLE"
	ErrorCodeNoActiveSubscription ErrorCode = "USAGE_NO_ACTIVE_SUBSCRIPTION"

	// Gateway errors (GATEWAY_*)
	ErrorCodeGatewayError    ErrorCode = "GATEWAY_ERROR"
	ErrorCodeGatewayTimeout  ErrorCode = "GATEWAY_TIMEOUT"
	ErrorCodeGatewayDeclined ErrorCode = "GATEWAY_DECLINED"

	// Queue / worker dispositions
	ErrorCodeRetryable      ErrorCode = "RETRYABLE"
	ErrorCodeDuplicateEvent ErrorCode = "DUPLICATE_EVENT"
	ErrorCodeFatalInvariant ErrorCode = "FATAL_INVARIANT"

	// Internal errors (INTERNAL_*)
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrorCodeDatabaseError ErrorCode = "INTERNAL_DATABASE_ERROR"
)

// DomainError represents a structured domain error with error code and context
type DomainError struct {
	Err     error
	Details map[string]interface{}
	Code    ErrorCode
	Message string
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *DomainError) Unwrap() error {
	return e.Err
}

// WithDetail adds a detail field to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(code ErrorCode, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with a domain error code
func WrapError(code ErrorCode, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Err:     err,
	}
}

// GetErrorCode extracts the error code from an error, returns empty string if not a DomainError
func GetErrorCode(err error) ErrorCode {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// IsValidationError reports whether err violates payload schema or business
// preconditions. Workers route these straight to the dead-letter queue.
func IsValidationError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeValidationFailed || code == ErrorCodeValidationMissingField
}

// IsAuthError reports whether err is a signature, timestamp, or token failure.
func IsAuthError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeAuthMissing ||
		code == ErrorCodeAuthInvalid ||
		code == ErrorCodeAuthSignatureInvalid ||
		code == ErrorCodeAuthTimestampInvalid ||
		code == ErrorCodeAuthTimestampExpired
}

// IsRetryable reports whether err is a transient failure that the worker
// backoff/retry path should absorb.
func IsRetryable(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeRetryable ||
		code == ErrorCodeGatewayError ||
		code == ErrorCodeGatewayTimeout ||
		code == ErrorCodeDatabaseError
}

// IsDuplicateEvent reports whether err marks an inbox hit.
func IsDuplicateEvent(err error) bool {
	return GetErrorCode(err) == ErrorCodeDuplicateEvent
}

// IsFatalInvariant reports whether err marks a model invariant violation that
// must dead-letter without retry.
func IsFatalInvariant(err error) bool {
	return GetErrorCode(err) == ErrorCodeFatalInvariant
}

// IsNotFoundError checks if an error represents a "not found" condition
func IsNotFoundError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeSubNotFound ||
		code == ErrorCodePlanNotFound ||
		code == ErrorCodeTxnNotFound
}

// Structured error instances
var (
	ErrAuthMissing          = NewDomainError(ErrorCodeAuthMissing, "authentication required")
	ErrAuthInvalid          = NewDomainError(ErrorCodeAuthInvalid, "invalid authentication")
	ErrSignatureInvalid     = NewDomainError(ErrorCodeAuthSignatureInvalid, "invalid webhook signature")
	ErrTimestampInvalid     = NewDomainError(ErrorCodeAuthTimestampInvalid, "invalid timestamp format")
	ErrTimestampOutOfWindow = NewDomainError(ErrorCodeAuthTimestampExpired, "webhook timestamp outside tolerance window")

	ErrValidationFailed       = NewDomainError(ErrorCodeValidationFailed, "validation failed")
	ErrValidationMissingField = NewDomainError(ErrorCodeValidationMissingField, "required field missing")

	ErrSubscriptionNotFound      = NewDomainError(ErrorCodeSubNotFound, "subscription not found")
	ErrSubscriptionNotActive     = NewDomainError(ErrorCodeSubNotActive, "subscription is not active")
	ErrSubscriptionAlreadyExists = NewDomainError(ErrorCodeSubAlreadyExists, "user already has a non-terminal subscription")

	ErrPlanNotFound = NewDomainError(ErrorCodePlanNotFound, "plan not found")
	ErrPlanInactive = NewDomainError(ErrorCodePlanInactive, "plan is not active")

	ErrTransactionNotFound  = NewDomainError(ErrorCodeTxnNotFound, "transaction not found")
	ErrTransactionTerminal  = NewDomainError(ErrorCodeTxnTerminalState, "transaction already in terminal state")

	ErrFeatureUnavailable    = NewDomainError(ErrorCodeFeatureUnavailable, "feature unavailable")
	ErrNoActiveSubscription  = NewDomainError(ErrorCodeNoActiveSubscription, "no active subscription")

	ErrGatewayError    = NewDomainError(ErrorCodeGatewayError, "payment gateway error")
	ErrGatewayTimedOut = NewDomainError(ErrorCodeGatewayTimeout, "payment gateway timeout")
	ErrGatewayDeclined = NewDomainError(ErrorCodeGatewayDeclined, "payment declined by gateway")

	ErrDuplicateEvent = NewDomainError(ErrorCodeDuplicateEvent, "event already processed")

	ErrInternalError = NewDomainError(ErrorCodeInternalError, "internal server error")
	ErrDatabaseError = NewDomainError(ErrorCodeDatabaseError, "database error")
)

// Retryable wraps err so the worker skeleton schedules a backoff retry.
func Retryable(err error) *DomainError {
	return WrapError(ErrorCodeRetryable, "transient failure", err)
}

// FatalInvariant wraps err so the worker skeleton dead-letters without retry.
func FatalInvariant(err error) *DomainError {
	return WrapError(ErrorCodeFatalInvariant, "invariant violation", err)
}
