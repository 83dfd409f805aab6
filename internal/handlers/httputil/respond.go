package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/billinglab/billing-backend/internal/domain"
)

// ErrorResponse is the wire shape for every error the API returns.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// JSON writes v as a JSON response with the given status.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// Error writes err as a structured JSON error with the mapped HTTP status.
func Error(w http.ResponseWriter, err error) {
	var domainErr *domain.DomainError
	if !errors.As(err, &domainErr) {
		JSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: "internal server error",
			Code:  string(domain.ErrorCodeInternalError),
		})
		return
	}
	JSON(w, StatusForCode(domainErr.Code), ErrorResponse{
		Error:   domainErr.Message,
		Code:    string(domainErr.Code),
		Details: domainErr.Details,
	})
}

// StatusForCode maps a domain error code onto an HTTP status.
func StatusForCode(code domain.ErrorCode) int {
	switch code {
	case domain.ErrorCodeAuthMissing, domain.ErrorCodeAuthInvalid,
		domain.ErrorCodeAuthSignatureInvalid, domain.ErrorCodeAuthTimestampInvalid,
		domain.ErrorCodeAuthTimestampExpired:
		return http.StatusUnauthorized
	case domain.ErrorCodeValidationFailed, domain.ErrorCodeValidationMissingField:
		return http.StatusBadRequest
	case domain.ErrorCodeSubNotFound, domain.ErrorCodePlanNotFound,
		domain.ErrorCodeTxnNotFound:
		return http.StatusNotFound
	case domain.ErrorCodeSubAlreadyExists, domain.ErrorCodeDuplicateEvent:
		return http.StatusConflict
	case domain.ErrorCodeSubNotActive, domain.ErrorCodePlanInactive,
		domain.ErrorCodeTxnTerminalState, domain.ErrorCodeFatalInvariant:
		return http.StatusUnprocessableEntity
	case domain.ErrorCodeUsageLimitExceeded:
		return http.StatusTooManyRequests
	case domain.ErrorCodeFeatureUnavailable, domain.ErrorCodeNoActiveSubscription:
		return http.StatusForbidden
	case domain.ErrorCodeGatewayDeclined:
		return http.StatusPaymentRequired
	case domain.ErrorCodeRetryable, domain.ErrorCodeGatewayError,
		domain.ErrorCodeGatewayTimeout, domain.ErrorCodeDatabaseError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Decode parses a JSON request body into v. Unknown fields are rejected so
// client typos surface as 400s instead of silently dropped fields.
func Decode(r io.Reader, v interface{}) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.WrapError(domain.ErrorCodeValidationFailed, "invalid request body", err)
	}
	return nil
}
