package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billinglab/billing-backend/internal/domain"
)

func TestStatusForCode(t *testing.T) {
	tests := []struct {
		code domain.ErrorCode
		want int
	}{
		{domain.ErrorCodeAuthMissing, http.StatusUnauthorized},
		{domain.ErrorCodeAuthSignatureInvalid, http.StatusUnauthorized},
		{domain.ErrorCodeValidationFailed, http.StatusBadRequest},
		{domain.ErrorCodeSubNotFound, http.StatusNotFound},
		{domain.ErrorCodePlanNotFound, http.StatusNotFound},
		{domain.ErrorCodeSubAlreadyExists, http.StatusConflict},
		{domain.ErrorCodeDuplicateEvent, http.StatusConflict},
		{domain.ErrorCodeSubNotActive, http.StatusUnprocessableEntity},
		{domain.ErrorCodeFatalInvariant, http.StatusUnprocessableEntity},
		{domain.ErrorCodeUsageLimitExceeded, http.StatusTooManyRequests},
		{domain.ErrorCodeNoActiveSubscription, http.StatusForbidden},
		{domain.ErrorCodeGatewayDeclined, http.StatusPaymentRequired},
		{domain.ErrorCodeGatewayTimeout, http.StatusServiceUnavailable},
		{domain.ErrorCodeRetryable, http.StatusServiceUnavailable},
		{domain.ErrorCodeInternalError, http.StatusInternalServerError},
		{domain.ErrorCode("SOMETHING_NEW"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusForCode(tt.code))
		})
	}
}

func TestError_DomainError(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, domain.NewDomainError(domain.ErrorCodeSubNotFound, "subscription not found").
		WithDetail("subscription_id", "sub-1"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "subscription not found", resp.Error)
	assert.Equal(t, "SUB_NOT_FOUND", resp.Code)
	assert.Equal(t, "sub-1", resp.Details["subscription_id"])
}

func TestError_WrappedDomainError(t *testing.T) {
	rec := httptest.NewRecorder()
	inner := domain.NewDomainError(domain.ErrorCodeUsageLimitExceeded, "limit reached")
	Error(rec, domain.WrapError(domain.ErrorCodeUsageLimitExceeded, "track usage", inner))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestError_OpaqueErrorHidesDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, errors.New("pq: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "internal server error", resp.Error)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestDecode_RejectsUnknownFields(t *testing.T) {
	var body struct {
		PlanID int64 `json:"plan_id"`
	}

	err := Decode(strings.NewReader(`{"plan_id":1,"pln_id":2}`), &body)
	require.Error(t, err)
	assert.Equal(t, domain.ErrorCodeValidationFailed, domain.GetErrorCode(err))

	require.NoError(t, Decode(strings.NewReader(`{"plan_id":3}`), &body))
	assert.Equal(t, int64(3), body.PlanID)
}
