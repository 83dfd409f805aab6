package webhook

import (
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/billinglab/billing-backend/internal/domain"
	"github.com/billinglab/billing-backend/internal/handlers/httputil"
	"github.com/billinglab/billing-backend/internal/services/subscription"
	"github.com/billinglab/billing-backend/internal/webhook"
)

const maxBodyBytes = 1 << 20

// Handler receives signed payment outcome webhooks on the subscription side.
type Handler struct {
	verifier *webhook.Verifier
	service  *subscription.Service
	logger   *zap.Logger
}

// NewHandler creates a new webhook handler
func NewHandler(verifier *webhook.Verifier, service *subscription.Service, logger *zap.Logger) *Handler {
	return &Handler{verifier: verifier, service: service, logger: logger}
}

// ReceivePayment handles POST /v1/webhooks/payment. The signature covers the
// raw body, so it is read before any JSON parsing.
func (h *Handler) ReceivePayment(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		httputil.Error(w, domain.WrapError(domain.ErrorCodeValidationFailed, "unreadable body", err))
		return
	}

	signature := r.Header.Get(webhook.HeaderSignature)
	timestamp := r.Header.Get(webhook.HeaderTimestamp)
	if err := h.verifier.Verify(signature, timestamp, body); err != nil {
		h.logger.Warn("webhook signature rejected",
			zap.String("event_id", r.Header.Get(webhook.HeaderEventID)),
			zap.Error(err))
		httputil.Error(w, err)
		return
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		httputil.Error(w, domain.WrapError(domain.ErrorCodeValidationFailed, "invalid JSON payload", err))
		return
	}

	eventID := r.Header.Get(webhook.HeaderEventID)
	if eventID == "" {
		eventID, _ = payload["event_id"].(string)
	}
	if eventID == "" {
		httputil.Error(w, domain.ErrValidationMissingField.WithDetail("field", "event_id"))
		return
	}

	if err := h.service.ProcessPaymentEvent(r.Context(), eventID, payload); err != nil {
		h.logger.Error("webhook processing failed",
			zap.String("event_id", eventID), zap.Error(err))
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]string{"status": "processed", "event_id": eventID})
}
