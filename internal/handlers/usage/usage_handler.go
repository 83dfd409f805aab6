package usage

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/billinglab/billing-backend/internal/auth"
	"github.com/billinglab/billing-backend/internal/domain"
	"github.com/billinglab/billing-backend/internal/handlers/httputil"
	"github.com/billinglab/billing-backend/internal/services/usage"
)

// Handler serves the usage metering endpoints.
type Handler struct {
	service *usage.Service
	logger  *zap.Logger
}

// NewHandler creates a new usage handler
func NewHandler(service *usage.Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type trackRequest struct {
	Feature string `json:"feature"`
	Delta   int64  `json:"delta"`
}

// Track handles POST /v1/usage/track. A denied increment is a 429 with the
// same body shape as an allowed one; the caller inspects "allowed".
func (h *Handler) Track(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	var req trackRequest
	if err := httputil.Decode(r.Body, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if req.Feature == "" {
		httputil.Error(w, domain.ErrValidationMissingField.WithDetail("field", "feature"))
		return
	}

	result, err := h.service.Track(r.Context(), userID, req.Feature, req.Delta)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	status := http.StatusOK
	if !result.Allowed {
		status = http.StatusTooManyRequests
	}
	httputil.JSON(w, status, result)
}

// Report handles GET /v1/usage
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	features, err := h.service.Report(r.Context(), userID)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]interface{}{"usage": features})
}
