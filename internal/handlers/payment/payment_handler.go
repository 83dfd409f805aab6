package payment

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/billinglab/billing-backend/internal/domain"
	"github.com/billinglab/billing-backend/internal/domain/models"
	"github.com/billinglab/billing-backend/internal/handlers/httputil"
	"github.com/billinglab/billing-backend/internal/services/payment"
)

// Handler serves the payment service's internal API. All routes are gated
// behind service tokens; nothing here is reachable by end users.
type Handler struct {
	service *payment.Service
	logger  *zap.Logger
}

// NewHandler creates a new payment handler
func NewHandler(service *payment.Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type processRequest struct {
	SubscriptionID string            `json:"subscription_id,omitempty"`
	Amount         string            `json:"amount"`
	Currency       string            `json:"currency"`
	Card           map[string]string `json:"card,omitempty"`
	Trial          bool              `json:"trial,omitempty"`
	Renewal        bool              `json:"renewal,omitempty"`
	Upgrade        bool              `json:"upgrade,omitempty"`
}

type processResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
}

type transactionResponse struct {
	ID               string                 `json:"id"`
	SubscriptionID   *string                `json:"subscription_id,omitempty"`
	Amount           string                 `json:"amount"`
	Currency         string                 `json:"currency"`
	Status           string                 `json:"status"`
	GatewayReference string                 `json:"gateway_reference,omitempty"`
	Error            string                 `json:"error,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
}

// Process handles POST /internal/v1/payments. A declined charge is a settled
// outcome and returns 402 with the transaction in the body; only unsettled
// failures return 5xx so the caller's queue retry kicks in.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := httputil.Decode(r.Body, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httputil.Error(w, domain.WrapError(domain.ErrorCodeValidationFailed, "invalid amount", err))
		return
	}

	serviceReq := payment.ProcessRequest{
		Amount:         amount,
		Currency:       req.Currency,
		CardNumber:     req.Card["number"],
		CardExpiry:     req.Card["expiry"],
		CardCVV:        req.Card["cvv"],
		CardholderName: req.Card["name"],
		Trial:          req.Trial,
		Renewal:        req.Renewal,
		Upgrade:        req.Upgrade,
	}
	if req.SubscriptionID != "" {
		subID, err := uuid.Parse(req.SubscriptionID)
		if err != nil {
			httputil.Error(w, domain.WrapError(domain.ErrorCodeValidationFailed, "invalid subscription_id", err))
			return
		}
		serviceReq.SubscriptionID = &subID
	}

	txn, err := h.service.Process(r.Context(), serviceReq)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	status := http.StatusOK
	if !txn.IsSuccessful() {
		status = http.StatusPaymentRequired
	}
	httputil.JSON(w, status, processResponse{
		TransactionID: txn.ID.String(),
		Status:        string(txn.Status),
		Error:         txn.ErrorMessage,
	})
}

// GetTransaction handles GET /internal/v1/transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, domain.WrapError(domain.ErrorCodeValidationFailed, "invalid transaction id", err))
		return
	}

	txn, err := h.service.GetTransaction(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, toTransactionResponse(txn))
}

func toTransactionResponse(txn *models.Transaction) transactionResponse {
	out := transactionResponse{
		ID:               txn.ID.String(),
		Amount:           txn.Amount.String(),
		Currency:         txn.Currency,
		Status:           string(txn.Status),
		GatewayReference: txn.GatewayReference,
		Error:            txn.ErrorMessage,
		Metadata:         txn.Metadata,
		CreatedAt:        txn.CreatedAt,
	}
	if txn.SubscriptionID != nil {
		s := txn.SubscriptionID.String()
		out.SubscriptionID = &s
	}
	return out
}
