package subscription

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/billinglab/billing-backend/internal/auth"
	"github.com/billinglab/billing-backend/internal/domain"
	"github.com/billinglab/billing-backend/internal/domain/models"
	"github.com/billinglab/billing-backend/internal/domain/ports"
	"github.com/billinglab/billing-backend/internal/handlers/httputil"
	"github.com/billinglab/billing-backend/internal/services/subscription"
)

// Handler serves subscription lifecycle and plan catalog endpoints.
type Handler struct {
	service *subscription.Service
	plans   ports.PlanRepository
	logger  *zap.Logger
}

// NewHandler creates a new subscription handler
func NewHandler(service *subscription.Service, plans ports.PlanRepository, logger *zap.Logger) *Handler {
	return &Handler{service: service, plans: plans, logger: logger}
}

type createRequest struct {
	PlanID int64                    `json:"plan_id"`
	Card   subscription.CardDetails `json:"card"`
}

type changePlanRequest struct {
	NewPlanID int64 `json:"new_plan_id"`
}

type subscriptionResponse struct {
	ID            string     `json:"id"`
	PlanID        int64      `json:"plan_id"`
	Status        string     `json:"status"`
	StartDate     time.Time  `json:"start_date"`
	EndDate       time.Time  `json:"end_date"`
	CanceledAt    *time.Time `json:"canceled_at,omitempty"`
	DaysRemaining int        `json:"days_remaining"`
}

type eventResponse struct {
	ID            int64                  `json:"id"`
	EventType     string                 `json:"event_type"`
	TransactionID *string                `json:"transaction_id,omitempty"`
	OldPlanID     *int64                 `json:"old_plan_id,omitempty"`
	NewPlanID     *int64                 `json:"new_plan_id,omitempty"`
	EffectiveAt   time.Time              `json:"effective_at"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

type planResponse struct {
	ID           int64               `json:"id"`
	Name         string              `json:"name"`
	Description  string              `json:"description,omitempty"`
	Price        string              `json:"price"`
	Currency     string              `json:"currency"`
	BillingCycle string              `json:"billing_cycle"`
	Trial        bool                `json:"trial"`
	Features     models.PlanFeatures `json:"features"`
}

// Create handles POST /v1/subscriptions
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	var req createRequest
	if err := httputil.Decode(r.Body, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if req.PlanID == 0 {
		httputil.Error(w, domain.ErrValidationMissingField.WithDetail("field", "plan_id"))
		return
	}

	sub, err := h.service.Create(r.Context(), subscription.CreateRequest{
		UserID: userID,
		PlanID: req.PlanID,
		Card:   req.Card,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	// 202: the charge is asynchronous, access starts when it settles.
	httputil.JSON(w, http.StatusAccepted, toSubscriptionResponse(sub))
}

// Get handles GET /v1/subscriptions/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	id, err := subscriptionID(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	sub, err := h.service.Get(r.Context(), userID, id)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

// List handles GET /v1/subscriptions
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	subs, err := h.service.ListByUser(r.Context(), userID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	out := make([]subscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		out = append(out, toSubscriptionResponse(sub))
	}
	httputil.JSON(w, http.StatusOK, map[string]interface{}{"subscriptions": out})
}

// Cancel handles DELETE /v1/subscriptions/{id}
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	id, err := subscriptionID(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	if err := h.service.Cancel(r.Context(), userID, id); err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// ChangePlan handles POST /v1/subscriptions/{id}/change-plan
func (h *Handler) ChangePlan(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	id, err := subscriptionID(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var req changePlanRequest
	if err := httputil.Decode(r.Body, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if req.NewPlanID == 0 {
		httputil.Error(w, domain.ErrValidationMissingField.WithDetail("field", "new_plan_id"))
		return
	}

	if err := h.service.RequestPlanChange(r.Context(), userID, id, req.NewPlanID); err != nil {
		httputil.Error(w, err)
		return
	}
	// The swap is applied by the plan change worker.
	httputil.JSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
}

// ListEvents handles GET /v1/subscriptions/{id}/events
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	id, err := subscriptionID(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	events, err := h.service.ListEvents(r.Context(), userID, id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	out := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, toEventResponse(ev))
	}
	httputil.JSON(w, http.StatusOK, map[string]interface{}{"events": out})
}

// ListPlans handles GET /v1/plans
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.plans.ListActive(r.Context(), nil)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	out := make([]planResponse, 0, len(plans))
	for _, p := range plans {
		out = append(out, planResponse{
			ID:           p.ID,
			Name:         p.Name,
			Description:  p.Description,
			Price:        p.Price.String(),
			Currency:     p.Currency,
			BillingCycle: string(p.BillingCycle),
			Trial:        p.IsTrialPlan(),
			Features:     p.Features,
		})
	}
	httputil.JSON(w, http.StatusOK, map[string]interface{}{"plans": out})
}

func subscriptionID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, domain.WrapError(domain.ErrorCodeValidationFailed, "invalid subscription id", err)
	}
	return id, nil
}

func toSubscriptionResponse(sub *models.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:            sub.ID.String(),
		PlanID:        sub.PlanID,
		Status:        string(sub.Status),
		StartDate:     sub.StartDate,
		EndDate:       sub.EndDate,
		CanceledAt:    sub.CanceledAt,
		DaysRemaining: sub.DaysRemaining(time.Now()),
	}
}

func toEventResponse(ev *models.SubscriptionEvent) eventResponse {
	out := eventResponse{
		ID:          ev.ID,
		EventType:   ev.EventType,
		OldPlanID:   ev.OldPlanID,
		NewPlanID:   ev.NewPlanID,
		EffectiveAt: ev.EffectiveAt,
		Metadata:    ev.Metadata,
	}
	if ev.TransactionID != nil {
		s := ev.TransactionID.String()
		out.TransactionID = &s
	}
	return out
}
