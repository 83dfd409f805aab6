package user

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/billinglab/billing-backend/internal/auth"
	"github.com/billinglab/billing-backend/internal/domain"
	"github.com/billinglab/billing-backend/internal/domain/models"
	"github.com/billinglab/billing-backend/internal/handlers/httputil"
	"github.com/billinglab/billing-backend/internal/services/user"
)

// Handler serves registration, login, and profile lookups.
type Handler struct {
	service *user.Service
	logger  *zap.Logger
}

// NewHandler creates a new user handler
func NewHandler(service *user.Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	CreatedAt time.Time `json:"created_at"`
}

type loginResponse struct {
	Token string       `json:"access_token"`
	User  userResponse `json:"user"`
}

// Register handles POST /v1/auth/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httputil.Decode(r.Body, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	u, err := h.service.Register(r.Context(), user.RegisterRequest{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusCreated, toUserResponse(u))
}

// Login handles POST /v1/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httputil.Decode(r.Body, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	token, u, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, loginResponse{Token: token, User: toUserResponse(u)})
}

// Me handles GET /v1/auth/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == 0 {
		httputil.Error(w, domain.ErrAuthMissing)
		return
	}

	u, err := h.service.Get(r.Context(), userID)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	if u == nil {
		httputil.Error(w, domain.ErrAuthInvalid)
		return
	}

	httputil.JSON(w, http.StatusOK, toUserResponse(u))
}

func toUserResponse(u *models.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		CreatedAt: u.CreatedAt,
	}
}
