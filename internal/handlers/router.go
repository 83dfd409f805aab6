package handlers

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/billinglab/billing-backend/internal/auth"
	adminhandler "github.com/billinglab/billing-backend/internal/handlers/admin"
	paymenthandler "github.com/billinglab/billing-backend/internal/handlers/payment"
	subscriptionhandler "github.com/billinglab/billing-backend/internal/handlers/subscription"
	usagehandler "github.com/billinglab/billing-backend/internal/handlers/usage"
	userhandler "github.com/billinglab/billing-backend/internal/handlers/user"
	webhookhandler "github.com/billinglab/billing-backend/internal/handlers/webhook"
	"github.com/billinglab/billing-backend/internal/middleware"
	pkgmiddleware "github.com/billinglab/billing-backend/pkg/middleware"
	"github.com/billinglab/billing-backend/pkg/observability"
)

// SubscriptionRouterDeps collects everything the subscription API needs.
type SubscriptionRouterDeps struct {
	Users         *userhandler.Handler
	Subscriptions *subscriptionhandler.Handler
	Usage         *usagehandler.Handler
	Webhooks      *webhookhandler.Handler
	Admin         *adminhandler.Handler
	Tokens        *auth.JWTManager
	RateLimiter   *pkgmiddleware.RateLimiter
	Development   bool
	Logger        *zap.Logger
}

// NewSubscriptionRouter builds the subscription service's public API.
func NewSubscriptionRouter(deps SubscriptionRouterDeps) chi.Router {
	r := newBaseRouter(deps.Logger, deps.Development)
	if deps.RateLimiter != nil {
		r.Use(deps.RateLimiter.Middleware)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/register", deps.Users.Register)
		r.Post("/auth/login", deps.Users.Login)
		r.Get("/plans", deps.Subscriptions.ListPlans)

		// Outcome webhooks authenticate with an HMAC signature, not a JWT.
		r.Post("/webhooks/payment", deps.Webhooks.ReceivePayment)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUser(deps.Tokens))

			r.Get("/auth/me", deps.Users.Me)

			r.Route("/subscriptions", func(r chi.Router) {
				r.Post("/", deps.Subscriptions.Create)
				r.Get("/", deps.Subscriptions.List)
				r.Get("/{id}", deps.Subscriptions.Get)
				r.Delete("/{id}", deps.Subscriptions.Cancel)
				r.Post("/{id}/change-plan", deps.Subscriptions.ChangePlan)
				r.Get("/{id}/events", deps.Subscriptions.ListEvents)
			})

			r.Route("/usage", func(r chi.Router) {
				r.Post("/track", deps.Usage.Track)
				r.Get("/", deps.Usage.Report)
			})
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireService(deps.Tokens))
		r.Get("/internal/v1/queues", deps.Admin.QueueStats)
	})

	return r
}

// PaymentRouterDeps collects everything the payment internal API needs.
type PaymentRouterDeps struct {
	Payments    *paymenthandler.Handler
	Admin       *adminhandler.Handler
	Tokens      *auth.JWTManager
	Development bool
	Logger      *zap.Logger
}

// NewPaymentRouter builds the payment service's internal API. Every route
// requires a service token.
func NewPaymentRouter(deps PaymentRouterDeps) chi.Router {
	r := newBaseRouter(deps.Logger, deps.Development)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireService(deps.Tokens))

		r.Route("/internal/v1", func(r chi.Router) {
			r.Post("/payments", deps.Payments.Process)
			r.Get("/transactions/{id}", deps.Payments.GetTransaction)
			r.Get("/queues", deps.Admin.QueueStats)
		})
	})

	return r
}

func newBaseRouter(logger *zap.Logger, development bool) chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.SecurityHeaders(development))
	r.Use(middleware.RequestLogger(logger))
	r.Use(observability.MetricsMiddleware)
	r.Use(pkgmiddleware.GzipHandler(logger))
	return r
}
