package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Payment transaction metrics
	paymentTransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_transactions_total",
		Help: "Total number of payment transactions",
	}, []string{
		"action", // initial, trial, renewal, upgrade
		"status", // success, failed
	})

	paymentAmountCents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_amount_cents_total",
		Help: "Total payment amount in cents (for revenue tracking)",
	}, []string{
		"action",
		"status",
		"currency",
	})

	refundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refunds_total",
		Help: "Total refund initiations",
	}, []string{
		"reason", // trial_refund, requested
		"status", // complete, error
	})

	// Subscription lifecycle metrics
	subscriptionTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subscription_transitions_total",
		Help: "Subscription status transitions applied from payment outcomes",
	}, []string{
		"from",
		"to",
	})

	subscriptionEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subscription_events_total",
		Help: "Subscription audit events recorded",
	}, []string{
		"event_type",
	})

	// Usage metering metrics
	usageChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "usage_checks_total",
		Help: "Usage increments by decision",
	}, []string{
		"feature",
		"decision", // allowed, denied
	})
)

// RecordPaymentTransaction records a settled payment transaction.
// Only successful transactions count toward revenue; PromQL derives the
// success rate from the status label.
func RecordPaymentTransaction(action, status string, amountCents int64, currency string) {
	paymentTransactionsTotal.WithLabelValues(action, status).Inc()
	if status == "success" {
		paymentAmountCents.WithLabelValues(action, status, currency).Add(float64(amountCents))
	}
}

// RecordRefund records a settled refund.
func RecordRefund(reason, status string) {
	refundsTotal.WithLabelValues(reason, status).Inc()
}

// RecordSubscriptionTransition records one status transition.
func RecordSubscriptionTransition(from, to string) {
	subscriptionTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordSubscriptionEvent records one audit event append.
func RecordSubscriptionEvent(eventType string) {
	subscriptionEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordUsageCheck records a usage meter decision.
func RecordUsageCheck(feature string, allowed bool) {
	decision := "allowed"
	if !allowed {
		decision = "denied"
	}
	usageChecksTotal.WithLabelValues(feature, decision).Inc()
}
