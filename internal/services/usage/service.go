package usage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/billinglab/billing-backend/internal/domain"
	"github.com/billinglab/billing-backend/internal/domain/models"
	"github.com/billinglab/billing-backend/internal/domain/ports"
	meter "github.com/billinglab/billing-backend/internal/usage"
	"github.com/billinglab/billing-backend/pkg/observability"
)

// TrackResult is the outcome of a usage increment.
type TrackResult struct {
	Allowed bool      `json:"allowed"`
	Feature string    `json:"feature"`
	Count   int64     `json:"current_usage"`
	Limit   int64     `json:"limit"`
	ResetAt time.Time `json:"reset_at"`
}

// FeatureUsage is one feature's consumption against its plan limit.
type FeatureUsage struct {
	Feature string    `json:"feature"`
	Count   int64     `json:"current_usage"`
	Limit   int64     `json:"limit"`
	ResetAt time.Time `json:"reset_at"`
}

// Service enforces plan feature limits. The redis meter is the fast,
// authoritative counter; postgres holds a durable mirror updated on every
// allowed increment.
type Service struct {
	db     ports.DBPort
	subs   ports.SubscriptionRepository
	plans  ports.PlanRepository
	usage  ports.UsageRepository
	meter  *meter.Meter
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a new usage service
func NewService(
	db ports.DBPort,
	subs ports.SubscriptionRepository,
	plans ports.PlanRepository,
	usageRepo ports.UsageRepository,
	m *meter.Meter,
	logger *zap.Logger,
) *Service {
	return &Service{
		db:     db,
		subs:   subs,
		plans:  plans,
		usage:  usageRepo,
		meter:  m,
		logger: logger,
		now:    time.Now,
	}
}

// Track charges delta units of a feature against the user's plan limit.
// Denials are a normal result, not an error.
func (s *Service) Track(ctx context.Context, userID int64, feature string, delta int64) (*TrackResult, error) {
	if feature == "" {
		return nil, domain.ErrValidationMissingField.WithDetail("field", "feature")
	}
	if delta <= 0 {
		delta = 1
	}

	plan, err := s.activePlan(ctx, userID)
	if err != nil {
		return nil, err
	}
	limits := plan.FeatureLimits()
	limit, ok := limits[feature]
	if !ok {
		return nil, domain.ErrFeatureUnavailable.WithDetail("feature", feature)
	}

	decision, err := s.meter.Increment(ctx, userID, feature, delta, limit)
	if err != nil {
		return nil, domain.Retryable(err)
	}

	observability.RecordUsageCheck(feature, decision.Allowed)

	if decision.Allowed {
		// Mirror the settled counter. The mirror is for reporting and
		// rebuild; a write failure must not take back the grant.
		if err := s.usage.Upsert(ctx, nil, userID, feature, decision.Count, decision.ResetAt); err != nil {
			s.logger.Warn("usage mirror write failed",
				zap.Int64("user_id", userID),
				zap.String("feature", feature),
				zap.Error(err))
		}
	}

	return &TrackResult{
		Allowed: decision.Allowed,
		Feature: feature,
		Count:   decision.Count,
		Limit:   decision.Limit,
		ResetAt: decision.ResetAt,
	}, nil
}

// Report returns every plan feature with its current consumption.
func (s *Service) Report(ctx context.Context, userID int64) ([]FeatureUsage, error) {
	plan, err := s.activePlan(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]FeatureUsage, 0, len(plan.FeatureLimits()))
	for feature, limit := range plan.FeatureLimits() {
		count, resetAt, err := s.meter.Peek(ctx, userID, feature)
		if err != nil {
			return nil, domain.Retryable(err)
		}
		if resetAt.IsZero() {
			resetAt = models.NextMonthlyReset(s.now())
		}
		out = append(out, FeatureUsage{Feature: feature, Count: count, Limit: limit, ResetAt: resetAt})
	}
	return out, nil
}

// Sync mirrors the live counters for one user into postgres. Queue-driven:
// the usage_sync action lands here.
func (s *Service) Sync(ctx context.Context, userID int64) error {
	plan, err := s.activePlan(ctx, userID)
	if err != nil {
		return err
	}

	return s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		for feature := range plan.FeatureLimits() {
			count, resetAt, err := s.meter.Peek(ctx, userID, feature)
			if err != nil {
				return domain.Retryable(err)
			}
			if resetAt.IsZero() {
				continue
			}
			if err := s.usage.Upsert(ctx, tx, userID, feature, count, resetAt); err != nil {
				return err
			}
		}
		return nil
	})
}

// ResetAll clears every counter for a user, both live and mirrored. Plan
// changes call this so the new plan starts from a clean slate.
func (s *Service) ResetAll(ctx context.Context, userID int64, features []string) error {
	for _, feature := range features {
		if err := s.meter.Clear(ctx, userID, feature); err != nil {
			return domain.Retryable(err)
		}
	}
	return s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := s.usage.ResetAll(ctx, tx, userID)
		return err
	})
}

func (s *Service) activePlan(ctx context.Context, userID int64) (*models.Plan, error) {
	sub, err := s.subs.GetActiveByUser(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domain.ErrNoActiveSubscription
	}
	return s.plans.GetByID(ctx, nil, sub.PlanID)
}
