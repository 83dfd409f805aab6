package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BillingCycle represents how often a plan bills
type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleYearly  BillingCycle = "yearly"
)

// PlanFeatures is the feature bag stored as JSONB on a plan.
//
// Shape: {"limits": {feature -> int}, "trial": bool,
// "period_days": int, "renewal_plan": plan-id}
type PlanFeatures map[string]interface{}

// Plan represents a subscription plan
type Plan struct {
	ID           int64
	Name         string
	Description  string
	Price        decimal.Decimal
	Currency     string
	BillingCycle BillingCycle
	Features     PlanFeatures
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsTrialPlan reports whether the feature bag explicitly flags this plan as a trial.
func (p *Plan) IsTrialPlan() bool {
	if p.Features == nil {
		return false
	}
	trial, ok := p.Features["trial"].(bool)
	return ok && trial
}

// TrialPeriodDays returns the trial period in days, defaulting to 14 for trial
// plans that do not specify one.
func (p *Plan) TrialPeriodDays() int {
	if !p.IsTrialPlan() {
		return 0
	}
	if v, ok := p.Features["period_days"]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return 14
}

// RenewalPlanID returns the plan id a trial converts to on renewal, or 0 when
// no renewal plan is configured.
func (p *Plan) RenewalPlanID() int64 {
	if !p.IsTrialPlan() {
		return 0
	}
	switch v := p.Features["renewal_plan"].(type) {
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	}
	return 0
}

// FeatureLimit returns the limit for a single feature; missing features are 0.
func (p *Plan) FeatureLimit(feature string) int64 {
	limits := p.FeatureLimits()
	return limits[feature]
}

// FeatureLimits returns all feature limits for this plan.
func (p *Plan) FeatureLimits() map[string]int64 {
	out := make(map[string]int64)
	if p.Features == nil {
		return out
	}
	raw, ok := p.Features["limits"].(map[string]interface{})
	if !ok {
		return out
	}
	for name, v := range raw {
		switch n := v.(type) {
		case float64:
			out[name] = int64(n)
		case int:
			out[name] = int64(n)
		case int64:
			out[name] = n
		}
	}
	return out
}

// PeriodDuration returns the length one successful payment extends a
// subscription by: yearly adds 365 days, monthly adds 30.
func (c BillingCycle) PeriodDuration() time.Duration {
	if c == CycleYearly {
		return 365 * 24 * time.Hour
	}
	return 30 * 24 * time.Hour
}
