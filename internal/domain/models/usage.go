package models

import "time"

// UserUsage is the persistent mirror of the fast-path usage counters.
// (user_id, feature_name) is unique.
type UserUsage struct {
	ID          int64
	UserID      int64
	FeatureName string
	UsageCount  int64
	ResetAt     time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NextMonthlyReset returns the first day of the month after now, at 00:00 UTC.
func NextMonthlyReset(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}
