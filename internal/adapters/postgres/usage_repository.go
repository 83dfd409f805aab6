package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/billinglab/billing-backend/internal/domain/models"
	"github.com/billinglab/billing-backend/internal/domain/ports"
)

// UsageRepository implements ports.UsageRepository against PostgreSQL
type UsageRepository struct {
	db ports.DBPort
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db ports.DBPort) *UsageRepository {
	return &UsageRepository{db: db}
}

func (r *UsageRepository) q(tx ports.DBTX) ports.DBTX {
	if tx != nil {
		return tx
	}
	return r.db.GetDB()
}

// Upsert writes the counter value the fast path just settled on. The live
// redis counter is authoritative; this row is the durable mirror.
func (r *UsageRepository) Upsert(ctx context.Context, tx ports.DBTX, userID int64, feature string, count int64, resetAt time.Time) error {
	_, err := r.q(tx).Exec(ctx, `
		INSERT INTO user_usage (user_id, feature_name, usage_count, reset_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, feature_name)
		DO UPDATE SET usage_count = EXCLUDED.usage_count,
		              reset_at = EXCLUDED.reset_at,
		              updated_at = now()`,
		userID, feature, count, resetAt)
	if err != nil {
		return fmt.Errorf("upsert usage: %w", err)
	}
	return nil
}

// GetByUserFeature returns the mirrored counter, or nil when never used.
func (r *UsageRepository) GetByUserFeature(ctx context.Context, tx ports.DBTX, userID int64, feature string) (*models.UserUsage, error) {
	var u models.UserUsage
	err := r.q(tx).QueryRow(ctx, `
		SELECT id, user_id, feature_name, usage_count, reset_at, created_at, updated_at
		FROM user_usage WHERE user_id = $1 AND feature_name = $2`,
		userID, feature,
	).Scan(&u.ID, &u.UserID, &u.FeatureName, &u.UsageCount, &u.ResetAt, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get usage: %w", err)
	}
	return &u, nil
}

// ListByUser returns all mirrored counters for a user.
func (r *UsageRepository) ListByUser(ctx context.Context, tx ports.DBTX, userID int64) ([]*models.UserUsage, error) {
	rows, err := r.q(tx).Query(ctx, `
		SELECT id, user_id, feature_name, usage_count, reset_at, created_at, updated_at
		FROM user_usage WHERE user_id = $1 ORDER BY feature_name`, userID)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	defer rows.Close()

	var out []*models.UserUsage
	for rows.Next() {
		var u models.UserUsage
		if err := rows.Scan(&u.ID, &u.UserID, &u.FeatureName, &u.UsageCount,
			&u.ResetAt, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}

// Reset zeroes one feature counter.
func (r *UsageRepository) Reset(ctx context.Context, tx ports.DBTX, userID int64, feature string) error {
	_, err := r.q(tx).Exec(ctx, `
		UPDATE user_usage SET usage_count = 0, updated_at = now()
		WHERE user_id = $1 AND feature_name = $2`, userID, feature)
	if err != nil {
		return fmt.Errorf("reset usage: %w", err)
	}
	return nil
}

// ResetAll zeroes every counter for a user and returns how many rows changed.
func (r *UsageRepository) ResetAll(ctx context.Context, tx ports.DBTX, userID int64) (int64, error) {
	tag, err := r.q(tx).Exec(ctx, `
		UPDATE user_usage SET usage_count = 0, updated_at = now()
		WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("reset all usage: %w", err)
	}
	return tag.RowsAffected(), nil
}
