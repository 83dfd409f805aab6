package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/billinglab/billing-backend/internal/domain"
	"github.com/billinglab/billing-backend/internal/domain/models"
	"github.com/billinglab/billing-backend/internal/domain/ports"
)

// PlanRepository implements ports.PlanRepository against PostgreSQL
type PlanRepository struct {
	db ports.DBPort
}

// NewPlanRepository creates a new plan repository
func NewPlanRepository(db ports.DBPort) *PlanRepository {
	return &PlanRepository{db: db}
}

func (r *PlanRepository) q(tx ports.DBTX) ports.DBTX {
	if tx != nil {
		return tx
	}
	return r.db.GetDB()
}

// Create inserts a plan and backfills the generated id and timestamps.
func (r *PlanRepository) Create(ctx context.Context, tx ports.DBTX, plan *models.Plan) error {
	price, err := decimalToNumeric(plan.Price)
	if err != nil {
		return err
	}
	features, err := json.Marshal(plan.Features)
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}

	err = r.q(tx).QueryRow(ctx, `
		INSERT INTO plans (name, description, price, currency, billing_cycle, features, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		plan.Name, plan.Description, price, plan.Currency, string(plan.BillingCycle), features, plan.IsActive,
	).Scan(&plan.ID, &plan.CreatedAt, &plan.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create plan: %w", err)
	}
	return nil
}

// GetByID retrieves a plan by id. Missing plans map to the domain not-found error.
func (r *PlanRepository) GetByID(ctx context.Context, tx ports.DBTX, id int64) (*models.Plan, error) {
	row := r.q(tx).QueryRow(ctx, `
		SELECT id, name, description, price, currency, billing_cycle, features, is_active, created_at, updated_at
		FROM plans WHERE id = $1`, id)
	plan, err := scanPlan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return plan, nil
}

// ListActive returns all active plans ordered by price.
func (r *PlanRepository) ListActive(ctx context.Context, tx ports.DBTX) ([]*models.Plan, error) {
	rows, err := r.q(tx).Query(ctx, `
		SELECT id, name, description, price, currency, billing_cycle, features, is_active, created_at, updated_at
		FROM plans WHERE is_active ORDER BY price`)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []*models.Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

func scanPlan(row pgx.Row) (*models.Plan, error) {
	var p models.Plan
	var price pgtype.Numeric
	var cycle string
	var features []byte
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &price, &p.Currency, &cycle,
		&features, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	dec, err := pgNumericToDecimal(price)
	if err != nil {
		return nil, fmt.Errorf("convert price: %w", err)
	}
	p.Price = dec
	p.BillingCycle = models.BillingCycle(cycle)
	if len(features) > 0 {
		if err := json.Unmarshal(features, &p.Features); err != nil {
			return nil, fmt.Errorf("unmarshal features: %w", err)
		}
	}
	return &p, nil
}
