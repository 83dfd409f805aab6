package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/billinglab/billing-backend/internal/domain/models"
	"github.com/billinglab/billing-backend/internal/domain/ports"
)

// UserRepository implements ports.UserRepository against PostgreSQL
type UserRepository struct {
	db ports.DBPort
}

// NewUserRepository creates a new user repository
func NewUserRepository(db ports.DBPort) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) q(tx ports.DBTX) ports.DBTX {
	if tx != nil {
		return tx
	}
	return r.db.GetDB()
}

// Create inserts a user and backfills the generated id and timestamps.
func (r *UserRepository) Create(ctx context.Context, tx ports.DBTX, user *models.User) error {
	err := r.q(tx).QueryRow(ctx, `
		INSERT INTO users (email, password_hash, first_name, last_name)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`,
		user.Email, user.PasswordHash, user.FirstName, user.LastName,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by id.
func (r *UserRepository) GetByID(ctx context.Context, tx ports.DBTX, id int64) (*models.User, error) {
	return r.get(ctx, tx, `WHERE id = $1`, id)
}

// GetByEmail retrieves a user by email.
func (r *UserRepository) GetByEmail(ctx context.Context, tx ports.DBTX, email string) (*models.User, error) {
	return r.get(ctx, tx, `WHERE email = $1`, email)
}

func (r *UserRepository) get(ctx context.Context, tx ports.DBTX, where string, arg interface{}) (*models.User, error) {
	var u models.User
	err := r.q(tx).QueryRow(ctx, `
		SELECT id, email, password_hash, first_name, last_name, created_at, updated_at
		FROM users `+where, arg,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}
