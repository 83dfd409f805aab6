package user

import (
	"context"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/billinglab/billing-backend/internal/auth"
	"github.com/billinglab/billing-backend/internal/domain"
	"github.com/billinglab/billing-backend/internal/domain/models"
	"github.com/billinglab/billing-backend/internal/domain/ports"
)

// Service handles account registration and login.
type Service struct {
	db     ports.DBPort
	users  ports.UserRepository
	tokens *auth.JWTManager
	logger *zap.Logger
}

// NewService creates a new user service
func NewService(db ports.DBPort, users ports.UserRepository, tokens *auth.JWTManager, logger *zap.Logger) *Service {
	return &Service{db: db, users: users, tokens: tokens, logger: logger}
}

// RegisterRequest is the input to Register.
type RegisterRequest struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Register creates an account with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*models.User, error) {
	if req.Email == "" || req.Password == "" {
		return nil, domain.ErrValidationMissingField.WithDetail("fields", "email, password")
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Email:        req.Email,
		PasswordHash: hash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
	}

	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		existing, err := s.users.GetByEmail(ctx, tx, req.Email)
		if err != nil {
			return err
		}
		if existing != nil {
			return domain.NewDomainError(domain.ErrorCodeValidationFailed, "email already registered")
		}
		return s.users.Create(ctx, tx, user)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered", zap.Int64("user_id", user.ID))
	return user, nil
}

// Login verifies credentials and issues an access token.
func (s *Service) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	user, err := s.users.GetByEmail(ctx, nil, email)
	if err != nil {
		return "", nil, err
	}
	if user == nil || !auth.CheckPassword(user.PasswordHash, password) {
		return "", nil, domain.ErrAuthInvalid
	}

	token, err := s.tokens.IssueUserToken(user.ID)
	if err != nil {
		return "", nil, err
	}
	s.logger.Info("user logged in", zap.Int64("user_id", user.ID))
	return token, user, nil
}

// Get returns a user by id.
func (s *Service) Get(ctx context.Context, id int64) (*models.User, error) {
	user, err := s.users.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed, "user not found")
	}
	return user, nil
}
