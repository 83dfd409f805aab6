package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/billinglab/billing-backend/internal/domain"
)

// TokenKind separates end-user access tokens from short-lived
// service-to-service tokens.
type TokenKind string

const (
	TokenKindUser    TokenKind = "user"
	TokenKindService TokenKind = "service"
)

// Claims are the JWT claims for both token kinds. UserID is set only on user
// tokens, ServiceName only on service tokens.
type Claims struct {
	jwt.RegisteredClaims
	Kind        TokenKind `json:"kind"`
	UserID      int64     `json:"user_id,omitempty"`
	ServiceName string    `json:"service,omitempty"`
}

// JWTManager issues and validates HS256 tokens signed with the shared
// application secret.
type JWTManager struct {
	secret        []byte
	issuer        string
	userExpiry    time.Duration
	serviceExpiry time.Duration
}

// NewJWTManager creates a JWT manager.
func NewJWTManager(secret, issuer string, userExpiry, serviceExpiry time.Duration) *JWTManager {
	return &JWTManager{
		secret:        []byte(secret),
		issuer:        issuer,
		userExpiry:    userExpiry,
		serviceExpiry: serviceExpiry,
	}
}

// IssueUserToken creates an access token for an authenticated user.
func (m *JWTManager) IssueUserToken(userID int64) (string, error) {
	return m.sign(Claims{
		RegisteredClaims: m.registered(fmt.Sprintf("%d", userID), m.userExpiry),
		Kind:             TokenKindUser,
		UserID:           userID,
	})
}

// IssueServiceToken creates a short-lived token for cross-service calls.
func (m *JWTManager) IssueServiceToken(serviceName string) (string, error) {
	return m.sign(Claims{
		RegisteredClaims: m.registered(serviceName, m.serviceExpiry),
		Kind:             TokenKindService,
		ServiceName:      serviceName,
	})
}

// Validate parses and verifies a token of the expected kind.
func (m *JWTManager) Validate(tokenString string, kind TokenKind) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeAuthInvalid, "invalid token", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, domain.ErrAuthInvalid
	}
	if claims.Kind != kind {
		return nil, domain.ErrAuthInvalid
	}
	return claims, nil
}

func (m *JWTManager) registered(subject string, expiry time.Duration) jwt.RegisteredClaims {
	now := time.Now()
	return jwt.RegisteredClaims{
		Issuer:    m.issuer,
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ID:        uuid.NewString(),
	}
}

func (m *JWTManager) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
