package middleware

import (
	"net/http"
	"strings"

	"github.com/billinglab/billing-backend/internal/auth"
	"github.com/billinglab/billing-backend/internal/domain"
	"github.com/billinglab/billing-backend/internal/handlers/httputil"
)

// RequireUser authenticates requests with a user bearer token and stores the
// claims on the request context.
func RequireUser(tokens *auth.JWTManager) func(http.Handler) http.Handler {
	return requireToken(tokens, auth.TokenKindUser)
}

// RequireService authenticates service-to-service calls on internal routes.
func RequireService(tokens *auth.JWTManager) func(http.Handler) http.Handler {
	return requireToken(tokens, auth.TokenKindService)
}

func requireToken(tokens *auth.JWTManager, kind auth.TokenKind) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				httputil.Error(w, domain.ErrAuthMissing)
				return
			}
			claims, err := tokens.Validate(raw, kind)
			if err != nil {
				httputil.Error(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
