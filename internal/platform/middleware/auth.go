package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// Claims represents the claims we expect from the token validator.
type Claims struct {
	UserID string
	Roles  []string
}

// HasRole reports whether the claims carry the given role.
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// TokenValidator validates bearer tokens presented to operator endpoints.
type TokenValidator interface {
	ValidateToken(tokenString string) (*Claims, error)
}

type contextKeyClaims struct{}

// ContextKeyClaims is exported for use in handlers.
var ContextKeyClaims = contextKeyClaims{}

// GetClaims retrieves the authenticated claims from the context.
func GetClaims(ctx context.Context) *Claims {
	claims, ok := ctx.Value(ContextKeyClaims).(*Claims)
	if !ok {
		return nil
	}
	return claims
}

// GetUserID retrieves the authenticated user ID from the context.
func GetUserID(ctx context.Context) string {
	if claims := GetClaims(ctx); claims != nil {
		return claims.UserID
	}
	return ""
}

// RequireAuth rejects requests without a valid bearer token.
func RequireAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			claims, err := validator.ValidateToken(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				logger.WarnContext(r.Context(), "token validation failed",
					"request_id", GetRequestID(r.Context()),
					"error", err.Error(),
				)
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ContextKeyClaims, claims)))
		})
	}
}
