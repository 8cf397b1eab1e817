package middleware

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// JWTValidator validates HMAC-signed operator tokens.
type JWTValidator struct {
	signingKey []byte
}

// NewJWTValidator creates a validator for tokens signed with the given key.
func NewJWTValidator(signingKey string) *JWTValidator {
	return &JWTValidator{signingKey: []byte(signingKey)}
}

type operatorClaims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// ValidateToken parses and verifies a bearer token, returning its claims.
func (v *JWTValidator) ValidateToken(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &operatorClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	claims, ok := parsed.Claims.(*operatorClaims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return &Claims{UserID: claims.Subject, Roles: claims.Roles}, nil
}

// SignToken mints a token for the given subject and roles. Used by dev
// tooling and tests; production tokens come from the identity provider.
func (v *JWTValidator) SignToken(subject string, roles []string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, operatorClaims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: subject,
		},
	})
	return token.SignedString(v.signingKey)
}
