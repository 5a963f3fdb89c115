// Package entitlement resolves the viewer's identity and subscription tier
// and exposes the single boolean that gates premium channels and fields.
package entitlement

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/signaldeck/signaldeck/internal/domain"
)

// SessionVerifier validates session tokens issued by the auth service.
// Tokens are HS256 JWTs whose subject is the user id.
type SessionVerifier struct {
	secret []byte
}

// NewSessionVerifier creates a verifier for the given shared HMAC secret.
func NewSessionVerifier(secret string) *SessionVerifier {
	return &SessionVerifier{secret: []byte(secret)}
}

// Verify parses and validates a session token and returns the user id. Any
// failure (bad signature, expired, wrong method, missing subject) maps to
// ErrUnauthorized; callers treat it the same as having no session.
func (v *SessionVerifier) Verify(token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("entitlement: verify session: %w", domain.ErrUnauthorized)
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("entitlement: session without subject: %w", domain.ErrUnauthorized)
	}
	return sub, nil
}
