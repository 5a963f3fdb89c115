package middleware

import (
	"context"
	"net/http"
	"strings"
)

// TokenVerifier validates a session token and returns the user id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

type contextKey string

const userIDKey contextKey = "user_id"

// Session returns middleware that extracts a Bearer session token from the
// Authorization header and, when it verifies, stores the user id in the
// request context. Requests without a token or with an invalid one pass
// through anonymously; handlers that require a session enforce it
// themselves via UserID.
func Session(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token := BearerToken(r); token != "" {
				if uid, err := verifier.Verify(token); err == nil {
					r = r.WithContext(context.WithValue(r.Context(), userIDKey, uid))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken extracts the token from an Authorization: Bearer header.
func BearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// UserID returns the verified user id stored by Session, if any.
func UserID(ctx context.Context) (string, bool) {
	uid, ok := ctx.Value(userIDKey).(string)
	return uid, ok && uid != ""
}
