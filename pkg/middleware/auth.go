package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/fedgate/fedgate/pkg/auth"
)

type authContextKey string

// SubjectKey is the context key holding the authenticated token
// subject.
const SubjectKey authContextKey = "token_subject"

// Authenticator validates a platform bearer token and returns its
// subject.
type Authenticator interface {
	ParseAccessToken(tokenString string) (*auth.TokenSubject, error)
}

// BearerAuth guards a route subtree with platform access tokens. The
// parsed subject is stored in the request context.
func BearerAuth(tokens Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				unauthorized(w, "missing authorization header")
				return
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				unauthorized(w, "authorization header must be a bearer token")
				return
			}

			subject, err := tokens.ParseAccessToken(parts[1])
			if err != nil {
				unauthorized(w, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), SubjectKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SubjectFromContext returns the authenticated subject, or nil.
func SubjectFromContext(ctx context.Context) *auth.TokenSubject {
	subject, _ := ctx.Value(SubjectKey).(*auth.TokenSubject)
	return subject
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + message + `"}`))
}
