package middleware

import (
	"context"
	"net/http"
	"strings"

	"authgate/internal/service"
)

type principalKey struct{}

// WithBearerPrincipal extracts the subject from a valid Authorization bearer
// token and stashes it in the request context. It never rejects: endpoints
// that require a principal enforce that themselves; here the subject only
// sharpens the rate-limit identity.
func WithBearerPrincipal(tokens service.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if raw := bearerToken(r); raw != "" {
				if claims, err := tokens.Verify(raw); err == nil {
					r = r.WithContext(context.WithValue(r.Context(), principalKey{}, claims.Subject))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

func PrincipalFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(principalKey{}).(string); ok {
		return v
	}
	return ""
}
