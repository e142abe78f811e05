package middleware

import (
	"crypto/subtle"
	"net/http"

	"authgate/internal/observability/metrics"
)

type CSRFConfig struct {
	CookieName string
	HeaderName string
	// Paths lists the cookie-authenticated, state-mutating endpoints the
	// guard protects. Bearer-only endpoints stay off this list: without
	// ambient credentials there is nothing to forge.
	Paths []string
}

// WithCSRFGuard enforces the double-submit check: the CSRF cookie value must
// come back verbatim in the companion header. Absence of either, or any
// mismatch, stops the request cold.
func WithCSRFGuard(cfg CSRFConfig) func(http.Handler) http.Handler {
	protected := make(map[string]bool, len(cfg.Paths))
	for _, p := range cfg.Paths {
		protected[p] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !protected[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get(cfg.HeaderName)
			cookie, err := r.Cookie(cfg.CookieName)
			if err != nil || header == "" ||
				subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(header)) != 1 {
				metrics.CSRFRejectionsTotal.WithLabelValues().Inc()
				http.Error(w, "csrf token mismatch", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
