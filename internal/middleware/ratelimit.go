package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"authgate/internal/cache"
	"authgate/internal/netutil"
	"authgate/internal/observability/metrics"
)

type RateLimitConfig struct {
	APIPrefix  string // only paths under this prefix are limited
	PerMinute  int
	PerHour    int
	TrustProxy bool
}

// WithRateLimit caps request volume per identity (client IP, sharpened by the
// authenticated principal when present) over two rolling windows. On a
// counter-store fault it fails open: this filter is a secondary defense and
// its backend being down must not take the service down with it.
func WithRateLimit(cfg RateLimitConfig, counters cache.Counters) func(http.Handler) http.Handler {
	prefix := cfg.APIPrefix
	if prefix == "" {
		prefix = "/"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, prefix) || r.URL.Path == "/healthz" {
				next.ServeHTTP(w, r)
				return
			}

			key := rateKey(r, cfg.TrustProxy)
			ctx := r.Context()

			// Both counters advance on every request, rejected or not.
			minuteCount, ok := incr(ctx, counters, key+":m", time.Minute)
			hourCount, okHour := incr(ctx, counters, key+":h", time.Hour)
			if ok && cfg.PerMinute > 0 && minuteCount > int64(cfg.PerMinute) {
				reject(w, 60, "minute")
				return
			}
			if okHour && cfg.PerHour > 0 && hourCount > int64(cfg.PerHour) {
				reject(w, 3600, "hour")
				return
			}

			if ok && cfg.PerMinute > 0 {
				remaining := int64(cfg.PerMinute) - minuteCount
				if remaining < 0 {
					remaining = 0
				}
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.PerMinute))
				w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func incr(ctx context.Context, counters cache.Counters, key string, window time.Duration) (int64, bool) {
	n, err := counters.Incr(ctx, key, window)
	if err != nil {
		// Fail open.
		slog.Warn("rate-limit counter fault, allowing request", "error", err)
		return 0, false
	}
	return n, true
}

func reject(w http.ResponseWriter, retryAfterSeconds int, window string) {
	metrics.RequestsThrottledTotal.WithLabelValues(window).Inc()
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	http.Error(w, "too many requests", http.StatusTooManyRequests)
}

func rateKey(r *http.Request, trustProxy bool) string {
	key := "traffic:" + netutil.ClientIP(r, trustProxy)
	if sub := PrincipalFromContext(r.Context()); sub != "" {
		key += ":" + sub
	}
	return key
}
