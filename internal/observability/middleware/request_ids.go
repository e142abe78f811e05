package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

type ctxKey string

const (
	CtxKeyRequestID ctxKey = "request_id"

	RequestIDHeader = "X-Request-ID"

	// Client-supplied ids are echoed but never unbounded.
	maxRequestIDLength = 128
)

func generateID() string {
	buf := make([]byte, 8) // 16 hex chars
	if _, err := rand.Read(buf); err == nil {
		return hex.EncodeToString(buf)
	}
	// Fallback is monotonic-ish; keeps IDs non-empty even if entropy unavailable.
	return strconv.FormatInt(time.Now().UnixNano(), 36)
}

// WithRequestID tags every request with a correlation id: echoed when the
// client supplied one (truncated to a sane bound), generated otherwise. The
// id travels in the request context and comes back on the response header.
func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(RequestIDHeader)
		if len(reqID) > maxRequestIDLength {
			reqID = reqID[:maxRequestIDLength]
		}
		if reqID == "" {
			reqID = generateID()
		}

		w.Header().Set(RequestIDHeader, reqID)
		r = r.WithContext(context.WithValue(r.Context(), CtxKeyRequestID, reqID))

		start := time.Now()
		next.ServeHTTP(w, r)

		slog.Default().Debug("request finished",
			"request_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(CtxKeyRequestID).(string); ok {
		return v
	}
	return ""
}
