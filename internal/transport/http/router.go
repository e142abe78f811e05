package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"authgate/internal/domain"
	"authgate/internal/dto"
	"authgate/internal/netutil"
	"authgate/internal/privacy"
	"authgate/internal/service"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterConfig struct {
	SessionCookie string
	TrustProxy    bool
	LockDuration  time.Duration // Retry-After hint on throttled logins
}

func NewRouter(
	cfg RouterConfig,
	auth service.AuthService,
	sessions service.SessionService,
	tokens service.TokenService,
	anon *privacy.Anonymizer,
) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req dto.LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		ip := netutil.ClientIP(r, cfg.TrustProxy)
		ua := r.Header.Get("User-Agent")

		result, err := auth.Login(r.Context(), req, ip, ua)
		if err != nil {
			writeLoginError(w, err, cfg.LockDuration)
			return
		}

		issued := &service.IssuedSession{
			SessionID:  result.SessionID,
			UserID:     result.UserID,
			RawToken:   result.SessionToken,
			ExpiresAt:  result.SessionExpiresAt,
			Persistent: result.SessionPersistent,
		}
		if !setSessionCookies(w, r, sessions, issued) {
			return
		}
		writeJSON(w, http.StatusOK, dto.TokenResponse{
			AccessToken: result.AccessToken,
			ExpiresIn:   result.ExpiresIn,
		})
	})

	mux.HandleFunc("/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		raw := sessionCookieValue(r, cfg.SessionCookie)
		if raw == "" {
			http.Error(w, "not authenticated", http.StatusUnauthorized)
			return
		}
		ip := netutil.ClientIP(r, cfg.TrustProxy)
		view := anon.Storage(ip, r.Header.Get("User-Agent"))

		issued, err := sessions.Rotate(r.Context(), raw, view)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if issued == nil {
			http.Error(w, "not authenticated", http.StatusUnauthorized)
			return
		}

		access, expiresIn, err := tokens.Issue(issued.UserID, issued.SessionID)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if !setSessionCookies(w, r, sessions, issued) {
			return
		}
		writeJSON(w, http.StatusOK, dto.TokenResponse{
			AccessToken: access,
			ExpiresIn:   expiresIn,
		})
	})

	mux.HandleFunc("/v1/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if raw := sessionCookieValue(r, cfg.SessionCookie); raw != "" {
			if err := sessions.Revoke(r.Context(), raw); err != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
		}
		for _, c := range sessions.ClearCookies(r.TLS != nil) {
			http.SetCookie(w, c)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/v1/auth/logout-all", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		raw := sessionCookieValue(r, cfg.SessionCookie)
		sess, err := sessions.FindActive(r.Context(), raw)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if sess == nil {
			http.Error(w, "not authenticated", http.StatusUnauthorized)
			return
		}
		if _, err := sessions.RevokeAllForUser(r.Context(), sess.UserID); err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		for _, c := range sessions.ClearCookies(r.TLS != nil) {
			http.SetCookie(w, c)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/v1/auth/verify", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		authz := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(authz) <= len(prefix) || !strings.EqualFold(authz[:len(prefix)], prefix) {
			http.Error(w, "not authenticated", http.StatusUnauthorized)
			return
		}
		claims, err := tokens.Verify(strings.TrimSpace(authz[len(prefix):]))
		if err != nil {
			http.Error(w, "not authenticated", http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, dto.VerifyResponse{
			Valid:     true,
			Subject:   claims.Subject,
			SessionID: claims.SessionID,
		})
	})

	return mux
}

func writeLoginError(w http.ResponseWriter, err error, lockDuration time.Duration) {
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		w.Header().Set("Retry-After", strconv.Itoa(int(lockDuration.Seconds())))
		http.Error(w, "too many attempts", http.StatusTooManyRequests)
	case errors.Is(err, domain.ErrInvalidCredentials),
		errors.Is(err, domain.ErrUserDisabled),
		errors.Is(err, domain.ErrEmailNotVerified):
		// One answer for every credential-shaped failure.
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func setSessionCookies(w http.ResponseWriter, r *http.Request, sessions service.SessionService, issued *service.IssuedSession) bool {
	tls := r.TLS != nil
	http.SetCookie(w, sessions.RefreshCookie(issued, tls))
	csrf, err := sessions.CSRFCookie(tls)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return false
	}
	http.SetCookie(w, csrf)
	return true
}

func sessionCookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
