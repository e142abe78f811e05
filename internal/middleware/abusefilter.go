package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"authgate/internal/domain"
	"authgate/internal/netutil"
	"authgate/internal/observability/metrics"
	obsmw "authgate/internal/observability/middleware"
	"authgate/internal/privacy"
)

// Attack signatures tested against the decoded URI, query string, and user
// agent. Fixed at build time; this is a coarse tripwire in front of the
// business handlers, not a WAF.
var abuseSignatures = []struct {
	category string
	needles  []string
}{
	{category: "template_injection", needles: []string{"${", "{{", "#{", "<%"}},
	{category: "path_traversal", needles: []string{"../", "..\\", "%2e%2e"}},
	{category: "dotfile_probe", needles: []string{"/.env", "/.git", "/.htaccess", "/.ssh", "/.aws"}},
	{category: "gadget_probe", needles: []string{"class.module.classloader", "java.lang.", "jndi:", "javax.script", "<script"}},
}

type eventAppender interface {
	Append(ctx context.Context, ev *domain.SecurityEvent) error
}

type AbuseFilter struct {
	events eventAppender
	anon   *privacy.Anonymizer

	trustProxy bool
}

func NewAbuseFilter(events eventAppender, anon *privacy.Anonymizer, trustProxy bool) *AbuseFilter {
	return &AbuseFilter{events: events, anon: anon, trustProxy: trustProxy}
}

// Handler rejects requests whose URI, query, or user agent matches a known
// attack signature. Health checks are exempt.
func (f *AbuseFilter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		ua := r.Header.Get("User-Agent")
		for _, target := range []string{r.RequestURI, r.URL.RawQuery, ua} {
			if category, matched := matchSignature(target); matched {
				f.reject(w, r, target, category, ua)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func matchSignature(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	candidates := []string{strings.ToLower(raw)}
	// Attackers hide needles behind percent-encoding; compare the decoded
	// form too when it differs.
	if decoded, err := url.QueryUnescape(raw); err == nil {
		if lower := strings.ToLower(decoded); lower != candidates[0] {
			candidates = append(candidates, lower)
		}
	}
	for _, sig := range abuseSignatures {
		for _, needle := range sig.needles {
			for _, c := range candidates {
				if strings.Contains(c, needle) {
					return sig.category, true
				}
			}
		}
	}
	return "", false
}

func (f *AbuseFilter) reject(w http.ResponseWriter, r *http.Request, target, category, ua string) {
	metrics.SignatureMatchesTotal.WithLabelValues(category).Inc()

	ip := netutil.ClientIP(r, f.trustProxy)
	view := f.anon.Storage(ip, ua)
	logView := f.anon.Log(ip, ua)

	const maxTarget = 256
	if len(target) > maxTarget {
		target = target[:maxTarget]
	}
	meta, _ := json.Marshal(map[string]string{
		"category": category,
		"target":   target,
		"agent":    logView.UserAgent,
	})
	ev := &domain.SecurityEvent{
		EventType: domain.EventSignatureMatch,
		Metadata:  meta,
		IP:        view.IP,
		IPHash:    view.IPHash,
		UserAgent: view.UserAgent,
	}
	if err := f.events.Append(r.Context(), ev); err != nil {
		slog.Error("failed to record signature match", "error", err)
	}

	slog.Warn("malicious request pattern rejected",
		"category", category,
		"ip", logView.IP,
		"agent", logView.UserAgent,
		"request_id", obsmw.RequestIDFromContext(r.Context()),
	)

	http.Error(w, "forbidden", http.StatusForbidden)
}
