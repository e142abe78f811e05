package impl

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"authgate/internal/domain"
	"authgate/internal/observability/metrics"
	"authgate/internal/privacy"
	"authgate/internal/service"
	"authgate/internal/store"

	"gorm.io/gorm"
)

const (
	tokenEntropyBytes = 32
	lazyCleanupLimit  = 50
)

// ====== Config ======

type SessionConfig struct {
	SessionTTL    time.Duration // short-lived sessions (no "remember me")
	RememberTTL   time.Duration // long-lived sessions
	InactivityTTL time.Duration // sliding window; 0 disables
	MaxPerUser    int           // concurrent active session cap per user
	Retention     time.Duration // how long defunct rows stay for audit

	CookieName     string
	CookiePath     string
	CSRFCookieName string
	CookieSecure   bool
	SameSite       http.SameSite
}

// ====== Store seams (narrow, for tests) ======

type sessionStore interface {
	Create(ctx context.Context, s *domain.Session) error
	GetByTokenHash(ctx context.Context, hash string) (*domain.Session, error)
	ListActiveForUpdate(ctx context.Context, userID domain.UserID, now time.Time, inactivity time.Duration) ([]domain.Session, error)
	Touch(ctx context.Context, id domain.SessionID, at time.Time) error
	Revoke(ctx context.Context, id domain.SessionID, at time.Time) error
	RevokeByTokenHash(ctx context.Context, hash string, at time.Time) (int64, error)
	RevokeAllForUser(ctx context.Context, userID domain.UserID, at time.Time) (int64, error)
	DeleteDefunctBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

type sessionTx interface {
	Sessions() sessionStore
}

type sessionDataStore interface {
	Sessions() sessionStore
	WithTx(ctx context.Context, fn func(tx sessionTx) error) error
}

type gormSessionAdapter struct{ store *store.Store }

func (g gormSessionAdapter) Sessions() sessionStore { return g.store.Sessions() }

func (g gormSessionAdapter) WithTx(ctx context.Context, fn func(tx sessionTx) error) error {
	return g.store.WithTx(ctx, func(tx *store.Store) error {
		return fn(gormSessionAdapter{store: tx})
	})
}

// ====== Service ======

type SessionServiceImpl struct {
	cfg    SessionConfig
	store  sessionDataStore
	events eventAppender // optional; nil skips audit rows
	now    func() time.Time
}

func NewSessionService(cfg SessionConfig, st *store.Store) *SessionServiceImpl {
	return newSessionService(cfg, gormSessionAdapter{store: st}, st.Events())
}

func newSessionService(cfg SessionConfig, ds sessionDataStore, events eventAppender) *SessionServiceImpl {
	if cfg.MaxPerUser <= 0 {
		cfg.MaxPerUser = 5
	}
	if cfg.CookiePath == "" {
		cfg.CookiePath = "/"
	}
	return &SessionServiceImpl{cfg: cfg, store: ds, events: events, now: func() time.Time { return time.Now().UTC() }}
}

func (s *SessionServiceImpl) appendRevokedEvent(ctx context.Context, userID domain.UserID, reason string, n int64) {
	if s.events == nil || n == 0 {
		return
	}
	meta, _ := json.Marshal(map[string]any{"reason": reason, "count": n})
	ev := &domain.SecurityEvent{
		UserID:    &userID,
		EventType: domain.EventSessionRevoked,
		Metadata:  meta,
	}
	if err := s.events.Append(ctx, ev); err != nil {
		slog.Error("failed to record session revocation", "error", err, "reason", reason)
	}
}

func (s *SessionServiceImpl) Create(ctx context.Context, userID domain.UserID, remember bool, client privacy.StorageView) (*service.IssuedSession, error) {
	now := s.now()
	raw, hash, err := newRawToken()
	if err != nil {
		return nil, err
	}

	ttl := s.cfg.SessionTTL
	if remember {
		ttl = s.cfg.RememberTTL
	}
	sess := &domain.Session{
		UserID:     userID,
		TokenHash:  hash,
		Remember:   remember,
		CreatedAt:  now,
		LastUsedAt: now,
		ExpiresAt:  now.Add(ttl),
		IP:         client.IP,
		UserAgent:  client.UserAgent,
	}

	// Cap enforcement and insert run under one transaction; the row locks
	// taken by ListActiveForUpdate serialize concurrent creates per user.
	var evicted int64
	err = s.store.WithTx(ctx, func(tx sessionTx) error {
		active, err := tx.Sessions().ListActiveForUpdate(ctx, userID, now, s.cfg.InactivityTTL)
		if err != nil {
			return err
		}
		// Evict oldest-first until the new session fits under the cap.
		for i := 0; len(active)-i >= s.cfg.MaxPerUser; i++ {
			if err := tx.Sessions().Revoke(ctx, active[i].ID, now); err != nil {
				return err
			}
			metrics.SessionsEvictedTotal.Inc()
			evicted++
		}
		return tx.Sessions().Create(ctx, sess)
	})
	if err != nil {
		return nil, err
	}
	metrics.SessionsIssuedTotal.WithLabelValues("create").Inc()
	s.appendRevokedEvent(ctx, userID, "evicted", evicted)

	// Opportunistic cleanup of defunct rows, bounded and best-effort so it
	// never dominates request latency. The sweeper is the authority.
	if s.cfg.Retention > 0 {
		if _, err := s.store.Sessions().DeleteDefunctBefore(ctx, now.Add(-s.cfg.Retention), lazyCleanupLimit); err != nil {
			slog.Warn("lazy session cleanup failed", "error", err)
		}
	}

	return &service.IssuedSession{
		SessionID:  sess.ID,
		UserID:     userID,
		RawToken:   raw,
		ExpiresAt:  sess.ExpiresAt,
		Persistent: remember,
	}, nil
}

func (s *SessionServiceImpl) FindActive(ctx context.Context, rawToken string) (*domain.Session, error) {
	if rawToken == "" {
		return nil, nil
	}
	sess, err := s.store.Sessions().GetByTokenHash(ctx, hashToken(rawToken))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !sess.Active(s.now(), s.cfg.InactivityTTL) {
		return nil, nil
	}
	return sess, nil
}

func (s *SessionServiceImpl) Touch(ctx context.Context, id domain.SessionID) error {
	return s.store.Sessions().Touch(ctx, id, s.now())
}

func (s *SessionServiceImpl) Rotate(ctx context.Context, rawToken string, client privacy.StorageView) (*service.IssuedSession, error) {
	if rawToken == "" {
		return nil, nil
	}
	now := s.now()
	raw, hash, err := newRawToken()
	if err != nil {
		return nil, err
	}

	var issued *service.IssuedSession
	err = s.store.WithTx(ctx, func(tx sessionTx) error {
		cur, err := tx.Sessions().GetByTokenHash(ctx, hashToken(rawToken))
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil // unknown token: normal "not authenticated"
		}
		if err != nil {
			return err
		}
		if !cur.Active(now, s.cfg.InactivityTTL) {
			return nil
		}
		// Revoke by digest and require a row to have matched: under
		// read-committed, two concurrent rotations of the same token can
		// both read it as active, but only one revocation reports a hit.
		// The loser must not mint a replacement.
		n, err := tx.Sessions().RevokeByTokenHash(ctx, hashToken(rawToken), now)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}

		ttl := s.cfg.SessionTTL
		if cur.Remember {
			ttl = s.cfg.RememberTTL
		}
		next := &domain.Session{
			UserID:     cur.UserID,
			TokenHash:  hash,
			Remember:   cur.Remember,
			CreatedAt:  now,
			LastUsedAt: now,
			ExpiresAt:  now.Add(ttl),
			IP:         client.IP,
			UserAgent:  client.UserAgent,
		}
		if err := tx.Sessions().Create(ctx, next); err != nil {
			return err
		}
		issued = &service.IssuedSession{
			SessionID:  next.ID,
			UserID:     next.UserID,
			RawToken:   raw,
			ExpiresAt:  next.ExpiresAt,
			Persistent: next.Remember,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if issued != nil {
		metrics.SessionsIssuedTotal.WithLabelValues("rotate").Inc()
	}
	return issued, nil
}

func (s *SessionServiceImpl) Revoke(ctx context.Context, rawToken string) error {
	if rawToken == "" {
		return nil
	}
	hash := hashToken(rawToken)
	cur, err := s.store.Sessions().GetByTokenHash(ctx, hash)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	n, err := s.store.Sessions().RevokeByTokenHash(ctx, hash, s.now())
	if err != nil {
		return err
	}
	if n > 0 {
		metrics.SessionsRevokedTotal.WithLabelValues("logout").Add(float64(n))
		s.appendRevokedEvent(ctx, cur.UserID, "logout", n)
	}
	return nil
}

func (s *SessionServiceImpl) RevokeAllForUser(ctx context.Context, userID domain.UserID) (int64, error) {
	n, err := s.store.Sessions().RevokeAllForUser(ctx, userID, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.SessionsRevokedTotal.WithLabelValues("logout_all").Add(float64(n))
		s.appendRevokedEvent(ctx, userID, "logout_all", n)
	}
	return n, nil
}

// ====== Cookie material ======

func (s *SessionServiceImpl) RefreshCookie(issued *service.IssuedSession, requestIsTLS bool) *http.Cookie {
	c := &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    issued.RawToken,
		Path:     s.cfg.CookiePath,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure || requestIsTLS,
		SameSite: s.cfg.SameSite,
	}
	if issued.Persistent {
		// Only "remember me" sessions outlive the browser session.
		c.MaxAge = int(time.Until(issued.ExpiresAt).Seconds())
	}
	return c
}

func (s *SessionServiceImpl) CSRFCookie(requestIsTLS bool) (*http.Cookie, error) {
	buf := make([]byte, tokenEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return &http.Cookie{
		Name:     s.cfg.CSRFCookieName,
		Value:    base64.RawURLEncoding.EncodeToString(buf),
		Path:     "/",
		HttpOnly: false, // double-submit: scripts must read it back
		Secure:   s.cfg.CookieSecure || requestIsTLS,
		SameSite: s.cfg.SameSite,
	}, nil
}

func (s *SessionServiceImpl) ClearCookies(requestIsTLS bool) []*http.Cookie {
	secure := s.cfg.CookieSecure || requestIsTLS
	return []*http.Cookie{
		{Name: s.cfg.CookieName, Value: "", Path: s.cfg.CookiePath, HttpOnly: true, Secure: secure, SameSite: s.cfg.SameSite, MaxAge: -1},
		{Name: s.cfg.CSRFCookieName, Value: "", Path: "/", Secure: secure, SameSite: s.cfg.SameSite, MaxAge: -1},
	}
}

// ====== Helpers ======

func newRawToken() (raw, hash string, err error) {
	buf := make([]byte, tokenEntropyBytes)
	if _, err = rand.Read(buf); err != nil {
		return "", "", err
	}
	raw = base64.RawURLEncoding.EncodeToString(buf)
	return raw, hashToken(raw), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
