package service

import (
	"context"
	"net/http"
	"time"

	"authgate/internal/domain"
	"authgate/internal/privacy"
)

// IssuedSession is what a successful create or rotate hands back. RawToken
// is the only copy of the refresh token that will ever exist; the store
// keeps its digest.
type IssuedSession struct {
	SessionID  domain.SessionID
	UserID     domain.UserID
	RawToken   string
	ExpiresAt  time.Time
	Persistent bool // "remember me": cookie gets a Max-Age
}

type SessionService interface {
	// Create issues a new session, enforcing the per-user concurrent cap by
	// evicting the oldest active sessions first.
	Create(ctx context.Context, userID domain.UserID, remember bool, client privacy.StorageView) (*IssuedSession, error)

	// FindActive resolves a raw token to its session, or (nil, nil) when the
	// token is unknown, revoked, expired, or idle past the inactivity
	// window. It never updates last-used time; callers that accept the
	// session for use call Touch explicitly.
	FindActive(ctx context.Context, rawToken string) (*domain.Session, error)

	Touch(ctx context.Context, id domain.SessionID) error

	// Rotate revokes the session behind rawToken and issues a replacement
	// for the same user with the same remember flag, atomically.
	Rotate(ctx context.Context, rawToken string, client privacy.StorageView) (*IssuedSession, error)

	Revoke(ctx context.Context, rawToken string) error
	RevokeAllForUser(ctx context.Context, userID domain.UserID) (int64, error)

	// Cookie material. The CSRF cookie value is random and independent of
	// the session token; it is readable by scripts on purpose.
	RefreshCookie(issued *IssuedSession, requestIsTLS bool) *http.Cookie
	CSRFCookie(requestIsTLS bool) (*http.Cookie, error)
	ClearCookies(requestIsTLS bool) []*http.Cookie
}
