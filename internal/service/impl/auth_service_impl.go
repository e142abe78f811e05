package impl

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"authgate/internal/domain"
	"authgate/internal/dto"
	"authgate/internal/observability/metrics"
	"authgate/internal/observability/middleware"
	"authgate/internal/privacy"
	"authgate/internal/service"
	"authgate/internal/store"

	"gorm.io/gorm"
)

type AuthConfig struct {
	RequireVerifiedEmail bool
}

type userDirectory interface {
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
}

type gormUserAdapter struct{ store *store.Store }

func (g gormUserAdapter) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return g.store.Users().GetByUsername(ctx, username)
}

type AuthServiceImpl struct {
	cfg      AuthConfig
	users    userDirectory
	events   eventAppender
	throttle service.LoginThrottle
	sessions service.SessionService
	tokens   service.TokenService
	hasher   service.PasswordHasher
	anon     *privacy.Anonymizer
}

func NewAuthService(
	cfg AuthConfig,
	st *store.Store,
	throttle service.LoginThrottle,
	sessions service.SessionService,
	tokens service.TokenService,
	hasher service.PasswordHasher,
	anon *privacy.Anonymizer,
) *AuthServiceImpl {
	return &AuthServiceImpl{
		cfg:      cfg,
		users:    gormUserAdapter{store: st},
		events:   st.Events(),
		throttle: throttle,
		sessions: sessions,
		tokens:   tokens,
		hasher:   hasher,
		anon:     anon,
	}
}

func (a *AuthServiceImpl) Login(ctx context.Context, req dto.LoginRequest, ip, userAgent string) (*dto.LoginResult, error) {
	if req.Username == "" || req.Password == "" {
		return nil, domain.ErrInvalidCredentials
	}

	result := "failure"
	defer func() {
		metrics.LoginsTotal.WithLabelValues(result).Inc()
	}()

	if err := a.throttle.CheckAllowed(ctx, ip, req.Username); err != nil {
		result = "throttled"
		return nil, err
	}

	user, err := a.users.GetByUsername(ctx, req.Username)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Count the miss: username spraying from one IP must still trip the
		// IP threshold. Response stays indistinguishable from a bad password.
		a.recordFailure(ctx, ip, req.Username, userAgent, nil, "unknown user")
		return nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if user.IsDisabled {
		return nil, domain.ErrUserDisabled
	}

	if !a.hasher.Verify(user.PasswordHash, req.Password) {
		a.recordFailure(ctx, ip, req.Username, userAgent, &user.ID, "bad password")
		return nil, domain.ErrInvalidCredentials
	}

	if a.cfg.RequireVerifiedEmail && !user.EmailVerified {
		return nil, domain.ErrEmailNotVerified
	}

	if err := a.throttle.RecordSuccess(ctx, ip, req.Username); err != nil {
		slog.Warn("failed to clear throttle counters", "error", err)
	}

	view := a.anon.Storage(ip, userAgent)
	issued, err := a.sessions.Create(ctx, user.ID, req.Remember, view)
	if err != nil {
		return nil, err
	}
	access, expiresIn, err := a.tokens.Issue(user.ID, issued.SessionID)
	if err != nil {
		return nil, err
	}

	a.appendEvent(ctx, domain.EventLoginSuccess, &user.ID, view, nil)
	result = "success"

	logView := a.anon.Log(ip, userAgent)
	slog.Info("login succeeded",
		"user_id", user.ID,
		"session_id", issued.SessionID,
		"ip", logView.IP,
		"agent", logView.UserAgent,
		"request_id", middleware.RequestIDFromContext(ctx),
	)

	return &dto.LoginResult{
		UserID:            user.ID,
		AccessToken:       access,
		ExpiresIn:         expiresIn,
		SessionToken:      issued.RawToken,
		SessionID:         issued.SessionID,
		SessionExpiresAt:  issued.ExpiresAt,
		SessionPersistent: issued.Persistent,
	}, nil
}

func (a *AuthServiceImpl) recordFailure(ctx context.Context, ip, username, userAgent string, userID *domain.UserID, reason string) {
	if err := a.throttle.RecordFailure(ctx, ip, username); err != nil {
		slog.Warn("failed to record login failure", "error", err)
	}
	view := a.anon.Storage(ip, userAgent)
	a.appendEvent(ctx, domain.EventLoginFailure, userID, view, map[string]string{"reason": reason})
}

func (a *AuthServiceImpl) appendEvent(ctx context.Context, eventType string, userID *domain.UserID, view privacy.StorageView, extra map[string]string) {
	var meta []byte
	if extra != nil {
		meta, _ = json.Marshal(extra)
	}
	ev := &domain.SecurityEvent{
		UserID:    userID,
		EventType: eventType,
		Metadata:  meta,
		IP:        view.IP,
		IPHash:    view.IPHash,
		UserAgent: view.UserAgent,
	}
	if err := a.events.Append(ctx, ev); err != nil {
		slog.Error("failed to append security event", "error", err, "event_type", eventType)
	}
}
