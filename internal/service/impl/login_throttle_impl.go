package impl

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"authgate/internal/cache"
	"authgate/internal/domain"
	"authgate/internal/observability/metrics"
	"authgate/internal/privacy"
)

type ThrottleConfig struct {
	MaxPerIP       int           // failures per IP per window before lockout
	MaxPerUsername int           // failures per username per window before lockout
	Window         time.Duration // rolling failure-count window
	LockDuration   time.Duration // how long a tripped key stays locked
}

type eventAppender interface {
	Append(ctx context.Context, ev *domain.SecurityEvent) error
}

// LoginThrottleImpl counts failed credential checks in the windowed cache and
// plants lockout markers when a threshold trips. Counters and markers are
// ephemeral; a restart forgets them, which is an accepted weakening.
type LoginThrottleImpl struct {
	cfg      ThrottleConfig
	counters cache.Counters
	events   eventAppender
	anon     *privacy.Anonymizer
}

func NewLoginThrottle(cfg ThrottleConfig, counters cache.Counters, events eventAppender, anon *privacy.Anonymizer) *LoginThrottleImpl {
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Minute
	}
	if cfg.LockDuration <= 0 {
		cfg.LockDuration = 15 * time.Minute
	}
	return &LoginThrottleImpl{cfg: cfg, counters: counters, events: events, anon: anon}
}

func (t *LoginThrottleImpl) CheckAllowed(ctx context.Context, ip, username string) error {
	for _, key := range []string{lockKeyIP(ip), lockKeyUser(username)} {
		locked, err := t.counters.HasMarker(ctx, key)
		if err != nil {
			// Fail closed: a throttle that cannot read its state must not
			// hand out unlimited attempts.
			slog.Warn("login throttle cache fault, denying", "error", err)
			return domain.ErrRateLimited
		}
		if locked {
			return domain.ErrRateLimited
		}
	}
	return nil
}

func (t *LoginThrottleImpl) RecordFailure(ctx context.Context, ip, username string) error {
	if err := t.bumpAndMaybeLock(ctx, failKeyIP(ip), lockKeyIP(ip), t.cfg.MaxPerIP, "ip", ip, username); err != nil {
		return err
	}
	return t.bumpAndMaybeLock(ctx, failKeyUser(username), lockKeyUser(username), t.cfg.MaxPerUsername, "username", ip, username)
}

func (t *LoginThrottleImpl) bumpAndMaybeLock(ctx context.Context, countKey, lockKey string, threshold int, dimension, ip, username string) error {
	if threshold <= 0 {
		return nil
	}
	n, err := t.counters.Incr(ctx, countKey, t.cfg.Window)
	if err != nil {
		return err
	}
	if n < int64(threshold) {
		return nil
	}
	if err := t.counters.SetMarker(ctx, lockKey, t.cfg.LockDuration); err != nil {
		return err
	}
	metrics.LockoutsTotal.WithLabelValues(dimension).Inc()
	t.appendLockoutEvent(ctx, dimension, ip, username)
	return nil
}

func (t *LoginThrottleImpl) appendLockoutEvent(ctx context.Context, dimension, ip, username string) {
	view := t.anon.Storage(ip, "")
	meta, _ := json.Marshal(map[string]string{
		"dimension":    dimension,
		"username":     username,
		"lockDuration": t.cfg.LockDuration.String(),
	})
	ev := &domain.SecurityEvent{
		EventType: domain.EventLockoutTriggered,
		Metadata:  meta,
		IP:        view.IP,
		IPHash:    view.IPHash,
	}
	if err := t.events.Append(ctx, ev); err != nil {
		logView := t.anon.Log(ip, "")
		slog.Error("failed to record lockout event", "error", err, "ip", logView.IP)
	}
}

func (t *LoginThrottleImpl) RecordSuccess(ctx context.Context, ip, username string) error {
	return t.counters.Delete(ctx,
		failKeyIP(ip), failKeyUser(username),
		lockKeyIP(ip), lockKeyUser(username),
	)
}

func failKeyIP(ip string) string         { return "login:fail:ip:" + ip }
func failKeyUser(username string) string { return "login:fail:user:" + username }
func lockKeyIP(ip string) string         { return "login:lock:ip:" + ip }
func lockKeyUser(username string) string { return "login:lock:user:" + username }
