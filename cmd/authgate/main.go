package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"authgate/internal/cache"
	"authgate/internal/config"
	appmw "authgate/internal/middleware"
	"authgate/internal/observability/logging"
	"authgate/internal/observability/metrics"
	obsmw "authgate/internal/observability/middleware"
	"authgate/internal/privacy"
	impl "authgate/internal/service/impl"
	"authgate/internal/store"
	"authgate/internal/sweeper"
	httpx "authgate/internal/transport/http"
	"authgate/pkg/db"
)

func main() {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}

	logger := logging.NewLogger(logging.Config{
		ServiceName: "authgate",
		Environment: env,
		Level:       os.Getenv("LOG_LEVEL"),
	})
	slog.SetDefault(logger)

	cfg := config.Load()
	metrics.MustRegister("authgate")

	gdb, err := db.OpenGorm(db.Config{DSN: cfg.DatabaseURL})
	if err != nil {
		logger.Error("gorm open", "error", err)
		os.Exit(1)
	}
	st := store.New(gdb)

	var counters cache.Counters
	if cfg.RedisAddr != "" {
		counters, err = cache.NewRedis(cache.RedisConfig{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if err != nil {
			logger.Error("redis cache", "error", err)
			os.Exit(1)
		}
	} else {
		counters = cache.NewMemory(time.Minute)
	}
	defer func() { _ = counters.Close(context.Background()) }()

	anon := privacy.New(privacy.Config{
		HashSalt: cfg.MetadataSalt,
		StoreRaw: cfg.StoreRawMetadata,
	})

	sessions := impl.NewSessionService(impl.SessionConfig{
		SessionTTL:     cfg.SessionTTL,
		RememberTTL:    cfg.RememberTTL,
		InactivityTTL:  cfg.InactivityTTL,
		MaxPerUser:     cfg.MaxSessionsUser,
		Retention:      cfg.SessionRetention,
		CookieName:     cfg.SessionCookie,
		CookiePath:     cfg.CookiePath,
		CSRFCookieName: cfg.CSRFCookie,
		CookieSecure:   cfg.CookieSecure,
		SameSite:       cfg.SameSite,
	}, st)

	throttle := impl.NewLoginThrottle(impl.ThrottleConfig{
		MaxPerIP:       cfg.LoginMaxPerIP,
		MaxPerUsername: cfg.LoginMaxPerUser,
		Window:         cfg.LoginWindow,
		LockDuration:   cfg.LockDuration,
	}, counters, st.Events(), anon)

	tokens := impl.NewTokenServiceHS256(impl.TokenConfig{
		Issuer:     cfg.Issuer,
		Audience:   cfg.Audience,
		AccessTTL:  cfg.AccessTTL,
		SigningKey: []byte(cfg.SigningKey),
	})

	auth := impl.NewAuthService(impl.AuthConfig{
		RequireVerifiedEmail: cfg.RequireVerifiedEmail,
	}, st, throttle, sessions, tokens, impl.NewArgon2idHasher(), anon)

	sw := sweeper.New(sweeper.Config{
		Interval:         cfg.SweepInterval,
		SessionRetention: cfg.SessionRetention,
		EventRetention:   cfg.EventRetention,
	}, sweeper.NewGormStore(st))
	sw.Start()
	defer sw.Stop()

	mux := httpx.NewRouter(httpx.RouterConfig{
		SessionCookie: cfg.SessionCookie,
		TrustProxy:    cfg.TrustProxy,
		LockDuration:  cfg.LockDuration,
	}, auth, sessions, tokens, anon)

	abuse := appmw.NewAbuseFilter(st.Events(), anon, cfg.TrustProxy)

	// Pipeline, outermost first: correlation id, metrics, signature filter,
	// traffic limiter, bearer principal, CSRF guard, handlers.
	var handler http.Handler = mux
	handler = appmw.WithCSRFGuard(appmw.CSRFConfig{
		CookieName: cfg.CSRFCookie,
		HeaderName: cfg.CSRFHeader,
		Paths: []string{
			"/v1/auth/refresh",
			"/v1/auth/logout",
			"/v1/auth/logout-all",
		},
	})(handler)
	handler = appmw.WithBearerPrincipal(tokens)(handler)
	handler = appmw.WithRateLimit(appmw.RateLimitConfig{
		APIPrefix:  cfg.APIPrefix,
		PerMinute:  cfg.RatePerMinute,
		PerHour:    cfg.RatePerHour,
		TrustProxy: cfg.TrustProxy,
	}, counters)(handler)
	handler = abuse.Handler(handler)
	handler = obsmw.WithMetrics(handler)
	handler = obsmw.WithRequestID(handler)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("authgate listening", "addr", srv.Addr, "issuer", cfg.Issuer)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}
