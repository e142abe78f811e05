// Package sweeper purges defunct session rows and stale security events on a
// timer, independent of the request path. Validity is always enforced by the
// session manager's predicate, so sweep timing affects storage size only,
// never correctness.
package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"authgate/internal/observability/metrics"
)

type Config struct {
	Interval         time.Duration // how often to sweep
	SessionRetention time.Duration // defunct sessions older than this go away
	EventRetention   time.Duration // security events older than this go away
	BatchLimit       int           // rows per sweep per table
}

type retentionStore interface {
	DeleteDefunctSessionsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
	DeleteEventsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

type Sweeper struct {
	cfg      Config
	store    retentionStore
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	started  bool
}

func New(cfg Config, store retentionStore) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 1000
	}
	return &Sweeper{
		cfg:   cfg,
		store: store,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called.
func (s *Sweeper) Start() {
	s.started = true
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.SweepOnce(context.Background())
			case <-s.stop:
				return
			}
		}
	}()
}

// SweepOnce runs a single bounded sweep. Exposed for tests and for an
// operator-triggered purge.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	now := time.Now().UTC()

	if s.cfg.SessionRetention > 0 {
		cutoff := now.Add(-s.cfg.SessionRetention)
		n, err := s.store.DeleteDefunctSessionsBefore(ctx, cutoff, s.cfg.BatchLimit)
		if err != nil {
			slog.Error("session sweep failed", "error", err)
		} else if n > 0 {
			metrics.SweeperDeletedTotal.WithLabelValues("sessions").Add(float64(n))
			slog.Info("swept defunct sessions", "deleted", n)
		}
	}

	if s.cfg.EventRetention > 0 {
		cutoff := now.Add(-s.cfg.EventRetention)
		n, err := s.store.DeleteEventsBefore(ctx, cutoff, s.cfg.BatchLimit)
		if err != nil {
			slog.Error("security event sweep failed", "error", err)
		} else if n > 0 {
			metrics.SweeperDeletedTotal.WithLabelValues("security_events").Add(float64(n))
			slog.Info("swept stale security events", "deleted", n)
		}
	}
}

// Stop halts the loop and waits for an in-flight sweep to finish. Idempotent.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.started {
		<-s.done
	}
}
