// Package cache provides the ephemeral, time-windowed counter primitive
// behind the login throttle and the traffic rate limiter: per-key counters
// that expire when their window elapses, plus bare TTL markers for lockouts.
// State is reconstructable from zero after a restart; durability is
// explicitly not a goal here.
package cache

import (
	"context"
	"time"
)

// Counters is the shared contract for both backends. Incr is atomic
// increment-and-get: the first increment for a key starts its window, and
// the key disappears once the window elapses.
type Counters interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
	Get(ctx context.Context, key string) (int64, bool, error)
	SetMarker(ctx context.Context, key string, ttl time.Duration) error
	HasMarker(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	Close(ctx context.Context) error
}
