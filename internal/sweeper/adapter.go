package sweeper

import (
	"context"
	"time"

	"authgate/internal/store"
)

type gormRetentionStore struct{ st *store.Store }

// NewGormStore adapts the persistent store to the sweeper's retention seam.
func NewGormStore(st *store.Store) retentionStore {
	return gormRetentionStore{st: st}
}

func (g gormRetentionStore) DeleteDefunctSessionsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	return g.st.Sessions().DeleteDefunctBefore(ctx, cutoff, limit)
}

func (g gormRetentionStore) DeleteEventsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	return g.st.Events().DeleteOlderThan(ctx, cutoff, limit)
}
