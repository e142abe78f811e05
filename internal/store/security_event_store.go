package store

import (
	"context"
	"time"

	"authgate/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SecurityEventStore struct{ db *gorm.DB }

// Append writes one immutable event row. There is deliberately no update or
// single-row delete on this store.
func (es *SecurityEventStore) Append(ctx context.Context, ev *domain.SecurityEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	return es.db.WithContext(ctx).Create(ev).Error
}

func (es *SecurityEventStore) DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	sub := es.db.WithContext(ctx).
		Model(&domain.SecurityEvent{}).
		Select("id").
		Where("created_at < ?", cutoff).
		Limit(limit)
	tx := es.db.WithContext(ctx).
		Where("id IN (?)", sub).
		Delete(&domain.SecurityEvent{})
	return tx.RowsAffected, tx.Error
}
