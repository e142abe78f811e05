package store

import (
	"context"
	"time"

	"authgate/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SessionStore struct{ db *gorm.DB }

func (ss *SessionStore) Create(ctx context.Context, s *domain.Session) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return ss.db.WithContext(ctx).Create(s).Error
}

func (ss *SessionStore) GetByTokenHash(ctx context.Context, hash string) (*domain.Session, error) {
	var s domain.Session
	if err := ss.db.WithContext(ctx).First(&s, "token_hash = ?", hash).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// ListActiveForUpdate returns the user's currently active sessions ordered
// oldest-first, locking the rows for the duration of the enclosing
// transaction. This serializes cap enforcement against concurrent creates
// for the same user.
func (ss *SessionStore) ListActiveForUpdate(ctx context.Context, userID domain.UserID, now time.Time, inactivity time.Duration) ([]domain.Session, error) {
	var sessions []domain.Session
	q := ss.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND revoked_at IS NULL AND expires_at > ?", userID, now)
	if inactivity > 0 {
		q = q.Where("last_used_at > ?", now.Add(-inactivity))
	}
	// created_at ascending with id as the deterministic tie-break.
	if err := q.Order("created_at ASC, id ASC").Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

func (ss *SessionStore) Touch(ctx context.Context, id domain.SessionID, at time.Time) error {
	return ss.db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ?", id).
		Update("last_used_at", at).Error
}

// Revoke is idempotent: a second revocation of the same session matches no
// rows and is a no-op.
func (ss *SessionStore) Revoke(ctx context.Context, id domain.SessionID, at time.Time) error {
	return ss.db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Update("revoked_at", at).Error
}

func (ss *SessionStore) RevokeByTokenHash(ctx context.Context, hash string, at time.Time) (int64, error) {
	tx := ss.db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("token_hash = ? AND revoked_at IS NULL", hash).
		Update("revoked_at", at)
	return tx.RowsAffected, tx.Error
}

func (ss *SessionStore) RevokeAllForUser(ctx context.Context, userID domain.UserID, at time.Time) (int64, error) {
	tx := ss.db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", at)
	return tx.RowsAffected, tx.Error
}

// DeleteDefunctBefore permanently removes up to limit sessions whose expiry
// or revocation lies before the cutoff. Bounded so callers on the request
// path can run it opportunistically without unbounded latency.
func (ss *SessionStore) DeleteDefunctBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	sub := ss.db.WithContext(ctx).
		Model(&domain.Session{}).
		Select("id").
		Where("expires_at < ? OR revoked_at < ?", cutoff, cutoff).
		Limit(limit)
	tx := ss.db.WithContext(ctx).
		Where("id IN (?)", sub).
		Delete(&domain.Session{})
	return tx.RowsAffected, tx.Error
}
