package store

import (
	"context"

	"authgate/internal/domain"

	"gorm.io/gorm"
)

type UserStore struct{ db *gorm.DB }

func (us *UserStore) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	var u domain.User
	if err := us.db.WithContext(ctx).First(&u, "username = ?", username).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (us *UserStore) GetByID(ctx context.Context, id domain.UserID) (*domain.User, error) {
	var u domain.User
	if err := us.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}
