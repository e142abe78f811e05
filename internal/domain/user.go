package domain

import "time"

// User carries only what the credential-check path needs. Profile data and
// workspace membership live elsewhere.
type User struct {
	ID            UserID    `gorm:"type:uuid;primaryKey" db:"id"`
	Username      string    `gorm:"type:text;uniqueIndex:ux_users_username;not null" db:"username"`
	Email         string    `gorm:"type:text;uniqueIndex:ux_users_email;not null" db:"email"`
	EmailVerified bool      `gorm:"not null" db:"email_verified"`
	IsDisabled    bool      `gorm:"not null" db:"is_disabled"`
	PasswordHash  string    `gorm:"type:text;not null" db:"password_hash"`
	CreatedAt     time.Time `gorm:"not null" db:"created_at"`
	UpdatedAt     time.Time `gorm:"not null" db:"updated_at"`
}

func (User) TableName() string { return "users" }
