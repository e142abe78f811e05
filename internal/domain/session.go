package domain

import (
	"time"
)

// Session backs one long-lived refresh credential for one client/device
// pairing. Only the SHA-256 digest of the refresh token is ever stored; the
// raw token exists client-side only.
type Session struct {
	ID         SessionID  `gorm:"type:uuid;primaryKey" db:"id"`
	UserID     UserID     `gorm:"type:uuid;index" db:"user_id"`
	TokenHash  string     `gorm:"type:text;uniqueIndex:ux_sessions_token_hash;not null" db:"token_hash"`
	Remember   bool       `gorm:"not null" db:"remember"`
	CreatedAt  time.Time  `gorm:"not null" db:"created_at"`
	LastUsedAt time.Time  `gorm:"not null" db:"last_used_at"`
	ExpiresAt  time.Time  `gorm:"not null;index" db:"expires_at"`
	RevokedAt  *time.Time `db:"revoked_at"`
	IP         string     `gorm:"type:text" db:"ip"`
	UserAgent  string     `gorm:"type:text" db:"user_agent"`
}

func (Session) TableName() string { return "sessions" }

// Active reports whether the session is usable at the given instant. A
// session that still physically exists but is revoked, expired, or idle past
// the inactivity window is not active.
func (s *Session) Active(now time.Time, inactivity time.Duration) bool {
	if s.RevokedAt != nil {
		return false
	}
	if !now.Before(s.ExpiresAt) {
		return false
	}
	if inactivity > 0 && !now.Before(s.LastUsedAt.Add(inactivity)) {
		return false
	}
	return true
}
