package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event types recorded by this core. The list is a compatibility contract
// with whatever consumes the security_events table.
const (
	EventLoginSuccess     = "login.success"
	EventLoginFailure     = "login.failure"
	EventLockoutTriggered = "login.lockout"
	EventSessionRevoked   = "session.revoked"
	EventSignatureMatch   = "request.signature_match"
)

// SecurityEvent is an append-only audit record. Client metadata is stored in
// its anonymized form; rows are never updated, only appended and eventually
// swept by retention.
type SecurityEvent struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" db:"id"`
	UserID    *UserID   `gorm:"type:uuid" db:"user_id"`
	EventType string    `gorm:"type:text;not null;index" db:"event_type"`
	Metadata  []byte    `gorm:"type:jsonb" db:"metadata"`
	IP        string    `gorm:"type:text" db:"ip"`
	IPHash    string    `gorm:"type:text" db:"ip_hash"`
	UserAgent string    `gorm:"type:text" db:"user_agent"`
	CreatedAt time.Time `gorm:"not null;index" db:"created_at"`
}

func (SecurityEvent) TableName() string { return "security_events" }
