package dto

import (
	"time"

	"github.com/google/uuid"
)

type TokenResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"`
}

// LoginResult carries everything the transport needs to answer a successful
// login: the bearer token for the response body and the refresh-session
// material for the cookies.
type LoginResult struct {
	UserID            uuid.UUID
	AccessToken       string
	ExpiresIn         int64
	SessionToken      string
	SessionID         uuid.UUID
	SessionExpiresAt  time.Time
	SessionPersistent bool
}

type VerifyResponse struct {
	Valid     bool   `json:"valid"`
	Subject   string `json:"subject,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}
