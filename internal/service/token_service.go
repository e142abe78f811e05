package service

import "authgate/internal/domain"

// TokenClaims is the subset of verified access-token claims this core cares
// about. The wire format belongs to the token service implementation.
type TokenClaims struct {
	Subject   string
	SessionID string
}

// TokenService is the short-lived bearer-token collaborator: sign on issue,
// verify on use. Session persistence is not its job.
type TokenService interface {
	Issue(subject domain.UserID, sessionID domain.SessionID) (token string, expiresIn int64, err error)
	Verify(token string) (*TokenClaims, error)
}
