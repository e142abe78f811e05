package service

import (
	"context"

	"authgate/internal/dto"
)

type AuthService interface {
	// Login runs the full credential-check path: throttle, user lookup,
	// password verification, session issuance, access-token mint, security
	// event. Failures come back as domain sentinels (ErrInvalidCredentials,
	// ErrRateLimited, ...), never as HTTP concerns.
	Login(ctx context.Context, req dto.LoginRequest, ip, userAgent string) (*dto.LoginResult, error)
}
