package impl

import "errors"

var (
	ErrEmptyPassword = errors.New("empty password")
	ErrBadDigest     = errors.New("malformed password digest")
	ErrTokenInvalid  = errors.New("invalid token")
)
