package service

// PasswordHasher is the external password-hash capability: one opaque digest
// string in, one boolean out. Swapping the algorithm never touches callers.
type PasswordHasher interface {
	Hash(password string) (digest string, err error)
	Verify(digest, password string) bool
}
