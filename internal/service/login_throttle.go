package service

import "context"

// LoginThrottle tracks failed credential checks per IP and per username
// independently: per-IP catches one host spraying many accounts, per-username
// protects one account from a distributed attacker.
type LoginThrottle interface {
	// CheckAllowed returns domain.ErrRateLimited when either key carries an
	// active lockout. A cache fault also denies: unlimited guessing is the
	// worse failure mode.
	CheckAllowed(ctx context.Context, ip, username string) error

	RecordFailure(ctx context.Context, ip, username string) error
	RecordSuccess(ctx context.Context, ip, username string) error
}
