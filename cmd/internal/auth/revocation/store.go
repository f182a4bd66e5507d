// Package revocation keeps the blacklist of access tokens invalidated by
// logout before their natural expiry.
//
// Entries hold the SHA-256 of the raw token, never the token itself, and
// are deleted by Sweep once the token would have expired anyway.
package revocation

import (
	"context"
	"time"
)

// Entry is one blacklisted token.
type Entry struct {
	TokenHash string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Store persists blacklist entries.
type Store interface {
	// Insert adds e. Inserting an existing hash is a no-op.
	Insert(ctx context.Context, e Entry) error

	// Exists reports whether hash is blacklisted and not yet expired at now.
	Exists(ctx context.Context, hash string, now time.Time) (bool, error)

	// DeleteExpired removes entries with expires_at <= now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
