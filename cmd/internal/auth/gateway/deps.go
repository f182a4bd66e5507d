package gateway

import (
	"context"
	"time"

	"crmauth/cmd/internal/auth/session"
	"crmauth/cmd/internal/auth/tokens"
)

// Account is what a CredentialVerifier knows about an authenticated user.
type Account struct {
	ID          string
	Username    string
	Email       string
	DisplayName string
	Role        string
}

// CredentialVerifier checks a username and password. Bad credentials must be
// reported as ErrAuthenticationFailed (possibly wrapped).
type CredentialVerifier interface {
	Verify(ctx context.Context, username, password string) (Account, error)
}

// RolePolicy decides whether a role may sign in.
type RolePolicy interface {
	AllowLogin(ctx context.Context, role string) (bool, error)
}

// Permissions is the process-wide capability cache.
type Permissions interface {
	Get(ctx context.Context, role string) ([]string, error)
	Invalidate(role string)
	InvalidateAll()
}

// Tokens issues and decodes signed tokens. *tokens.Service implements it.
type Tokens interface {
	Issue(t tokens.Type, user tokens.User, meta tokens.Meta, sessionID string) (tokens.Issued, error)
	IssuePair(user tokens.User, meta tokens.Meta, sessionID string) (access, refresh tokens.Issued, err error)
	Decode(raw string, expected tokens.Type, clientIP string) (*tokens.Claims, error)
	DecodeExpired(raw string, expected tokens.Type) (*tokens.Claims, error)
	Rotate(ctx context.Context, t tokens.Type) error
	TTL(t tokens.Type) time.Duration
}

// Revocations is the token blacklist. *revocation.Service implements it.
type Revocations interface {
	RevokeAs(ctx context.Context, raw string, typ tokens.Type) (bool, error)
	IsRevoked(ctx context.Context, raw string) (bool, error)
}

// Sessions is the presence tracker. *session.Tracker implements it.
type Sessions interface {
	Start(ctx context.Context, userID string, meta session.Meta) (session.Started, error)
	EndByID(ctx context.Context, id string) (bool, error)
	ListActive(ctx context.Context, f session.Filter) ([]session.Session, error)
}
