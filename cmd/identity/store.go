package identity

import (
	"context"
	"time"
)

// User is a CRM principal as stored in crm.users.
type User struct {
	ID           string
	Username     string
	Email        string
	DisplayName  string
	Role         string
	PasswordHash string
	CreatedAt    time.Time
}

// CreateUserInput describes a new user. Password is plaintext and is hashed
// by the Directory before reaching a Store.
type CreateUserInput struct {
	Username    string
	Email       string
	DisplayName string
	Role        string
	Password    string
	Now         time.Time
}

// Store is the persistence boundary of the directory.
type Store interface {
	// UserByLogin finds a user by normalized username or email.
	// Returns ErrNotFound when nobody matches.
	UserByLogin(ctx context.Context, login string) (User, error)

	// InsertUser stores u (ID and PasswordHash already set).
	InsertUser(ctx context.Context, u User) error

	// UpdatePasswordHash replaces the stored hash of user id.
	UpdatePasswordHash(ctx context.Context, id, hash string) error

	// RoleCapabilities lists the capabilities granted to role, sorted.
	RoleCapabilities(ctx context.Context, role string) ([]string, error)

	// SetRoleCapabilities replaces the capability set of role.
	SetRoleCapabilities(ctx context.Context, role string, caps []string) error
}
