package app

import (
	"context"
	"errors"
	"fmt"

	"crmauth/cmd/identity"
	"crmauth/cmd/internal/auth/gateway"
)

// directoryVerifier adapts the credential directory to the gateway.
type directoryVerifier struct {
	dir *identity.Directory
}

func (v directoryVerifier) Verify(ctx context.Context, username, password string) (gateway.Account, error) {
	u, err := v.dir.Authenticate(ctx, username, password)
	if errors.Is(err, identity.ErrInvalidCredentials) {
		return gateway.Account{}, fmt.Errorf("%w: %w", gateway.ErrAuthenticationFailed, err)
	}
	if err != nil {
		return gateway.Account{}, err
	}
	return gateway.Account{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        u.Role,
	}, nil
}
