package gateway

import (
	"context"
	"slices"
	"strings"

	"crmauth/cmd/internal/auth/session"
	"crmauth/cmd/internal/auth/tokens"
)

// Authorize validates accessToken and requires its role to be one of roles.
func (g *Gateway) Authorize(ctx context.Context, accessToken, clientIP string, roles []string) (*tokens.Claims, error) {
	claims, err := g.Validate(ctx, accessToken, clientIP)
	if err != nil {
		return nil, err
	}
	role := strings.ToLower(claims.User.Role)
	if !slices.ContainsFunc(roles, func(r string) bool { return strings.EqualFold(r, role) }) {
		return nil, ErrForbiddenRole
	}
	return claims, nil
}

// RotateSecret replaces the signing secret of t. Every outstanding token of
// that type stops verifying and its holders must sign in again.
func (g *Gateway) RotateSecret(ctx context.Context, t tokens.Type, actor string) error {
	if !t.Valid() {
		return ErrInvalidRequest
	}
	if err := g.tokens.Rotate(ctx, t); err != nil {
		return err
	}
	g.log.Warn("auth.admin.secret_rotated", "type", string(t), "actor", actor)
	return nil
}

// InvalidatePermissions drops cached capabilities for role, or for every
// role when role is empty.
func (g *Gateway) InvalidatePermissions(role, actor string) {
	if strings.TrimSpace(role) == "" {
		g.perms.InvalidateAll()
	} else {
		g.perms.Invalidate(role)
	}
	g.log.Info("auth.admin.permissions_invalidated", "role", role, "actor", actor)
}

// ActiveSessions returns the presence list.
func (g *Gateway) ActiveSessions(ctx context.Context, f session.Filter) ([]session.Session, error) {
	return g.sessions.ListActive(ctx, f)
}
