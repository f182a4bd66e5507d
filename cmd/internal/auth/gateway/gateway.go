package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"crmauth/cmd/internal/auth/session"
	"crmauth/cmd/internal/auth/tokens"
	"crmauth/cmd/internal/obs"
)

// Gateway implements the auth operations behind the REST surface.
type Gateway struct {
	verifier    CredentialVerifier
	policy      RolePolicy
	perms       Permissions
	tokens      Tokens
	revocations Revocations
	sessions    Sessions
	log         *slog.Logger
	tracer      trace.Tracer
}

// Deps groups the collaborators of a Gateway. All fields are required.
type Deps struct {
	Verifier    CredentialVerifier
	Policy      RolePolicy
	Permissions Permissions
	Tokens      Tokens
	Revocations Revocations
	Sessions    Sessions
}

// New builds a Gateway. log may be nil.
func New(d Deps, log *slog.Logger) (*Gateway, error) {
	if d.Verifier == nil || d.Policy == nil || d.Permissions == nil || d.Tokens == nil ||
		d.Revocations == nil || d.Sessions == nil {
		return nil, errors.New("gateway: missing dependency")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		verifier:    d.Verifier,
		policy:      d.Policy,
		perms:       d.Permissions,
		tokens:      d.Tokens,
		revocations: d.Revocations,
		sessions:    d.Sessions,
		log:         log,
		tracer:      otel.Tracer("crmauth/gateway"),
	}, nil
}

// Client identifies the caller of an operation.
type Client struct {
	IP        string
	UserAgent string
}

func (c Client) meta() tokens.Meta { return tokens.Meta{IP: c.IP, UserAgent: c.UserAgent} }

// LoginResult is returned by a successful Login.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	User         tokens.User
	SessionToken string
	SessionID    string
}

// Login verifies credentials and role admission, starts a presence session
// and issues an access/refresh pair from one user snapshot. A forbidden role
// gets no tokens and no session.
func (g *Gateway) Login(ctx context.Context, username, password string, c Client) (res LoginResult, err error) {
	ctx, span := g.tracer.Start(ctx, "auth.Login")
	defer func() { g.finish(span, "login", err) }()

	if strings.TrimSpace(username) == "" || password == "" {
		return LoginResult{}, ErrAuthenticationFailed
	}

	acct, err := g.verifier.Verify(ctx, username, password)
	if err != nil {
		if errors.Is(err, ErrAuthenticationFailed) {
			g.log.Info("auth.login.failed", "username", username, "ip", c.IP)
			return LoginResult{}, ErrAuthenticationFailed
		}
		return LoginResult{}, fmt.Errorf("verify credentials: %w", err)
	}
	span.SetAttributes(attribute.String("crm.user_id", acct.ID), attribute.String("crm.role", acct.Role))

	allowed, err := g.policy.AllowLogin(ctx, acct.Role)
	if err != nil {
		return LoginResult{}, fmt.Errorf("role policy: %w", err)
	}
	if !allowed {
		g.log.Warn("auth.login.forbidden", "user_id", acct.ID, "role", acct.Role, "ip", c.IP)
		return LoginResult{}, ErrForbiddenRole
	}

	caps, err := g.perms.Get(ctx, acct.Role)
	if err != nil {
		return LoginResult{}, fmt.Errorf("capabilities: %w", err)
	}
	user := tokens.User{
		ID:           acct.ID,
		Username:     acct.Username,
		Email:        acct.Email,
		DisplayName:  acct.DisplayName,
		Role:         acct.Role,
		Capabilities: caps,
	}

	started, err := g.sessions.Start(ctx, acct.ID, session.Meta{IP: c.IP, UserAgent: c.UserAgent})
	if err != nil {
		return LoginResult{}, err
	}

	access, refresh, err := g.tokens.IssuePair(user, c.meta(), started.ID)
	if err != nil {
		if _, endErr := g.sessions.EndByID(ctx, started.ID); endErr != nil {
			g.log.Error("auth.login.session_cleanup_fail", "session_id", started.ID, "err", endErr)
		}
		return LoginResult{}, err
	}

	g.log.Info("auth.login.success", "user_id", acct.ID, "role", acct.Role, "session_id", started.ID, "ip", c.IP)
	return LoginResult{
		AccessToken:  access.Token,
		RefreshToken: refresh.Token,
		ExpiresIn:    int64(g.tokens.TTL(tokens.TypeAccess).Seconds()),
		User:         user,
		SessionToken: started.Token,
		SessionID:    started.ID,
	}, nil
}

// RefreshResult is returned by a successful Refresh.
type RefreshResult struct {
	AccessToken string
	ExpiresIn   int64
	User        tokens.User
}

// Refresh mints a new access token from a valid, non-blacklisted refresh
// token. Capabilities are re-read so role changes reach the new token. Decode
// failures are returned as *tokens.Error.
func (g *Gateway) Refresh(ctx context.Context, refreshToken string, c Client) (res RefreshResult, err error) {
	ctx, span := g.tracer.Start(ctx, "auth.Refresh")
	defer func() { g.finish(span, "refresh", err) }()

	claims, err := g.tokens.Decode(refreshToken, tokens.TypeRefresh, c.IP)
	if err != nil {
		return RefreshResult{}, err
	}
	revoked, err := g.revocations.IsRevoked(ctx, refreshToken)
	if err != nil {
		return RefreshResult{}, err
	}
	if revoked {
		return RefreshResult{}, ErrBlacklisted
	}

	user := claims.User
	caps, err := g.perms.Get(ctx, user.Role)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("capabilities: %w", err)
	}
	user.Capabilities = caps

	access, err := g.tokens.Issue(tokens.TypeAccess, user, c.meta(), claims.SessionID)
	if err != nil {
		return RefreshResult{}, err
	}

	g.log.Info("auth.refresh.success", "user_id", user.ID, "session_id", claims.SessionID)
	return RefreshResult{
		AccessToken: access.Token,
		ExpiresIn:   int64(g.tokens.TTL(tokens.TypeAccess).Seconds()),
		User:        user,
	}, nil
}

// LogoutResult reports what Logout changed.
type LogoutResult struct {
	UserID       string
	Revoked      bool
	SessionEnded bool
}

// Logout blacklists the access token (and refreshToken when given) and ends
// the session named by the access token. Repeating it is harmless; a token
// that no longer decodes has nothing to revoke. An authentic but expired
// access token is not blacklisted, but its session still ends and the
// refresh token is still revoked.
func (g *Gateway) Logout(ctx context.Context, accessToken, refreshToken string) (res LogoutResult, err error) {
	ctx, span := g.tracer.Start(ctx, "auth.Logout")
	defer func() { g.finish(span, "logout", err) }()

	if strings.TrimSpace(accessToken) == "" {
		return LogoutResult{}, ErrInvalidRequest
	}

	expired := false
	claims, decodeErr := g.tokens.Decode(accessToken, tokens.TypeAccess, "")
	if tokens.KindOf(decodeErr) == tokens.KindExpired {
		if stale, err := g.tokens.DecodeExpired(accessToken, tokens.TypeAccess); err == nil {
			claims, decodeErr, expired = stale, nil, true
		}
	}
	if decodeErr != nil {
		g.log.Info("auth.logout.noop", "reason", string(tokens.KindOf(decodeErr)))
		return LogoutResult{}, nil
	}
	res.UserID = claims.Subject

	if !expired {
		if res.Revoked, err = g.revocations.RevokeAs(ctx, accessToken, tokens.TypeAccess); err != nil {
			return res, fmt.Errorf("%w: %w", ErrRevocationFailed, err)
		}
	}
	if refreshToken != "" {
		if _, err := g.revocations.RevokeAs(ctx, refreshToken, tokens.TypeRefresh); err != nil {
			return res, fmt.Errorf("%w: %w", ErrRevocationFailed, err)
		}
	}

	if claims.SessionID != "" {
		ended, endErr := g.sessions.EndByID(ctx, claims.SessionID)
		if endErr != nil {
			g.log.Error("auth.logout.session_end_fail", "session_id", claims.SessionID, "err", endErr)
		}
		res.SessionEnded = ended
	}

	g.log.Info("auth.logout",
		"user_id", res.UserID,
		"session_id", claims.SessionID,
		"session_ended", res.SessionEnded,
		"token_expired", expired,
	)
	return res, nil
}

// Validate decodes an access token and checks the blacklist. It changes no
// state; an IP mismatch is only logged (or rejected under that policy).
func (g *Gateway) Validate(ctx context.Context, accessToken, clientIP string) (claims *tokens.Claims, err error) {
	ctx, span := g.tracer.Start(ctx, "auth.Validate")
	defer func() { g.finish(span, "validate", err) }()

	claims, err = g.tokens.Decode(accessToken, tokens.TypeAccess, clientIP)
	if err != nil {
		return nil, err
	}
	revoked, err := g.revocations.IsRevoked(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrBlacklisted
	}
	return claims, nil
}

func (g *Gateway) finish(span trace.Span, op string, err error) {
	defer span.End()

	if err == nil {
		obs.AuthEvent(op, "ok")
		return
	}

	outcome := Outcome(err)
	obs.AuthEvent(op, outcome)
	var te *tokens.Error
	if errors.As(err, &te) {
		obs.TokenRejected(string(te.Kind))
	}
	span.SetAttributes(attribute.String("crm.outcome", outcome))
	if outcome == "internal_error" {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// Outcome maps an operation error to a stable, low-cardinality label.
func Outcome(err error) string {
	var te *tokens.Error
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &te):
		return string(te.Kind)
	case errors.Is(err, ErrAuthenticationFailed):
		return "authentication_failed"
	case errors.Is(err, ErrForbiddenRole):
		return "forbidden_role"
	case errors.Is(err, ErrBlacklisted):
		return "blacklisted"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrRevocationFailed):
		return "revocation_failed"
	default:
		return "internal_error"
	}
}
