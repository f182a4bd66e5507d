package revocation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"crmauth/cmd/internal/auth/tokens"
	"crmauth/cmd/security/token"
)

// Decoder verifies access tokens. *tokens.Service implements it.
type Decoder interface {
	Decode(raw string, expected tokens.Type, clientIP string) (*tokens.Claims, error)
}

// Service revokes access tokens and answers revocation checks.
type Service struct {
	store   Store
	decoder Decoder
	log     *slog.Logger
	now     func() time.Time
}

// NewService builds a Service. log may be nil.
func NewService(store Store, decoder Decoder, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, decoder: decoder, log: log, now: time.Now}
}

// WithClock returns a copy of s using now as its time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	cp := *s
	cp.now = now
	return &cp
}

// Revoke blacklists the access token raw until its expiry. It returns
// false, nil when raw does not decode as a live access token: there is
// nothing left to revoke.
func (s *Service) Revoke(ctx context.Context, raw string) (bool, error) {
	return s.RevokeAs(ctx, raw, tokens.TypeAccess)
}

// RevokeAs is Revoke for a token of type typ.
func (s *Service) RevokeAs(ctx context.Context, raw string, typ tokens.Type) (bool, error) {
	claims, err := s.decoder.Decode(raw, typ, "")
	if err != nil {
		s.log.Debug("auth.revoke.skip", "type", string(typ), "reason", string(tokens.KindOf(err)))
		return false, nil
	}

	e := Entry{
		TokenHash: token.HashSHA256Hex(raw),
		UserID:    claims.Subject,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.Insert(ctx, e); err != nil {
		return false, fmt.Errorf("revoke: %w", err)
	}
	return true, nil
}

// IsRevoked reports whether raw is on the blacklist.
func (s *Service) IsRevoked(ctx context.Context, raw string) (bool, error) {
	ok, err := s.store.Exists(ctx, token.HashSHA256Hex(raw), s.now().UTC())
	if err != nil {
		return false, fmt.Errorf("revocation check: %w", err)
	}
	return ok, nil
}

// Sweep deletes entries whose tokens have expired.
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("revocation sweep: %w", err)
	}
	return n, nil
}
