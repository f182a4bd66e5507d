package tokens

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Service holds the signing secrets and issues and decodes tokens.
// Build one per process and share it.
type Service struct {
	cfg     Config
	codec   *Codec
	secrets SecretStore
	log     *slog.Logger
	now     func() time.Time

	mu   sync.RWMutex
	keys map[Type][]byte
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used for security events.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService validates cfg and loads every secret from store.
func NewService(ctx context.Context, cfg Config, store SecretStore, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("%w: nil secret store", ErrConfig)
	}
	if cfg.IPPolicy == "" {
		cfg.IPPolicy = IPPolicyLog
	}

	s := &Service{
		cfg:     cfg,
		secrets: store,
		log:     slog.Default(),
		now:     time.Now,
		keys:    make(map[Type][]byte, len(Types)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.codec = NewCodec(cfg.Issuer, cfg.Leeway, s.now)

	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Config returns the active configuration.
func (s *Service) Config() Config { return s.cfg }

// Key implements Keys with the in-memory secrets.
func (s *Service) Key(t Type) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.keys[t]
	if !ok {
		return nil, ErrUnknownType
	}
	return k, nil
}

// Reload re-reads every secret from the store, picking up rotations made by
// other instances.
func (s *Service) Reload(ctx context.Context) error {
	loaded := make(map[Type][]byte, len(Types))
	for _, t := range Types {
		secret, err := s.secrets.Secret(ctx, t)
		if err != nil {
			return fmt.Errorf("load secrets: %w", err)
		}
		loaded[t] = secret
	}

	s.mu.Lock()
	s.keys = loaded
	s.mu.Unlock()
	return nil
}

// Rotate replaces the secret for t. Every outstanding token of that type
// stops verifying.
func (s *Service) Rotate(ctx context.Context, t Type) error {
	if !t.Valid() {
		return ErrUnknownType
	}
	secret, err := s.secrets.Rotate(ctx, t)
	if err != nil {
		return fmt.Errorf("rotate secret: %w", err)
	}

	s.mu.Lock()
	s.keys[t] = secret
	s.mu.Unlock()

	s.log.Warn("auth.secret.rotated", "type", string(t))
	return nil
}

// Issued is a freshly signed token.
type Issued struct {
	Token     string
	ExpiresAt time.Time
	Claims    Claims
}

// TTL returns the lifetime of tokens of type t.
func (s *Service) TTL(t Type) time.Duration {
	if t == TypeRefresh {
		return s.cfg.RefreshTTL
	}
	return s.cfg.AccessTTL
}

// Issue signs a token of type t for user.
func (s *Service) Issue(t Type, user User, meta Meta, sessionID string) (Issued, error) {
	return s.issueAt(s.now(), t, user, meta, sessionID)
}

// IssuePair signs an access and a refresh token from the same snapshot and
// issuance time.
func (s *Service) IssuePair(user User, meta Meta, sessionID string) (access, refresh Issued, err error) {
	now := s.now()
	if access, err = s.issueAt(now, TypeAccess, user, meta, sessionID); err != nil {
		return Issued{}, Issued{}, err
	}
	if refresh, err = s.issueAt(now, TypeRefresh, user, meta, sessionID); err != nil {
		return Issued{}, Issued{}, err
	}
	return access, refresh, nil
}

func (s *Service) issueAt(now time.Time, t Type, user User, meta Meta, sessionID string) (Issued, error) {
	key, err := s.Key(t)
	if err != nil {
		return Issued{}, err
	}

	// NumericDate has second precision; truncate so ExpiresAt matches the claim.
	iat := now.UTC().Truncate(time.Second)
	exp := iat.Add(s.TTL(t))
	if user.Capabilities == nil {
		user.Capabilities = []string{}
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
		Type:      t,
		User:      user,
		Meta:      meta,
		SessionID: sessionID,
	}

	raw, err := s.codec.Encode(claims, key)
	if err != nil {
		return Issued{}, fmt.Errorf("sign %s token: %w", t, err)
	}
	return Issued{Token: raw, ExpiresAt: exp, Claims: claims}, nil
}

// DecodeExpired verifies raw like Decode but accepts a token past its
// expiry. Logout uses it to find the session of an expired access token.
func (s *Service) DecodeExpired(raw string, expected Type) (*Claims, error) {
	return s.codec.DecodeExpired(raw, expected, s)
}

// Decode verifies raw as a token of type expected. clientIP is the caller's
// current address; pass "" to skip the IP comparison.
func (s *Service) Decode(raw string, expected Type, clientIP string) (*Claims, error) {
	claims, err := s.codec.Decode(raw, expected, s)
	if err != nil {
		return nil, err
	}

	if clientIP != "" && claims.Meta.IP != "" && claims.Meta.IP != clientIP {
		s.log.Warn("auth.token.ip_mismatch",
			"sub", claims.Subject,
			"type", string(expected),
			"token_ip", claims.Meta.IP,
			"client_ip", clientIP,
			"policy", string(s.cfg.IPPolicy),
		)
		if s.cfg.IPPolicy == IPPolicyReject {
			return nil, ErrIPMismatch
		}
	}
	return claims, nil
}
