package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"crmauth/cmd/identity/ids"
	"crmauth/cmd/security/token"
)

// Tracker implements the session lifecycle on top of a Store.
type Tracker struct {
	cfg    Config
	store  Store
	hasher token.Hasher
	log    *slog.Logger
	now    func() time.Time
}

// Started is the result of Start. Token is returned once and never stored.
type Started struct {
	ID    string
	Token string
}

// NewTracker validates cfg and builds a Tracker.
func NewTracker(cfg Config, store Store, hasher token.Hasher, log *slog.Logger) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{cfg: cfg, store: store, hasher: hasher, log: log, now: time.Now}, nil
}

// SetClock overrides the time source (tests).
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// Config returns the tracker settings.
func (t *Tracker) Config() Config { return t.cfg }

// Start opens a new active session for userID.
func (t *Tracker) Start(ctx context.Context, userID string, meta Meta) (Started, error) {
	plain, hash, err := t.hasher.NewOpaque(t.cfg.TokenBytes)
	if err != nil {
		return Started{}, fmt.Errorf("session token: %w", err)
	}

	now := t.now().UTC()
	id, err := ids.NewULID(now)
	if err != nil {
		return Started{}, fmt.Errorf("session id: %w", err)
	}

	sess := Session{
		ID:           id,
		UserID:       userID,
		IP:           meta.IP,
		UserAgent:    meta.UserAgent,
		LoginAt:      now,
		LastActivity: now,
		Active:       true,
	}
	if err := t.store.Create(ctx, sess, hash); err != nil {
		return Started{}, fmt.Errorf("create session: %w", err)
	}
	return Started{ID: id, Token: plain}, nil
}

// Heartbeat records activity on an active session. It reports false, and
// changes nothing, when the session is unknown or already ended.
func (t *Tracker) Heartbeat(ctx context.Context, sessionToken string, act Activity) (bool, error) {
	sessionToken = strings.TrimSpace(sessionToken)
	if sessionToken == "" {
		return false, ErrMissingToken
	}
	act.Module = strings.TrimSpace(act.Module)
	act.Page = strings.TrimSpace(act.Page)

	ok, err := t.store.Touch(ctx, t.hasher.Hash(sessionToken), t.now().UTC(), act)
	if err != nil {
		return false, fmt.Errorf("heartbeat: %w", err)
	}
	return ok, nil
}

// End ends the session owning sessionToken. Ending an ended session is a no-op.
func (t *Tracker) End(ctx context.Context, sessionToken string) (bool, error) {
	sessionToken = strings.TrimSpace(sessionToken)
	if sessionToken == "" {
		return false, ErrMissingToken
	}
	ok, err := t.store.EndByHash(ctx, t.hasher.Hash(sessionToken), t.now().UTC())
	if err != nil {
		return false, fmt.Errorf("end session: %w", err)
	}
	return ok, nil
}

// EndByID ends the session with id, as referenced by an access token's sid.
func (t *Tracker) EndByID(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	ok, err := t.store.EndByID(ctx, id, t.now().UTC())
	if err != nil {
		return false, fmt.Errorf("end session: %w", err)
	}
	return ok, nil
}

// Sweep ends sessions idle for longer than idle; idle <= 0 uses the
// configured IdleTimeout.
func (t *Tracker) Sweep(ctx context.Context, idle time.Duration) (int64, error) {
	if idle <= 0 {
		idle = t.cfg.IdleTimeout
	}
	n, err := t.store.EndIdle(ctx, t.now().UTC().Add(-idle))
	if err != nil {
		return 0, fmt.Errorf("session sweep: %w", err)
	}
	return n, nil
}

// ListActive returns sessions active within the presence window.
func (t *Tracker) ListActive(ctx context.Context, f Filter) ([]Session, error) {
	f.Module = strings.TrimSpace(f.Module)
	list, err := t.store.ListActive(ctx, t.now().UTC().Add(-t.cfg.PresenceWindow), f)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	return list, nil
}
