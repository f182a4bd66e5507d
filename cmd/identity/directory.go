package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"crmauth/cmd/identity/ids"
	"crmauth/cmd/security/password"
)

// Directory verifies credentials and manages users on top of a Store.
type Directory struct {
	store Store
	pw    password.Config
	log   *slog.Logger
}

// NewDirectory builds a Directory. log may be nil.
func NewDirectory(store Store, pw password.Config, log *slog.Logger) *Directory {
	if log == nil {
		log = slog.Default()
	}
	return &Directory{store: store, pw: pw, log: log}
}

// Authenticate checks login (username or email) and plaintext pw. Every
// failure, including an unknown user, is ErrInvalidCredentials.
func (d *Directory) Authenticate(ctx context.Context, login, pw string) (User, error) {
	const op = "identity.Authenticate"
	fail := OpError{Op: op, Kind: ErrInvalidCredentials}

	login = NormalizeLogin(login)
	if login == "" || pw == "" || len(pw) > 4*d.pw.Policy.MaxLength {
		d.pw.DummyVerify(pw)
		return User{}, fail
	}

	u, err := d.store.UserByLogin(ctx, login)
	if IsNotFound(err) {
		d.pw.DummyVerify(pw)
		return User{}, fail
	}
	if err != nil {
		return User{}, err
	}

	ok, err := d.pw.Verify(u.PasswordHash, pw)
	if err != nil {
		d.log.Error("identity.password.bad_hash", "user_id", u.ID, "err", err)
		return User{}, fail
	}
	if !ok {
		return User{}, fail
	}

	if d.pw.NeedsRehash(u.PasswordHash) {
		d.rehash(ctx, u.ID, pw)
	}
	return u, nil
}

func (d *Directory) rehash(ctx context.Context, id, pw string) {
	// Policy may have tightened since the user chose pw; keep it working.
	cfg := d.pw
	cfg.Policy.MinLength = 1

	h, err := cfg.Hash(pw)
	if err == nil {
		err = d.store.UpdatePasswordHash(ctx, id, h)
	}
	if err != nil {
		d.log.Warn("identity.password.rehash_fail", "user_id", id, "err", err)
		return
	}
	d.log.Info("identity.password.rehashed", "user_id", id)
}

// CreateUser validates in, hashes the password and stores the user.
func (d *Directory) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	username := NormalizeLogin(in.Username)
	role := NormalizeRole(in.Role)
	switch {
	case username == "":
		return User{}, invalid(op, "username is required")
	case strings.Contains(username, "@"):
		return User{}, invalid(op, "username must not contain @")
	case role == "":
		return User{}, invalid(op, "role is required")
	}

	hash, err := d.pw.Hash(in.Password)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooShort) || errors.Is(err, password.ErrPasswordTooLong) ||
			errors.Is(err, password.ErrWeakPassword) {
			return User{}, invalid(op, err.Error())
		}
		return User{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return User{}, err
	}

	u := User{
		ID:           id,
		Username:     username,
		Email:        strings.TrimSpace(in.Email),
		DisplayName:  strings.TrimSpace(in.DisplayName),
		Role:         role,
		PasswordHash: hash,
		CreatedAt:    now,
	}
	if err := d.store.InsertUser(ctx, u); err != nil {
		return User{}, err
	}
	return u, nil
}

// Capabilities returns the capability list of role.
func (d *Directory) Capabilities(ctx context.Context, role string) ([]string, error) {
	return d.store.RoleCapabilities(ctx, role)
}

// SetRoleCapabilities replaces the capability set of role.
func (d *Directory) SetRoleCapabilities(ctx context.Context, role string, caps []string) error {
	return d.store.SetRoleCapabilities(ctx, role, caps)
}
