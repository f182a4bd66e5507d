package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on crm.users and crm.role_capabilities.
// The pool is owned by the caller.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return &PostgresStore{pool: pool}, nil
}

// UserByLogin loads a user by username or email.
func (s *PostgresStore) UserByLogin(ctx context.Context, login string) (User, error) {
	const op = "identity.UserByLogin"

	var u User
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, COALESCE(email, ''), COALESCE(display_name, ''),
		       role, password_hash, created_at
		FROM crm.users
		WHERE username = $1 OR lower(email) = $1
		ORDER BY (username = $1) DESC
		LIMIT 1
	`, NormalizeLogin(login)).Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.DisplayName,
		&u.Role,
		&u.PasswordHash,
		&u.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, OpError{Op: op, Kind: ErrNotFound}
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// InsertUser stores a new user row.
func (s *PostgresStore) InsertUser(ctx context.Context, u User) error {
	const op = "identity.InsertUser"

	_, err := s.pool.Exec(ctx, `
		INSERT INTO crm.users (id, username, email, display_name, role, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, u.ID, u.Username, nullIfEmpty(u.Email), nullIfEmpty(u.DisplayName), u.Role, u.PasswordHash, u.CreatedAt)
	if err != nil {
		if field, ok := uniqueViolation(err); ok {
			return conflict(op, field)
		}
		return err
	}
	return nil
}

// UpdatePasswordHash replaces the stored hash.
func (s *PostgresStore) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE crm.users SET password_hash = $2 WHERE id = $1
	`, id, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return OpError{Op: "identity.UpdatePasswordHash", Kind: ErrNotFound}
	}
	return nil
}

// RoleCapabilities lists the capabilities of role.
func (s *PostgresStore) RoleCapabilities(ctx context.Context, role string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT capability FROM crm.role_capabilities
		WHERE role = $1
		ORDER BY capability
	`, NormalizeRole(role))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// SetRoleCapabilities replaces the capability set of role in one transaction.
func (s *PostgresStore) SetRoleCapabilities(ctx context.Context, role string, caps []string) error {
	role = NormalizeRole(role)
	if role == "" {
		return invalid("identity.SetRoleCapabilities", "role is required")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM crm.role_capabilities WHERE role = $1`, role); err != nil {
		return err
	}
	for _, c := range caps {
		if c = strings.TrimSpace(c); c == "" {
			continue
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO crm.role_capabilities (role, capability) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, role, c); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func uniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return "", false
	}

	c := strings.ToLower(pgErr.ConstraintName)
	switch {
	case strings.Contains(c, "username"):
		return "username", true
	case strings.Contains(c, "email"):
		return "email", true
	default:
		return "unique", true
	}
}
