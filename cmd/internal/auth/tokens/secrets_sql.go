package tokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLSecretStore persists secrets in crm.auth_secrets through database/sql.
type SQLSecretStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLSecretStore creates a store over db.
func NewSQLSecretStore(db *sql.DB) *SQLSecretStore {
	return &SQLSecretStore{db: db, now: time.Now}
}

// Secret loads the persisted secret for t. When none exists it inserts a new
// one; if another instance inserted first, that instance's secret wins.
func (s *SQLSecretStore) Secret(ctx context.Context, t Type) ([]byte, error) {
	if !t.Valid() {
		return nil, ErrUnknownType
	}

	secret, err := s.load(ctx, t)
	if err == nil {
		return secret, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load %s secret: %w", t, err)
	}

	fresh, err := newSecret()
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO crm.auth_secrets (token_type, secret, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_type) DO NOTHING
	`, string(t), fresh, s.now().UTC()); err != nil {
		return nil, fmt.Errorf("insert %s secret: %w", t, err)
	}

	secret, err = s.load(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("reload %s secret: %w", t, err)
	}
	return secret, nil
}

// Rotate replaces the persisted secret for t.
func (s *SQLSecretStore) Rotate(ctx context.Context, t Type) ([]byte, error) {
	if !t.Valid() {
		return nil, ErrUnknownType
	}
	fresh, err := newSecret()
	if err != nil {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO crm.auth_secrets (token_type, secret, created_at, rotated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (token_type) DO UPDATE
		SET secret = EXCLUDED.secret, rotated_at = EXCLUDED.rotated_at
	`, string(t), fresh, s.now().UTC()); err != nil {
		return nil, fmt.Errorf("rotate %s secret: %w", t, err)
	}
	return fresh, nil
}

func (s *SQLSecretStore) load(ctx context.Context, t Type) ([]byte, error) {
	var secret []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT secret FROM crm.auth_secrets WHERE token_type = $1
	`, string(t)).Scan(&secret)
	if err != nil {
		return nil, err
	}
	if len(secret) != SecretBytes {
		return nil, ErrSecretCorrupt
	}
	return secret, nil
}
