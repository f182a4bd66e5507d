package revocation

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on crm.token_blacklist.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed blacklist.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Insert adds an entry (idempotent on token_hash).
func (s *PostgresStore) Insert(ctx context.Context, e Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO crm.token_blacklist (token_hash, user_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token_hash) DO NOTHING
	`, e.TokenHash, e.UserID, e.ExpiresAt, e.CreatedAt)
	return err
}

// Exists reports whether an unexpired entry matches hash.
func (s *PostgresStore) Exists(ctx context.Context, hash string, now time.Time) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM crm.token_blacklist
			WHERE token_hash = $1 AND expires_at > $2
		)
	`, hash, now).Scan(&ok)
	return ok, err
}

// DeleteExpired removes entries whose token has expired.
func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM crm.token_blacklist
		WHERE expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
