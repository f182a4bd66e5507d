package session

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on crm.user_sessions.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Create inserts a new active session row.
func (s *PostgresStore) Create(ctx context.Context, sess Session, tokenHash string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO crm.user_sessions (
			id, token_hash, user_id,
			current_module, current_page, ip, user_agent,
			login_at, last_activity, logout_at, is_active
		) VALUES (
			$1, $2, $3,
			NULL, NULL, $4, $5,
			$6, $6, NULL, TRUE
		)
	`, sess.ID, tokenHash, sess.UserID, nullIfEmpty(sess.IP), nullIfEmpty(sess.UserAgent), sess.LoginAt)
	return err
}

// Touch updates last_activity and any supplied fields on an active row.
func (s *PostgresStore) Touch(ctx context.Context, tokenHash string, now time.Time, act Activity) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE crm.user_sessions
		SET last_activity = $2,
		    current_module = COALESCE($3, current_module),
		    current_page = COALESCE($4, current_page)
		WHERE token_hash = $1 AND is_active
	`, tokenHash, now, nullIfEmpty(act.Module), nullIfEmpty(act.Page))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// EndByHash ends the active session with tokenHash.
func (s *PostgresStore) EndByHash(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE crm.user_sessions
		SET logout_at = $2, is_active = FALSE
		WHERE token_hash = $1 AND is_active
	`, tokenHash, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// EndByID ends the active session with id.
func (s *PostgresStore) EndByID(ctx context.Context, id string, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE crm.user_sessions
		SET logout_at = $2, is_active = FALSE
		WHERE id = $1 AND is_active
	`, id, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// EndIdle ends sessions idle since before cutoff.
func (s *PostgresStore) EndIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE crm.user_sessions
		SET is_active = FALSE, logout_at = last_activity
		WHERE is_active AND last_activity < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListActive returns the presence list, newest activity first.
func (s *PostgresStore) ListActive(ctx context.Context, since time.Time, f Filter) ([]Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			id, user_id,
			COALESCE(current_module, ''), COALESCE(current_page, ''),
			COALESCE(ip, ''), COALESCE(user_agent, ''),
			login_at, last_activity, logout_at, is_active
		FROM crm.user_sessions
		WHERE is_active
		  AND last_activity >= $1
		  AND ($2::text = '' OR current_module = $2::text)
		ORDER BY last_activity DESC
	`, since, f.Module)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Session, error) {
		var sess Session
		err := row.Scan(
			&sess.ID,
			&sess.UserID,
			&sess.CurrentModule,
			&sess.CurrentPage,
			&sess.IP,
			&sess.UserAgent,
			&sess.LoginAt,
			&sess.LastActivity,
			&sess.LogoutAt,
			&sess.Active,
		)
		return sess, err
	})
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
