package authapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"crmauth/cmd/identity/ids"
)

// AuditEvent is one row of the auth audit trail.
type AuditEvent struct {
	Action    string
	UserID    string
	IP        string
	UserAgent string
	Meta      map[string]any
}

// Auditor records audit events. Implementations must not fail the request:
// errors are logged and dropped.
type Auditor interface {
	Record(ctx context.Context, ev AuditEvent)
}

// NopAuditor drops every event.
type NopAuditor struct{}

// Record implements Auditor.
func (NopAuditor) Record(context.Context, AuditEvent) {}

// PostgresAuditor writes events to crm.auth_audit.
type PostgresAuditor struct {
	pool *pgxpool.Pool
	log  *slog.Logger
	now  func() time.Time
}

// NewPostgresAuditor constructs a PostgresAuditor. log may be nil.
func NewPostgresAuditor(pool *pgxpool.Pool, log *slog.Logger) *PostgresAuditor {
	if log == nil {
		log = slog.Default()
	}
	return &PostgresAuditor{pool: pool, log: log, now: time.Now}
}

// Record implements Auditor.
func (a *PostgresAuditor) Record(ctx context.Context, ev AuditEvent) {
	if a == nil || a.pool == nil {
		return
	}
	action := strings.TrimSpace(ev.Action)
	if action == "" {
		return
	}

	now := a.now().UTC()
	id, err := ids.NewULID(now)
	if err != nil {
		a.log.Error("auth.audit.id.fail", "err", err, "action", action)
		return
	}

	var metaVal *string
	if len(ev.Meta) > 0 {
		if b, err := json.Marshal(ev.Meta); err == nil {
			s := string(b)
			metaVal = &s
		}
	}

	_, err = a.pool.Exec(ctx, `
		INSERT INTO crm.auth_audit (
			id, action, user_id, ip, user_agent, meta, created_at
		) VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
	`, id, action, trimOrNil(ev.UserID), trimOrNil(ev.IP), trimOrNil(ev.UserAgent), metaVal, now)
	if err != nil {
		a.log.Error("auth.audit.insert.fail", "err", err, "action", action)
	}
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
