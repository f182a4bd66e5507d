package session

import (
	"context"
	"time"
)

// Meta describes the client that started a session.
type Meta struct {
	IP        string
	UserAgent string
}

// Activity is the optional heartbeat payload. Empty fields leave the stored
// value unchanged.
type Activity struct {
	Module string
	Page   string
}

// Filter narrows ListActive.
type Filter struct {
	// Module, when set, keeps only sessions currently in that module.
	Module string
}

// Session mirrors a crm.user_sessions row. The token hash is never exposed.
type Session struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	CurrentModule string     `json:"current_module,omitempty"`
	CurrentPage   string     `json:"current_page,omitempty"`
	IP            string     `json:"ip,omitempty"`
	UserAgent     string     `json:"user_agent,omitempty"`
	LoginAt       time.Time  `json:"login_at"`
	LastActivity  time.Time  `json:"last_activity"`
	LogoutAt      *time.Time `json:"logout_at,omitempty"`
	Active        bool       `json:"is_active"`
}

// Store persists sessions. Every mutation is a single-row or set-based
// update; none of them may flip an inactive row back to active.
type Store interface {
	// Create inserts a new active session keyed by tokenHash.
	Create(ctx context.Context, s Session, tokenHash string) error

	// Touch records activity on the active session with tokenHash.
	// It reports false when no active row matched.
	Touch(ctx context.Context, tokenHash string, now time.Time, act Activity) (bool, error)

	// EndByHash and EndByID end an active session. They report false when
	// nothing was active.
	EndByHash(ctx context.Context, tokenHash string, now time.Time) (bool, error)
	EndByID(ctx context.Context, id string, now time.Time) (bool, error)

	// EndIdle ends active sessions whose last activity is before cutoff,
	// backfilling logout_at with last_activity.
	EndIdle(ctx context.Context, cutoff time.Time) (int64, error)

	// ListActive returns active sessions seen at or after since, newest first.
	ListActive(ctx context.Context, since time.Time, f Filter) ([]Session, error)
}
