package jobs

import (
	"context"
	"time"
)

// Sweeper deletes expired revocation entries. *revocation.Service implements it.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// IdleSweeper ends idle sessions. *session.Tracker implements it.
type IdleSweeper interface {
	Sweep(ctx context.Context, idle time.Duration) (int64, error)
}

// Reloader re-reads signing secrets. *tokens.Service implements it.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Intervals configures the auth jobs.
type Intervals struct {
	Revocation  time.Duration
	Sessions    time.Duration
	SessionIdle time.Duration
	Secrets     time.Duration
}

// DefaultIntervals returns the production schedule.
func DefaultIntervals() Intervals {
	return Intervals{
		Revocation:  24 * time.Hour,
		Sessions:    5 * time.Minute,
		SessionIdle: 30 * time.Minute,
		Secrets:     time.Minute,
	}
}

// AuthJobs builds the maintenance jobs of the auth service.
func AuthJobs(iv Intervals, revocations Sweeper, sessions IdleSweeper, secrets Reloader) []Job {
	return []Job{
		{
			Name:     "revocation_sweep",
			Interval: iv.Revocation,
			Run:      revocations.Sweep,
		},
		{
			Name:     "session_sweep",
			Interval: iv.Sessions,
			Run: func(ctx context.Context) (int64, error) {
				return sessions.Sweep(ctx, iv.SessionIdle)
			},
		},
		{
			Name:     "secret_reload",
			Interval: iv.Secrets,
			Run: func(ctx context.Context) (int64, error) {
				return 0, secrets.Reload(ctx)
			},
		},
	}
}
