// Package jobs runs the periodic maintenance work of the auth service:
// revocation sweeps, idle-session sweeps and secret reloads.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"crmauth/cmd/internal/obs"
)

// Job is one periodic task. Run returns the number of rows it affected.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (int64, error)
}

// Runner starts jobs on their own tickers. A job's first run happens one
// interval after Start; runs of the same job never overlap.
type Runner struct {
	log  *slog.Logger
	jobs []Job
	wg   sync.WaitGroup
}

// NewRunner builds a Runner. Jobs with a non-positive interval are disabled.
func NewRunner(log *slog.Logger, jobs ...Job) *Runner {
	if log == nil {
		log = slog.Default()
	}
	r := &Runner{log: log}
	for _, j := range jobs {
		if j.Interval <= 0 || j.Run == nil {
			log.Info("job.disabled", "job", j.Name)
			continue
		}
		r.jobs = append(r.jobs, j)
	}
	return r
}

// Start launches every job. They stop when ctx is cancelled; Wait blocks
// until they have.
func (r *Runner) Start(ctx context.Context) {
	for _, j := range r.jobs {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.loop(ctx, j)
		}()
	}
}

// Wait blocks until every job goroutine has returned.
func (r *Runner) Wait() { r.wg.Wait() }

func (r *Runner) loop(ctx context.Context, j Job) {
	r.log.Info("job.start", "job", j.Name, "interval", j.Interval.String())

	t := time.NewTicker(j.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("job.stop", "job", j.Name)
			return
		case <-t.C:
			r.RunOnce(ctx, j)
		}
	}
}

// RunOnce runs j a single time, recording metrics and logging failures.
func (r *Runner) RunOnce(ctx context.Context, j Job) {
	start := time.Now()
	n, err := j.Run(ctx)
	obs.JobRun(j.Name, n, err)

	switch {
	case err == nil:
		r.log.Debug("job.run.ok", "job", j.Name, "affected", n, "duration_ms", time.Since(start).Milliseconds())
	case errors.Is(err, context.Canceled):
	default:
		r.log.Error("job.run.fail", "job", j.Name, "err", err)
	}
}
