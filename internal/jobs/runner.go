// Package jobs runs long analyses in the background and tracks their state.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/telcoinsights/fabric-gateway/internal/cache"
	"github.com/telcoinsights/fabric-gateway/internal/domain"
	"github.com/telcoinsights/fabric-gateway/internal/store"
)

// ErrNotFound is returned when a job id is unknown.
var ErrNotFound = errors.New("job not found")

// Fn is one unit of background work. The result must be JSON-serializable.
type Fn func(ctx context.Context) (any, error)

// Runner executes jobs in goroutines. Live state is served from the cache;
// finished runs are also archived so status survives cache expiry.
type Runner struct {
	cache   *cache.Cache
	archive store.Archive // may be nil
	base    context.Context
	timeout time.Duration
}

// NewRunner builds a Runner. base bounds job lifetimes: when the service
// shuts down, running jobs are cancelled with it.
func NewRunner(base context.Context, c *cache.Cache, archive store.Archive, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Runner{cache: c, archive: archive, base: base, timeout: timeout}
}

// Submit starts fn in the background and returns the new job id
// immediately.
func (r *Runner) Submit(kind string, fn Fn) string {
	run := &domain.JobRun{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    domain.JobProcessing,
		StartedAt: time.Now().UTC(),
	}
	r.record(run)
	slog.Info("job submitted", "job_id", run.ID, "kind", kind)

	go func() {
		ctx, cancel := context.WithTimeout(r.base, r.timeout)
		defer cancel()

		result, err := fn(ctx)

		finished := *run
		finished.FinishedAt = time.Now().UTC()
		if err != nil {
			finished.Status = domain.JobFailed
			finished.Error = err.Error()
			slog.Error("job failed", "job_id", run.ID, "kind", kind, "error", err)
		} else {
			finished.Status = domain.JobSucceeded
			finished.Result = result
			slog.Info("job succeeded", "job_id", run.ID, "kind", kind,
				"duration", finished.FinishedAt.Sub(finished.StartedAt))
		}
		r.record(&finished)
	}()

	return run.ID
}

func (r *Runner) record(run *domain.JobRun) {
	r.cache.Put(jobKey(run.ID), run)
	if r.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.base), 5*time.Second)
	defer cancel()
	if err := r.archive.SaveJobRun(ctx, run); err != nil {
		slog.Warn("job archive write failed", "job_id", run.ID, "error", err)
	}
}

// Status returns the job's current state, consulting the archive when the
// cache entry has expired.
func (r *Runner) Status(ctx context.Context, id string) (*domain.JobRun, error) {
	if v, ok := r.cache.Get(jobKey(id)); ok {
		if run, ok := v.(*domain.JobRun); ok {
			return run, nil
		}
	}
	if r.archive != nil {
		run, err := r.archive.GetJobRun(ctx, id)
		if err == nil {
			return run, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("job status lookup: %w", err)
		}
	}
	return nil, ErrNotFound
}

func jobKey(id string) string {
	return "job:" + id
}
