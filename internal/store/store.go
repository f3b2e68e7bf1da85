// Package store persists background job runs.
package store

import (
	"context"
	"errors"

	"github.com/telcoinsights/fabric-gateway/internal/domain"
)

// ErrNotFound is returned when a job id is unknown to the archive.
var ErrNotFound = errors.New("job run not found")

// Archive records job runs durably so results survive restarts. Live
// status lookups go through the cache; the archive is the system of
// record for finished runs.
type Archive interface {
	SaveJobRun(ctx context.Context, run *domain.JobRun) error
	GetJobRun(ctx context.Context, id string) (*domain.JobRun, error)
	ListJobRuns(ctx context.Context, kind string, limit int) ([]*domain.JobRun, error)
	Ping(ctx context.Context) error
	Close() error
}
