package domain

import "time"

// Job status values. A job moves processing -> succeeded | failed and
// never changes again.
const (
	JobProcessing = "processing"
	JobSucceeded  = "succeeded"
	JobFailed     = "failed"
)

// JobRun records one background job execution.
type JobRun struct {
	ID         string    `json:"job_id"`
	Kind       string    `json:"kind"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Result     any       `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
}
