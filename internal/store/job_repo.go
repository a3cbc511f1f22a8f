package store

import (
	"context"
	"time"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusRunning  JobStatus = "running"
	JobStatusDone     JobStatus = "done"
	JobStatusFailed   JobStatus = "failed"
	JobStatusCanceled JobStatus = "canceled"
)

// DefaultMaxAttempts is used when EnqueueOptions.MaxAttempts is not set.
const DefaultMaxAttempts = 3

// JobKeyMode controls what EnqueueJob does when an active job with the same
// key already exists. A job is active while it is queued or running.
type JobKeyMode string

const (
	// JobKeyModeReplace overwrites a queued job's payload, run_at and
	// max_attempts and resets its attempt count. If the existing job is
	// running, the key moves to a newly inserted job and the running job is
	// left to finish.
	JobKeyModeReplace JobKeyMode = "replace"
	// JobKeyModePreserveRunAt behaves like JobKeyModeReplace but keeps the
	// queued job's run_at.
	JobKeyModePreserveRunAt JobKeyMode = "preserve_run_at"
	// JobKeyModeUnsafeDedupe returns the existing job untouched.
	JobKeyModeUnsafeDedupe JobKeyMode = "unsafe_dedupe"
)

// EnqueueOptions tunes a single EnqueueJob call.
type EnqueueOptions struct {
	JobKey      string
	JobKeyMode  JobKeyMode // defaults to JobKeyModeUnsafeDedupe when JobKey is set
	MaxAttempts int        // defaults to DefaultMaxAttempts
}

func (o EnqueueOptions) withDefaults() EnqueueOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.JobKey != "" && o.JobKeyMode == "" {
		o.JobKeyMode = JobKeyModeUnsafeDedupe
	}
	return o
}

// Job represents a durable job record.
type Job struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	RunAt       time.Time  `json:"run_at"`
	PayloadJSON string     `json:"payload_json"`
	Status      JobStatus  `json:"status"`
	Attempt     int        `json:"attempt"`
	MaxAttempts int        `json:"max_attempts"`
	LastError   string     `json:"last_error"`
	LockedAt    *time.Time `json:"locked_at"`
	DedupeKey   string     `json:"dedupe_key"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// JobRepo defines the interface for durable job persistence.
type JobRepo interface {
	// EnqueueJob inserts a new job, or applies opts.JobKeyMode to the active
	// job already holding opts.JobKey. It returns the ID of the job that will
	// carry the payload.
	EnqueueJob(ctx context.Context, kind string, runAt time.Time, payloadJSON string, opts EnqueueOptions) (string, error)

	// ClaimDueJobs marks up to limit queued jobs whose run_at <= now as running
	// and returns them.
	ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]Job, error)

	// CompleteJob marks a job as done.
	CompleteJob(ctx context.Context, id string) error

	// FailJob stores the error and reschedules the job at nextRunAt if it has
	// attempts left; otherwise it marks the job permanently failed.
	FailJob(ctx context.Context, id string, errMsg string, nextRunAt time.Time) error

	// CancelJob marks a job as canceled.
	CancelJob(ctx context.Context, id string) error

	// RequeueStaleRunningJobs resets jobs that have been running since before
	// staleBefore back to queued status (crash recovery).
	RequeueStaleRunningJobs(ctx context.Context, staleBefore time.Time) (int, error)

	// GetJob retrieves a single job by ID. It returns nil, nil when no job exists.
	GetJob(ctx context.Context, id string) (*Job, error)

	// GetActiveJobByKey returns the queued or running job holding key, or nil.
	GetActiveJobByKey(ctx context.Context, key string) (*Job, error)

	// CountJobsByStatus returns the number of jobs per status.
	CountJobsByStatus(ctx context.Context) (map[JobStatus]int, error)
}
