package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// JobHandler executes a job's work. It receives the job's payload JSON and
// returns an error if the execution failed.
type JobHandler func(ctx context.Context, payload string) error

// Default JobRunner settings.
const (
	DefaultPollInterval   = 10 * time.Second
	DefaultConcurrency    = 4
	DefaultJobTimeout     = 2 * time.Minute
	DefaultStaleThreshold = 5 * time.Minute
)

// JobRunner periodically claims due jobs from the database and dispatches them
// to registered handlers.
type JobRunner struct {
	repo           JobRepo
	handlers       map[string]JobHandler
	mu             sync.RWMutex
	pollInterval   time.Duration
	staleThreshold time.Duration
	jobTimeout     time.Duration
	concurrency    int
	claimLimit     int
}

// RunnerOption configures a JobRunner.
type RunnerOption func(*JobRunner)

// WithConcurrency bounds the number of jobs executed at once.
func WithConcurrency(n int) RunnerOption {
	return func(r *JobRunner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithJobTimeout bounds the run time of a single job attempt.
func WithJobTimeout(d time.Duration) RunnerOption {
	return func(r *JobRunner) {
		if d > 0 {
			r.jobTimeout = d
		}
	}
}

// WithStaleThreshold sets how long a job may stay running before it is
// considered abandoned by a crashed worker.
func WithStaleThreshold(d time.Duration) RunnerOption {
	return func(r *JobRunner) {
		if d > 0 {
			r.staleThreshold = d
		}
	}
}

// NewJobRunner creates a new JobRunner.
func NewJobRunner(repo JobRepo, pollInterval time.Duration, opts ...RunnerOption) *JobRunner {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	r := &JobRunner{
		repo:           repo,
		handlers:       make(map[string]JobHandler),
		pollInterval:   pollInterval,
		staleThreshold: DefaultStaleThreshold,
		jobTimeout:     DefaultJobTimeout,
		concurrency:    DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.claimLimit = r.concurrency * 2
	return r
}

// RegisterHandler registers a handler for a given job kind.
func (r *JobRunner) RegisterHandler(kind string, handler JobHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = handler
	slog.Debug("JobRunner.RegisterHandler", "kind", kind)
}

// RecoverStaleJobs requeues jobs that were running when a worker crashed.
// It is called at startup and by the periodic sweep.
func (r *JobRunner) RecoverStaleJobs(ctx context.Context) error {
	staleBefore := time.Now().Add(-r.staleThreshold)
	n, err := r.repo.RequeueStaleRunningJobs(ctx, staleBefore)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("JobRunner.RecoverStaleJobs: requeued stale jobs", "count", n)
	}
	return nil
}

// Run starts the polling loop. It blocks until the context is cancelled.
func (r *JobRunner) Run(ctx context.Context) {
	slog.Info("JobRunner.Run: starting job runner", "pollInterval", r.pollInterval, "concurrency", r.concurrency)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("JobRunner.Run: stopping")
			return
		case <-ticker.C:
			r.RunDue(ctx, time.Now())
		}
	}
}

// RunDue claims the jobs due at now, executes them and waits for them to
// finish. It returns the number of jobs claimed.
func (r *JobRunner) RunDue(ctx context.Context, now time.Time) int {
	jobs, err := r.repo.ClaimDueJobs(ctx, now, r.claimLimit)
	if err != nil {
		slog.Error("JobRunner.RunDue: claim failed", "error", err)
		return 0
	}
	if len(jobs) == 0 {
		return 0
	}

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for _, job := range jobs {
		g.Go(func() error {
			r.execute(ctx, job, now)
			return nil
		})
	}
	_ = g.Wait()
	return len(jobs)
}

func (r *JobRunner) execute(ctx context.Context, job Job, now time.Time) {
	r.mu.RLock()
	handler, ok := r.handlers[job.Kind]
	r.mu.RUnlock()

	if !ok {
		slog.Warn("JobRunner.execute: no handler for job kind", "kind", job.Kind, "id", job.ID)
		nextRun := now.Add(time.Minute)
		if err := r.repo.FailJob(ctx, job.ID, "no handler registered for kind: "+job.Kind, nextRun); err != nil {
			slog.Error("JobRunner.execute: fail job error", "id", job.ID, "error", err)
		}
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, r.jobTimeout)
	defer cancel()

	slog.Debug("JobRunner.execute: executing job", "id", job.ID, "kind", job.Kind, "attempt", job.Attempt)
	if err := handler(jobCtx, job.PayloadJSON); err != nil {
		slog.Error("JobRunner.execute: job execution failed", "id", job.ID, "kind", job.Kind, "attempt", job.Attempt, "error", err)
		if err := r.repo.FailJob(ctx, job.ID, err.Error(), now.Add(Backoff(job.Attempt))); err != nil {
			slog.Error("JobRunner.execute: fail job error", "id", job.ID, "error", err)
		}
		return
	}
	if err := r.repo.CompleteJob(ctx, job.ID); err != nil {
		slog.Error("JobRunner.execute: complete job error", "id", job.ID, "error", err)
		return
	}
	slog.Debug("JobRunner.execute: job completed", "id", job.ID, "kind", job.Kind)
}

// Backoff returns the retry delay after a failed attempt: 30s, 60s, 120s, ...
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 10 {
		attempt = 10
	}
	return time.Duration(30*(1<<attempt)) * time.Second
}
