// Package scheduler runs periodic maintenance tasks for CanvassSync.
//
// Tasks are registered with cron expressions or "@every" descriptors, e.g.
// the sync health report and the stale-job sweep.
package scheduler

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Task is a periodic unit of work. Its error is logged, not retried.
type Task func(ctx context.Context) error

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
}

// NewScheduler creates and starts a cron scheduler. Tasks receive ctx.
func NewScheduler(ctx context.Context) *Scheduler {
	// Standard 5-field cron plus descriptors such as @every 5m.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c, ctx: ctx}
}

// AddJob schedules task under name using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(name, expr string, task Task) error {
	_, err := s.cron.AddFunc(expr, func() {
		if s.ctx.Err() != nil {
			return
		}
		if err := task(s.ctx); err != nil {
			slog.Error("Scheduler.AddJob: task failed", "name", name, "error", err)
			return
		}
		slog.Debug("Scheduler.AddJob: task completed", "name", name)
	})
	if err != nil {
		return err
	}
	slog.Info("Scheduler.AddJob: task scheduled", "name", name, "expr", expr)
	return nil
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
