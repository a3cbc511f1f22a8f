package extsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/CanvassSync/internal/store"
)

// Default dispatcher settings.
const (
	DefaultJobDelay       = time.Minute
	DefaultJobMaxAttempts = 5
)

// Dispatcher enqueues sync jobs keyed by contact, system and kind so that
// repeated queue calls collapse into one active job carrying the latest
// payload.
type Dispatcher struct {
	delay       time.Duration
	maxAttempts int
	now         func() time.Time
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithJobDelay sets how far in the future a job is scheduled.
func WithJobDelay(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) {
		if d >= 0 {
			disp.delay = d
		}
	}
}

// WithJobMaxAttempts sets the attempt limit of enqueued jobs.
func WithJobMaxAttempts(n int) DispatcherOption {
	return func(disp *Dispatcher) {
		if n > 0 {
			disp.maxAttempts = n
		}
	}
}

// WithClock replaces the time source used to compute run_at.
func WithClock(now func() time.Time) DispatcherOption {
	return func(disp *Dispatcher) {
		if now != nil {
			disp.now = now
		}
	}
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		delay:       DefaultJobDelay,
		maxAttempts: DefaultJobMaxAttempts,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// JobKey returns the dedupe key of the job for p.
func JobKey(kind string, p Payload) string {
	return fmt.Sprintf("%s-%d-%s", kind, p.CampaignContactID, p.ExternalSystemID)
}

// Enqueue schedules a job of kind for p and returns the id of the job that
// carries the payload.
func (d *Dispatcher) Enqueue(ctx context.Context, jobs store.JobRepo, kind string, p Payload) (string, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal sync payload: %w", err)
	}
	key := JobKey(kind, p)
	id, err := jobs.EnqueueJob(ctx, kind, d.now().Add(d.delay), string(payload), store.EnqueueOptions{
		JobKey:      key,
		JobKeyMode:  store.JobKeyModeReplace,
		MaxAttempts: d.maxAttempts,
	})
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", kind, err)
	}
	slog.Debug("Dispatcher.Enqueue: job scheduled", "kind", kind, "jobKey", key, "jobID", id, "syncID", p.SyncID)
	return id, nil
}
