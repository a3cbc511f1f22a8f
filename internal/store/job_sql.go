package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/CanvassSync/internal/util"
)

// maxEnqueueRaces bounds how often enqueueJob retries after a concurrent
// enqueue took the key between its lookup and its insert.
const maxEnqueueRaces = 3

// enqueueJob must run inside a transaction so the key lookup and the write
// are atomic.
func (r sqlRepo) enqueueJob(ctx context.Context, kind string, runAt time.Time, payloadJSON string, opts EnqueueOptions) (string, error) {
	opts = opts.withDefaults()
	now := dbTime(time.Now())
	runAt = dbTime(runAt)

	if opts.JobKey == "" {
		id, _, err := r.insertJob(ctx, kind, runAt, payloadJSON, opts, now)
		return id, err
	}

	for race := 0; race < maxEnqueueRaces; race++ {
		existing, err := r.activeJobByKey(ctx, opts.JobKey, true)
		if err != nil {
			return "", fmt.Errorf("job key lookup failed: %w", err)
		}
		if existing != nil {
			id, done, err := r.applyKeyMode(ctx, existing, runAt, payloadJSON, opts, now)
			if err != nil || done {
				return id, err
			}
		}

		id, inserted, err := r.insertJob(ctx, kind, runAt, payloadJSON, opts, now)
		if err != nil {
			return "", err
		}
		if inserted {
			return id, nil
		}
		// Lookup saw no active job but another transaction committed one
		// before the insert. The next lookup sees it.
		slog.Debug("store.EnqueueJob: lost key race, retrying", "jobKey", opts.JobKey, "race", race+1)
	}
	return "", fmt.Errorf("enqueue job %q: key still contended after %d attempts", opts.JobKey, maxEnqueueRaces)
}

// applyKeyMode handles an active job already holding the key. done is false
// when the caller still has to insert a new job.
func (r sqlRepo) applyKeyMode(ctx context.Context, existing *Job, runAt time.Time, payloadJSON string, opts EnqueueOptions, now time.Time) (string, bool, error) {
	switch {
	case opts.JobKeyMode == JobKeyModeUnsafeDedupe:
		slog.Debug("store.EnqueueJob: dedupe hit", "jobKey", opts.JobKey, "existingID", existing.ID)
		return existing.ID, true, nil

	case existing.Status == JobStatusQueued:
		query := `UPDATE jobs SET payload_json = ?, run_at = ?, max_attempts = ?, attempt = 0, last_error = NULL, updated_at = ? WHERE id = ?`
		args := []any{payloadJSON, runAt, opts.MaxAttempts, now, existing.ID}
		if opts.JobKeyMode == JobKeyModePreserveRunAt {
			query = `UPDATE jobs SET payload_json = ?, max_attempts = ?, attempt = 0, last_error = NULL, updated_at = ? WHERE id = ?`
			args = []any{payloadJSON, opts.MaxAttempts, now, existing.ID}
		}
		if _, err := r.q.ExecContext(ctx, r.rebind(query), args...); err != nil {
			return "", false, fmt.Errorf("replace queued job failed: %w", err)
		}
		slog.Debug("store.EnqueueJob: replaced queued job", "jobKey", opts.JobKey, "id", existing.ID, "mode", opts.JobKeyMode)
		return existing.ID, true, nil

	default:
		// The running job keeps executing; the key moves to the new row.
		if _, err := r.q.ExecContext(ctx,
			r.rebind(`UPDATE jobs SET dedupe_key = NULL, updated_at = ? WHERE id = ?`),
			now, existing.ID,
		); err != nil {
			return "", false, fmt.Errorf("release job key failed: %w", err)
		}
		slog.Debug("store.EnqueueJob: key released by running job", "jobKey", opts.JobKey, "runningID", existing.ID)
		return "", false, nil
	}
}

// insertJob inserts a queued job. inserted is false when an active job with
// the same key already exists; the insert then leaves the transaction usable.
func (r sqlRepo) insertJob(ctx context.Context, kind string, runAt time.Time, payloadJSON string, opts EnqueueOptions, now time.Time) (string, bool, error) {
	id := util.NewJobID()
	result, err := r.q.ExecContext(ctx,
		r.rebind(`INSERT INTO jobs (id, kind, run_at, payload_json, status, attempt, max_attempts, dedupe_key, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 'queued', 0, ?, ?, ?, ?)
		 ON CONFLICT (dedupe_key) WHERE dedupe_key IS NOT NULL AND status IN ('queued', 'running') DO NOTHING`),
		id, kind, runAt, payloadJSON, opts.MaxAttempts, nilIfEmpty(opts.JobKey), now, now,
	)
	if err != nil {
		return "", false, fmt.Errorf("enqueue job failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("enqueue job rows affected failed: %w", err)
	}
	if n == 0 {
		return "", false, nil
	}
	slog.Debug("store.EnqueueJob", "id", id, "kind", kind, "runAt", runAt, "jobKey", opts.JobKey)
	return id, true, nil
}

func (r sqlRepo) activeJobByKey(ctx context.Context, key string, forUpdate bool) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE dedupe_key = ? AND status IN ('queued', 'running')`
	if forUpdate && r.dialect == dialectPostgres {
		query += ` FOR UPDATE`
	}
	j, err := scanJob(r.q.QueryRowContext(ctx, r.rebind(query), key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r sqlRepo) GetActiveJobByKey(ctx context.Context, key string) (*Job, error) {
	j, err := r.activeJobByKey(ctx, key, false)
	if err != nil {
		return nil, fmt.Errorf("get active job by key failed: %w", err)
	}
	return j, nil
}

func (r sqlRepo) CompleteJob(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx,
		r.rebind(`UPDATE jobs SET status = 'done', locked_at = NULL, updated_at = ? WHERE id = ?`),
		dbTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("complete job failed: %w", err)
	}
	return nil
}

func (r sqlRepo) FailJob(ctx context.Context, id string, errMsg string, nextRunAt time.Time) error {
	now := dbTime(time.Now())

	var attempt, maxAttempts int
	err := r.q.QueryRowContext(ctx, r.rebind(`SELECT attempt, max_attempts FROM jobs WHERE id = ?`), id).Scan(&attempt, &maxAttempts)
	if err != nil {
		return fmt.Errorf("fail job lookup failed: %w", err)
	}

	attempt++
	if attempt >= maxAttempts {
		_, err = r.q.ExecContext(ctx,
			r.rebind(`UPDATE jobs SET status = 'failed', attempt = ?, last_error = ?, locked_at = NULL, updated_at = ? WHERE id = ?`),
			attempt, errMsg, now, id,
		)
	} else {
		_, err = r.q.ExecContext(ctx,
			r.rebind(`UPDATE jobs SET status = 'queued', attempt = ?, last_error = ?, run_at = ?, locked_at = NULL, updated_at = ? WHERE id = ?`),
			attempt, errMsg, dbTime(nextRunAt), now, id,
		)
	}
	if err != nil {
		return fmt.Errorf("fail job update failed: %w", err)
	}
	return nil
}

func (r sqlRepo) CancelJob(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx,
		r.rebind(`UPDATE jobs SET status = 'canceled', locked_at = NULL, updated_at = ? WHERE id = ?`),
		dbTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("cancel job failed: %w", err)
	}
	return nil
}

func (r sqlRepo) RequeueStaleRunningJobs(ctx context.Context, staleBefore time.Time) (int, error) {
	result, err := r.q.ExecContext(ctx,
		r.rebind(`UPDATE jobs SET status = 'queued', locked_at = NULL, updated_at = ? WHERE status = 'running' AND locked_at < ?`),
		dbTime(time.Now()), dbTime(staleBefore),
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Info("store.RequeueStaleRunningJobs", "requeued", n)
	}
	return int(n), nil
}

func (r sqlRepo) GetJob(ctx context.Context, id string) (*Job, error) {
	row := r.q.QueryRowContext(ctx, r.rebind(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job failed: %w", err)
	}
	return &j, nil
}

func (r sqlRepo) CountJobsByStatus(ctx context.Context) (map[JobStatus]int, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs failed: %w", err)
	}
	defer rows.Close()

	counts := make(map[JobStatus]int)
	for rows.Next() {
		var status JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan job count failed: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count jobs iteration failed: %w", err)
	}
	return counts, nil
}
