package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BTreeMap/CanvassSync/internal/dbx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is the SQLite-backed Store. It uses a single connection so
// transactions and plain queries are serialized.
type SQLiteStore struct {
	sqlRepo
	db   *sql.DB
	inTx bool
}

// NewSQLiteStore creates a new SQLite store. The DSN is a file path; its
// directory is created if it does not exist. Migrations are not applied.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore: invoked", "DSN_set", cfg.DSN != "")
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("SQLiteStore.NewSQLiteStore: create directory failed", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		slog.Error("SQLiteStore.NewSQLiteStore: open failed", "error", err)
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLiteStore.NewSQLiteStore: ping failed", "error", err)
		_ = db.Close()
		return nil, err
	}
	slog.Debug("SQLiteStore.NewSQLiteStore: ping successful", "path", cfg.DSN)
	return &SQLiteStore{sqlRepo: sqlRepo{q: db, dialect: dialectSQLite}, db: db}, nil
}

// DB returns the underlying database handle.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Migrate applies the embedded SQLite migrations.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if s.inTx {
		return fmt.Errorf("migrate inside a transaction is not supported")
	}
	return runMigrations(ctx, s.db, goose.DialectSQLite3, "migrations/sqlite")
}

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return s.withTx(ctx, func(ts *SQLiteStore) error { return fn(ctx, ts) })
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(ts *SQLiteStore) error) error {
	if s.inTx {
		return fn(s)
	}
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(&SQLiteStore{sqlRepo: sqlRepo{q: tx, dialect: dialectSQLite}, db: s.db, inTx: true})
	})
}

func (s *SQLiteStore) EnqueueJob(ctx context.Context, kind string, runAt time.Time, payloadJSON string, opts EnqueueOptions) (string, error) {
	var id string
	err := s.withTx(ctx, func(ts *SQLiteStore) error {
		var err error
		id, err = ts.enqueueJob(ctx, kind, runAt, payloadJSON, opts)
		return err
	})
	return id, err
}

// ClaimDueJobs selects due jobs and marks them running in one transaction.
// The single connection makes the select-then-update atomic.
func (s *SQLiteStore) ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	var jobs []Job
	err := s.withTx(ctx, func(ts *SQLiteStore) error {
		rows, err := ts.q.QueryContext(ctx,
			`SELECT `+jobColumns+` FROM jobs WHERE status = 'queued' AND run_at <= ? ORDER BY run_at ASC LIMIT ?`,
			dbTime(now), limit,
		)
		if err != nil {
			return fmt.Errorf("claim due jobs query failed: %w", err)
		}
		for rows.Next() {
			j, err := scanJob(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("scan job failed: %w", err)
			}
			jobs = append(jobs, j)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("claim due jobs iteration failed: %w", err)
		}
		rows.Close()

		lockedAt := dbTime(now)
		for i := range jobs {
			if _, err := ts.q.ExecContext(ctx,
				`UPDATE jobs SET status = 'running', locked_at = ?, updated_at = ? WHERE id = ?`,
				lockedAt, lockedAt, jobs[i].ID,
			); err != nil {
				return fmt.Errorf("claim job update failed: %w", err)
			}
			jobs[i].Status = JobStatusRunning
			jobs[i].LockedAt = &lockedAt
			jobs[i].UpdatedAt = lockedAt
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// Close closes the SQLite database connection. It is a no-op on a
// transaction-bound store.
func (s *SQLiteStore) Close() error {
	if s.inTx {
		return nil
	}
	slog.Debug("SQLiteStore.Close: closing database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("SQLiteStore.Close: close failed", "error", err)
	}
	return err
}
