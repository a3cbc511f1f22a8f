package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/CanvassSync/internal/dbx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore is the PostgreSQL-backed Store.
type PostgresStore struct {
	sqlRepo
	db   *sql.DB
	inTx bool
}

// NewPostgresStore opens a Postgres connection pool based on provided options.
// Migrations are not applied; call Migrate or use Open.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("PostgresStore.NewPostgresStore: open failed", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("PostgresStore.NewPostgresStore: ping failed", "error", err)
		_ = db.Close()
		return nil, err
	}
	slog.Debug("PostgresStore.NewPostgresStore: ping successful")
	return &PostgresStore{sqlRepo: sqlRepo{q: db, dialect: dialectPostgres}, db: db}, nil
}

// DB returns the underlying connection pool.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Migrate applies the embedded Postgres migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if s.inTx {
		return fmt.Errorf("migrate inside a transaction is not supported")
	}
	return runMigrations(ctx, s.db, goose.DialectPostgres, "migrations/postgres")
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return s.withTx(ctx, func(ts *PostgresStore) error { return fn(ctx, ts) })
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(ts *PostgresStore) error) error {
	if s.inTx {
		return fn(s)
	}
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(&PostgresStore{sqlRepo: sqlRepo{q: tx, dialect: dialectPostgres}, db: s.db, inTx: true})
	})
}

func (s *PostgresStore) EnqueueJob(ctx context.Context, kind string, runAt time.Time, payloadJSON string, opts EnqueueOptions) (string, error) {
	var id string
	err := s.withTx(ctx, func(ts *PostgresStore) error {
		var err error
		id, err = ts.enqueueJob(ctx, kind, runAt, payloadJSON, opts)
		return err
	})
	return id, err
}

func (s *PostgresStore) ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	rows, err := s.q.QueryContext(ctx,
		`UPDATE jobs SET status = 'running', locked_at = $1, updated_at = $1
		 WHERE id IN (
		   SELECT id FROM jobs WHERE status = 'queued' AND run_at <= $1
		   ORDER BY run_at ASC LIMIT $2
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+jobColumns,
		dbTime(now), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due jobs failed: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job failed: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim due jobs iteration failed: %w", err)
	}
	return jobs, nil
}

// Close closes the PostgreSQL database connection. It is a no-op on a
// transaction-bound store.
func (s *PostgresStore) Close() error {
	if s.inTx {
		return nil
	}
	slog.Debug("PostgresStore.Close: closing database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("PostgresStore.Close: close failed", "error", err)
	}
	return err
}
