// Package store provides the persistence layer for CanvassSync.
//
// Two backends are supported: PostgreSQL for production deployments and SQLite
// for single-node installs and tests. Both implement Store, the union of the
// job, dedup, sync-action, contact, external-system and secret repositories.
package store

import (
	"context"
	"fmt"
	"strings"
)

// Store is the full persistence surface used by the service.
type Store interface {
	JobRepo
	DedupRepo
	SyncRepo
	ContactRepo
	SystemRepo
	SecretRepo

	// WithTx runs fn with a Store bound to a single transaction. The
	// transaction commits when fn returns nil. Calling WithTx on a store that
	// is already transaction-bound runs fn in the existing transaction.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	// Migrate applies pending schema migrations.
	Migrate(ctx context.Context) error

	Close() error
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN    string
	Driver string // "postgres" or "sqlite3"
}

// Option defines a configuration option for store implementations.
type Option func(*Opts)

// WithPostgresDSN configures a PostgreSQL store.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Driver = "postgres"
	}
}

// WithSQLiteDSN configures an SQLite store. The DSN is a file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Driver = "sqlite3"
	}
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and
// "sqlite3" for everything else.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") ||
		strings.HasPrefix(lower, "postgresql://") ||
		strings.Contains(lower, "host=") ||
		strings.Contains(lower, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// Open creates the store selected by opts and applies migrations.
func Open(ctx context.Context, opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN not set")
	}
	if cfg.Driver == "" {
		cfg.Driver = DetectDSNType(cfg.DSN)
	}

	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case "postgres":
		s, err = NewPostgresStore(opts...)
	case "sqlite3":
		s, err = NewSQLiteStore(opts...)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}
