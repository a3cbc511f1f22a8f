package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/BTreeMap/CanvassSync/internal/api"
	"github.com/BTreeMap/CanvassSync/internal/extsync"
	"github.com/BTreeMap/CanvassSync/internal/lockfile"
	"github.com/BTreeMap/CanvassSync/internal/models"
	"github.com/BTreeMap/CanvassSync/internal/scheduler"
	"github.com/BTreeMap/CanvassSync/internal/secrets"
	"github.com/BTreeMap/CanvassSync/internal/store"
	"github.com/BTreeMap/CanvassSync/internal/van"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// Periodic maintenance schedules
const (
	syncHealthSchedule = "@every 5m"
	staleJobsSchedule  = "@every 1m"
)

func newRunCommand(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Serve the HTTP API and process sync jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runService(ctx, *cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.APIAddr, "api-addr", cfg.APIAddr, "HTTP listen address (env API_ADDR)")
	flags.StringVar(&cfg.PublicBaseURL, "public-base-url", cfg.PublicBaseURL, "externally visible base URL used for Twilio signatures (env PUBLIC_BASE_URL)")
	flags.StringVar(&cfg.VANBaseURL, "van-base-url", cfg.VANBaseURL, "VAN API base URL (env VAN_BASE_URL)")
	flags.IntVar(&cfg.VANContactTypeID, "van-contact-type-id", cfg.VANContactTypeID, "VAN contact type id for canvass responses (env VAN_CONTACT_TYPE_ID)")
	flags.StringVar(&cfg.CanvassTimezone, "canvass-timezone", cfg.CanvassTimezone, "IANA zone canvass dates are bucketed in (env CANVASS_TIMEZONE)")
	flags.DurationVar(&cfg.JobPollInterval, "job-poll-interval", cfg.JobPollInterval, "how often the job runner polls for due jobs (env JOB_POLL_INTERVAL)")
	flags.IntVar(&cfg.JobConcurrency, "job-concurrency", cfg.JobConcurrency, "maximum jobs run in parallel (env JOB_CONCURRENCY)")
	flags.BoolVar(&cfg.ResultCodesOnQuestionResponses, "result-codes-on-question-responses", cfg.ResultCodesOnQuestionResponses,
		"send a mapped result code with question response canvass responses (env SYNC_RESULT_CODES_ON_QUESTION_RESPONSES)")

	return cmd
}

// runService wires the store, adapters, job runner, scheduler and API server
// and blocks until ctx is cancelled or a component fails.
func runService(ctx context.Context, cfg Config) error {
	if cfg.SecretsPassphrase == "" {
		return fmt.Errorf("SECRETS_PASSPHRASE must be set")
	}
	loc, err := time.LoadLocation(cfg.CanvassTimezone)
	if err != nil {
		return fmt.Errorf("invalid canvass timezone %q: %w", cfg.CanvassTimezone, err)
	}

	// Two runners on one SQLite file would race for the same jobs.
	if store.DetectDSNType(cfg.DatabaseURL) == "sqlite3" {
		lock, err := lockfile.Acquire(filepath.Dir(cfg.DatabaseURL))
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	st, err := store.Open(ctx, buildStoreOptions(cfg)...)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	sealer, err := secrets.NewSealer(cfg.SecretsPassphrase)
	if err != nil {
		return err
	}

	registry := extsync.NewRegistry()
	registry.Register(models.ExternalSystemTypeVAN, van.NewAdapter(secrets.NewResolver(sealer), buildVANOptions(cfg, loc)...))

	runner := store.NewJobRunner(st, cfg.JobPollInterval, store.WithConcurrency(cfg.JobConcurrency))
	extsync.RegisterJobHandlers(runner, registry, extsync.NewJobContext(st))
	if err := runner.RecoverStaleJobs(ctx); err != nil {
		slog.Warn("stale job recovery failed at startup", "error", err)
	}

	sched := scheduler.NewScheduler(ctx)
	defer sched.Stop()
	if err := sched.AddJob("sync-health", syncHealthSchedule, func(ctx context.Context) error {
		return extsync.ReportSyncHealth(ctx, st)
	}); err != nil {
		return err
	}
	if err := sched.AddJob("stale-jobs", staleJobsSchedule, runner.RecoverStaleJobs); err != nil {
		return err
	}

	server := api.NewServer(extsync.NewService(st, registry), st, buildAPIOptions(cfg)...)

	slog.Info("CanvassSync starting", "api_addr", cfg.APIAddr, "dsn_type", store.DetectDSNType(cfg.DatabaseURL),
		"van_base_url", cfg.VANBaseURL, "job_concurrency", cfg.JobConcurrency)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		runner.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return server.Run(gctx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("CanvassSync stopped")
	return nil
}
