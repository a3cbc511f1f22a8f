package main

import (
	"path/filepath"

	"github.com/spf13/cobra"
)

// NewRootCommand builds the canvasssync command tree. Flag defaults come
// from the environment, so flags override env vars.
func NewRootCommand() *cobra.Command {
	cfg := loadEnvironmentConfig()

	cmd := &cobra.Command{
		Use:           "canvasssync",
		Short:         "Sync texting-campaign outcomes to external canvassing systems",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// A new state dir moves the default SQLite file with it.
			if cmd.Flags().Changed("state-dir") && !cmd.Flags().Changed("db-dsn") && cfg.defaultDSN {
				cfg.DatabaseURL = filepath.Join(cfg.StateDir, DefaultDBFileName)
			}
			initializeLogger(cfg.LogLevel)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "state directory for the SQLite database and lock file (env CANVASSSYNC_STATE_DIR)")
	flags.StringVar(&cfg.DatabaseURL, "db-dsn", cfg.DatabaseURL, "PostgreSQL DSN or SQLite file path (env DATABASE_URL)")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn or error (env LOG_LEVEL)")

	cmd.AddCommand(newRunCommand(&cfg))
	cmd.AddCommand(newMigrateCommand(&cfg))
	cmd.AddCommand(newSecretCommand(&cfg))
	cmd.AddCommand(newJobsCommand(&cfg))

	return cmd
}
