package main

import (
	"fmt"
	"log/slog"

	"github.com/BTreeMap/CanvassSync/internal/store"
	"github.com/spf13/cobra"
)

func newMigrateCommand(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(cmd.Context(), buildStoreOptions(*cfg)...)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			slog.Info("database is up to date", "dsn_type", store.DetectDSNType(cfg.DatabaseURL))
			return st.Close()
		},
	}
}
