package main

import (
	"fmt"
	"log/slog"

	"github.com/BTreeMap/CanvassSync/internal/store"
	"github.com/spf13/cobra"
)

func newJobsCommand(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage queued sync jobs",
	}
	cmd.AddCommand(newJobsStatusCommand(cfg))
	cmd.AddCommand(newJobsCancelCommand(cfg))
	return cmd
}

var jobStatusOrder = []store.JobStatus{
	store.JobStatusQueued,
	store.JobStatusRunning,
	store.JobStatusDone,
	store.JobStatusFailed,
	store.JobStatusCanceled,
}

func newJobsStatusCommand(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the number of jobs per status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(cmd.Context(), buildStoreOptions(*cfg)...)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer st.Close()

			counts, err := st.CountJobsByStatus(cmd.Context())
			if err != nil {
				return err
			}
			for _, status := range jobStatusOrder {
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s %d\n", status, counts[status])
			}
			return nil
		},
	}
}

func newJobsCancelCommand(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a queued or running job",
		Long: "Cancel a queued or running job so the runner no longer picks it up.\n" +
			"The job's sync actions keep their current status.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(cmd.Context(), buildStoreOptions(*cfg)...)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer st.Close()

			job, err := st.GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if job == nil {
				return fmt.Errorf("job %s not found", args[0])
			}
			if job.Status != store.JobStatusQueued && job.Status != store.JobStatusRunning {
				return fmt.Errorf("job %s is %s and cannot be canceled", job.ID, job.Status)
			}
			if err := st.CancelJob(cmd.Context(), job.ID); err != nil {
				return err
			}
			slog.Info("job canceled", "jobID", job.ID, "kind", job.Kind, "previousStatus", job.Status)
			fmt.Fprintf(cmd.OutOrStdout(), "canceled job %s\n", job.ID)
			return nil
		},
	}
}
