package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/BTreeMap/CanvassSync/internal/secrets"
	"github.com/BTreeMap/CanvassSync/internal/store"
	"github.com/spf13/cobra"
)

func newSecretCommand(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage sealed external-system credentials",
	}
	cmd.AddCommand(newSecretSetCommand(cfg))
	return cmd
}

func newSecretSetCommand(cfg *Config) *cobra.Command {
	var value string

	cmd := &cobra.Command{
		Use:   "set <ref>",
		Short: "Seal and store a secret under ref",
		Long: "Seal and store a secret under ref. The value is taken from --value, or read from stdin when the flag is absent.\n" +
			"Point an external system's api_key_ref at ref to use it as that system's API key.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.SecretsPassphrase == "" {
				return fmt.Errorf("SECRETS_PASSPHRASE must be set")
			}
			if !cmd.Flags().Changed("value") {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read secret from stdin: %w", err)
				}
				value = strings.TrimRight(string(data), "\r\n")
			}
			if value == "" {
				return fmt.Errorf("secret value is empty")
			}

			sealer, err := secrets.NewSealer(cfg.SecretsPassphrase)
			if err != nil {
				return err
			}
			st, err := store.Open(cmd.Context(), buildStoreOptions(*cfg)...)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer st.Close()

			if err := secrets.Put(cmd.Context(), st, sealer, args[0], value); err != nil {
				return err
			}
			slog.Info("secret stored", "ref", args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "stored secret %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&value, "value", "", "secret value; read from stdin when omitted")
	return cmd
}
