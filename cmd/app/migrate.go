package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"telegram-subscriber-notify/internal/config"
	"telegram-subscriber-notify/internal/infra/db"
	"telegram-subscriber-notify/internal/infra/db/jsonfile"
	"telegram-subscriber-notify/internal/infra/logging"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy the JSON subscribers file into the configured database",
		Long: "Copy the JSON subscribers file into the configured database.\n" +
			"The source file is only read: legacy lists and incomplete records are\n" +
			"normalized in memory, and an unparsable file aborts the migration.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.LoadConfig(opts.configPath, opts.dev)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			logger := logging.New(cfg.Log, cfg.Runtime.Dev)

			backend, _, err := db.Resolve(cfg.Database.URL)
			if err != nil {
				return err
			}
			if backend == db.BackendJSONFile {
				return fmt.Errorf("migrate needs DATABASE_URL (or database.url) to point at a database")
			}
			if from == "" {
				from = cfg.Storage.SubscribersFile
			}

			subs, err := jsonfile.NewReader(from, logger).LoadAll(ctx)
			if err != nil {
				return fmt.Errorf("read %s: %w", from, err)
			}

			store, err := db.Open(ctx, cfg.Database, cfg.Storage, logger)
			if err != nil {
				return fmt.Errorf("registry: %w", err)
			}
			defer store.Close()

			if err := store.Repo.SaveAll(ctx, subs); err != nil {
				return fmt.Errorf("save: %w", err)
			}
			logger.Info().Int("subscribers", len(subs)).Str("from", from).Str("backend", store.Backend).Msg("migration complete")
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %d subscribers from %s\n", len(subs), from)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "subscribers JSON file (default: storage.subscribers_file)")
	return cmd
}
