package main

import (
	"fmt"

	"github.com/kevin07696/escrow-scheduler/internal/adapters/sqlite"
	"github.com/kevin07696/escrow-scheduler/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations to the configured database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			ctx := cmd.Context()

			switch cfg.Storage.Driver {
			case config.StoragePostgres:
				adapter, err := openPostgres(ctx, cfg, logger)
				if err != nil {
					return err
				}
				defer adapter.Close()
				return adapter.Migrate(ctx)

			case config.StorageSQLite:
				store, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
				if err != nil {
					return err
				}
				defer store.Close()
				version, err := store.Migrate(ctx)
				if err != nil {
					return err
				}
				logger.Info("SQLite schema up to date",
					zap.String("path", cfg.Storage.SQLitePath),
					zap.Int64("version", version),
				)
				return nil

			default:
				return fmt.Errorf("storage driver %q has no schema", cfg.Storage.Driver)
			}
		},
	}
}
