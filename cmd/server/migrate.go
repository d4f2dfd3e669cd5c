package main

import (
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/portfolio-engine/internal/config"
	"github.com/kiranshivaraju/portfolio-engine/internal/store"
	"github.com/spf13/cobra"
)

func newMigrateCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
			slog.Info("database migrations applied", "dir", cfg.Database.MigrationsDir)
			return nil
		},
	}
}
