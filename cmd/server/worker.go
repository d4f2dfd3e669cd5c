package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kiranshivaraju/portfolio-engine/internal/config"
	"github.com/spf13/cobra"
)

func newWorkerCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run a standalone step worker pool against the shared queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if err := checkTopology(cfg, false); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			w, err := a.newWorker(ctx)
			if err != nil {
				return err
			}
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			slog.Info("worker pool stopped")
			return nil
		},
	}
}
