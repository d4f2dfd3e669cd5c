// Package main is the entrypoint for the portfolio pipeline engine: the HTTP
// API, the step worker pool and the operational commands around them.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/kiranshivaraju/portfolio-engine/internal/config"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Every subcommand loads configuration
// through loadConfig so the --config flag applies everywhere.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "portfolio-engine",
		Short:         "Portfolio pipeline engine",
		Long:          "Runs the step pipeline that turns uploaded career documents into portfolio content.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (defaults to ./portfolio.yaml when present)")

	load := func() (*config.Config, error) {
		return loadConfig(configPath, os.Stdout)
	}

	root.AddCommand(
		newServeCmd(load),
		newWorkerCmd(load),
		newMigrateCmd(load),
		newAPIKeyCmd(load),
	)
	return root
}

// loadConfig reads configuration and installs the default slog logger it
// describes.
func loadConfig(path string, out io.Writer) (*config.Config, error) {
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	slog.SetDefault(newLogger(cfg.Log, out))
	return cfg, nil
}

func newLogger(cfg config.LogConfig, out io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(out, opts))
	}
	return slog.New(slog.NewJSONHandler(out, opts))
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}
