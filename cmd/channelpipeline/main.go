// Package main is the entry point for the channelpipeline CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ChannelPipeline/internal/app"
	"ChannelPipeline/internal/config"
	"ChannelPipeline/internal/logging"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "channelpipeline",
		Short: "Telegram channel ETL pipeline",
		Long: `channelpipeline scrapes public Telegram channels into batch files, loads them
into the warehouse, enriches text and images, rebuilds the reporting models and
serves them over a read-only HTTP API.

Configuration is read from --config (or CHANNEL_PIPELINE_CONFIG), then .env,
then environment variables.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the YAML config file")

	open := func(ctx context.Context) (*app.Application, config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, cfg, fmt.Errorf("load config: %w", err)
		}
		application, err := app.New(ctx, cfg, logging.New(cfg.Logging.Level, cfg.Logging.Format))
		if err != nil {
			return nil, cfg, fmt.Errorf("start application: %w", err)
		}
		return application, cfg, nil
	}

	cmd.AddCommand(scrapeCmd(open))
	cmd.AddCommand(loadCmd(open))
	cmd.AddCommand(enrichCmd(open))
	cmd.AddCommand(transformCmd(open))
	cmd.AddCommand(runCmd(open))
	cmd.AddCommand(serveCmd(open))
	cmd.AddCommand(healthCmd(func() (config.Config, error) { return config.Load(configPath) }, open))

	return cmd
}

type opener func(ctx context.Context) (*app.Application, config.Config, error)

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
