package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"ChannelPipeline/internal/app"
	"ChannelPipeline/internal/config"
)

// withApp opens the application for one command and closes it afterwards.
func withApp(cmd *cobra.Command, open opener, fn func(ctx context.Context, a *app.Application, cfg config.Config) error) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	a, cfg, err := open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a, cfg)
}

func scrapeCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "scrape",
		Short: "Scrape every configured channel into batch files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, open, func(ctx context.Context, a *app.Application, _ config.Config) error {
				summary, err := a.Scrape(ctx)
				fmt.Fprint(cmd.OutOrStdout(), summary.String())
				return err
			})
		},
	}
}

func loadCmd(open opener) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load batch files into the raw message table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, open, func(ctx context.Context, a *app.Application, _ config.Config) error {
				summary, err := a.Load(ctx, force)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "files: %d loaded: %d skipped: %d failed: %d messages: %d inserted: %d\n",
					summary.Files, summary.Loaded, summary.Skipped, summary.Failed, summary.Messages, summary.Inserted)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Reload files whose checksum was already recorded")

	return cmd
}

func enrichCmd(open opener) *cobra.Command {
	var images, reprocess bool

	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Derive keywords, sentiment and urgency; optionally run image detection",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, open, func(ctx context.Context, a *app.Application, _ config.Config) error {
				n, err := a.EnrichText(ctx, reprocess)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "enriched messages: %d\n", n)

				if !images {
					return nil
				}
				summary, err := a.EnrichImages(ctx, reprocess)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "images pending: %d processed: %d relevant: %d missing: %d failed: %d\n",
					summary.Pending, summary.Processed, summary.Relevant, summary.Missing, summary.Failed)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&images, "images", false, "Also run object detection over downloaded photos")
	cmd.Flags().BoolVar(&reprocess, "reprocess", false, "Recompute rows that were already enriched")

	return cmd
}

func transformCmd(open opener) *cobra.Command {
	var dbt bool

	cmd := &cobra.Command{
		Use:   "transform",
		Short: "Rebuild the staging view and the reporting tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, open, func(ctx context.Context, a *app.Application, _ config.Config) error {
				if err := a.Transform(ctx, dbt); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "transform finished")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dbt, "dbt", false, "Require the dbt project instead of falling back to built-in models")

	return cmd
}

func runCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, open, func(ctx context.Context, a *app.Application, _ config.Config) error {
				report, err := a.Run(ctx)
				fmt.Fprint(cmd.OutOrStdout(), report.String())
				if err != nil {
					return err
				}
				return report.Err()
			})
		},
	}
}

func serveCmd(open opener) *cobra.Command {
	var schedule bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the query API",
		Long: `Serve the read-only query API. With --schedule the full pipeline also runs
on scheduler.cronExpression (six fields, seconds first) in scheduler.timezone.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, open, func(ctx context.Context, a *app.Application, _ config.Config) error {
				return a.Serve(ctx, schedule)
			})
		},
	}
	cmd.Flags().BoolVar(&schedule, "schedule", false, "Also run the pipeline on the configured cron schedule")

	return cmd
}

func healthCmd(load func() (config.Config, error), open opener) *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Report which subsystems are configured and reachable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var report config.HealthReport
			if offline {
				cfg, err := load()
				if err != nil {
					return err
				}
				report = cfg.Health()
			} else {
				err := withApp(cmd, open, func(ctx context.Context, a *app.Application, _ config.Config) error {
					report = a.Health(ctx)
					return nil
				})
				if err != nil {
					return err
				}
			}

			names := make([]string, 0, len(report))
			for name := range report {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				status := "ok"
				if !report[name] {
					status = "FAIL"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-14s %s\n", name, status)
			}

			if failing := report.Failing(); len(failing) > 0 {
				return fmt.Errorf("unhealthy subsystems: %v", failing)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "Validate configuration only, without opening the database")

	return cmd
}
