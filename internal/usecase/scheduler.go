package usecase

import (
	"context"
	"log/slog"
	"time"

	"ChannelPipeline/internal/ports"
)

// Scheduler wires the cron driver with the pipeline use case.
type Scheduler struct {
	driver   ports.Scheduler
	pipeline *Pipeline
	timeout  time.Duration
	logger   *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring runs. A zero
// timeout leaves each run bounded only by the parent context.
func NewScheduler(driver ports.Scheduler, pipeline *Pipeline, timeout time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{driver: driver, pipeline: pipeline, timeout: timeout, logger: logger.With("component", "scheduler")}
}

// Start registers the pipeline with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.pipeline == nil {
		return nil
	}
	return s.driver.Start(ctx, func(trigger time.Time) { s.RunOnce(ctx, trigger) })
}

// RunOnce executes a single scheduled run and logs its outcome.
func (s *Scheduler) RunOnce(ctx context.Context, trigger time.Time) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	s.logger.Info("scheduled run started", "trigger", trigger)
	report, err := s.pipeline.Run(ctx)
	if err != nil {
		s.logger.Error("scheduled run aborted", "error", err)
		return
	}
	if stageErr := report.Err(); stageErr != nil {
		s.logger.Warn("scheduled run finished with failures", "error", stageErr)
		return
	}
	s.logger.Info("scheduled run succeeded",
		"messages", report.Scrape.TotalMessages,
		"duration", report.FinishedAt.Sub(report.StartedAt),
	)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Stop(ctx)
}
