package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ChannelPipeline/internal/domain"
	"ChannelPipeline/internal/metrics"
	"ChannelPipeline/internal/ports"
)

// ErrSourceUnreachable aborts a run when no channel could even connect.
var ErrSourceUnreachable = errors.New("message source unreachable")

// Stage names used in reports and metrics.
const (
	StageScrape    = "scrape"
	StageLoad      = "load"
	StageEnrich    = "enrich_text"
	StageImages    = "enrich_images"
	StageTransform = "transform"
	StageNotify    = "notify"
)

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Scraper     ports.ChannelScraper
	Targets     []domain.ChannelTarget
	Loader      *Loader
	Enricher    *Enricher
	Transformer ports.Transformer
	Notifier    ports.Notifier
	Logger      *slog.Logger
	Now         func() time.Time
}

// Pipeline runs scrape, load, enrich, transform and notify in order.
type Pipeline struct {
	scraper     ports.ChannelScraper
	targets     []domain.ChannelTarget
	loader      *Loader
	enricher    *Enricher
	transformer ports.Transformer
	notifier    ports.Notifier
	logger      *slog.Logger
	now         func() time.Time
}

// StageResult is the outcome of one stage of a run.
type StageResult struct {
	Name     string
	Count    int
	Duration time.Duration
	Err      error
}

// Report describes a full pipeline run.
type Report struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Scrape     domain.RunSummary
	Load       LoadSummary
	Enriched   int
	Images     ImageSummary
	Stages     []StageResult
}

// Err joins the errors of every failed stage.
func (r Report) Err() error {
	var errs []error
	for _, s := range r.Stages {
		if s.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, s.Err))
		}
	}
	return errors.Join(errs...)
}

// String renders the channel summary followed by one line per stage.
func (r Report) String() string {
	var sb strings.Builder
	sb.WriteString(r.Scrape.String())
	for _, s := range r.Stages {
		if s.Name == StageScrape {
			continue
		}
		fmt.Fprintf(&sb, "%s: %d", s.Name, s.Count)
		if s.Err != nil {
			fmt.Fprintf(&sb, " failed: %v", s.Err)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	p := &Pipeline{
		scraper:     deps.Scraper,
		targets:     deps.Targets,
		loader:      deps.Loader,
		enricher:    deps.Enricher,
		transformer: deps.Transformer,
		notifier:    deps.Notifier,
		logger:      deps.Logger,
		now:         deps.Now,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With("component", "pipeline")
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Run executes every configured stage. A stage failure after scraping is
// recorded in the report and the remaining stages still run, since each
// reads whatever is already stored. The returned error is non-nil only
// when the run was aborted.
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	report := Report{StartedAt: p.now().UTC()}

	if p.scraper != nil {
		var summary domain.RunSummary
		err := p.stage(&report, StageScrape, func() (int, error) {
			var err error
			summary, err = p.scraper.ScrapeAll(ctx, p.targets)
			return summary.TotalMessages, err
		})
		report.Scrape = summary
		if err != nil {
			report.FinishedAt = p.now().UTC()
			return report, fmt.Errorf("scrape: %w", err)
		}
		if summary.Unreachable() {
			report.FinishedAt = p.now().UTC()
			return report, fmt.Errorf("%w: %s", ErrSourceUnreachable, summary.Batches[0].Error)
		}
	}

	if p.loader != nil {
		_ = p.stage(&report, StageLoad, func() (int, error) {
			var err error
			report.Load, err = p.loader.LoadAll(ctx, false)
			return report.Load.Inserted, err
		})
	}

	if p.enricher != nil {
		_ = p.stage(&report, StageEnrich, func() (int, error) {
			var err error
			report.Enriched, err = p.enricher.EnrichMessages(ctx, false)
			return report.Enriched, err
		})
		_ = p.stage(&report, StageImages, func() (int, error) {
			var err error
			report.Images, err = p.enricher.EnrichImages(ctx, false)
			return report.Images.Processed, err
		})
	}

	if p.transformer != nil {
		_ = p.stage(&report, StageTransform, func() (int, error) {
			return 0, p.transformer.Transform(ctx)
		})
	}

	if err := ctx.Err(); err != nil {
		report.FinishedAt = p.now().UTC()
		return report, err
	}

	if p.notifier != nil {
		digest := report.String()
		_ = p.stage(&report, StageNotify, func() (int, error) {
			return 1, p.notifier.PublishDigest(ctx, digest)
		})
	}

	report.FinishedAt = p.now().UTC()
	p.logger.Info("pipeline finished",
		"channels_ok", report.Scrape.Successful,
		"messages", report.Scrape.TotalMessages,
		"inserted", report.Load.Inserted,
		"enriched", report.Enriched,
		"images", report.Images.Processed,
		"duration", report.FinishedAt.Sub(report.StartedAt),
	)
	return report, nil
}

func (p *Pipeline) stage(report *Report, name string, fn func() (int, error)) error {
	started := time.Now()
	count, err := fn()
	elapsed := time.Since(started)
	metrics.StageDuration.WithLabelValues(name).Observe(elapsed.Seconds())

	report.Stages = append(report.Stages, StageResult{Name: name, Count: count, Duration: elapsed, Err: err})
	if err != nil {
		p.logger.Error("stage failed", "stage", name, "error", err)
	}
	return err
}
