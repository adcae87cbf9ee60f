// Package app wires configuration to the pipeline stages and the query API.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"ChannelPipeline/internal/api"
	"ChannelPipeline/internal/config"
	"ChannelPipeline/internal/domain"
	"ChannelPipeline/internal/enrich"
	"ChannelPipeline/internal/infrastructure/batchfile"
	"ChannelPipeline/internal/infrastructure/ml"
	"ChannelPipeline/internal/infrastructure/scheduler"
	"ChannelPipeline/internal/infrastructure/storage"
	"ChannelPipeline/internal/infrastructure/telegram"
	"ChannelPipeline/internal/infrastructure/transform"
	"ChannelPipeline/internal/logging"
	"ChannelPipeline/internal/metrics"
	"ChannelPipeline/internal/ports"
	"ChannelPipeline/internal/query"
	"ChannelPipeline/internal/scraper"
	"ChannelPipeline/internal/usecase"
)

// Version is overridden at build time.
var Version = "dev"

const shutdownTimeout = 10 * time.Second

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg    config.Config
	logger *slog.Logger
	db     storage.Database

	scraper     *scraper.Scraper
	loader      *usecase.Loader
	enricher    *usecase.Enricher
	transformer ports.Transformer
	pipeline    *usecase.Pipeline
	queries     *query.Service
}

// New opens the database, applies migrations and builds every stage.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	report := cfg.Health()
	if failing := report.Failing(); len(failing) > 0 {
		baseLogger.Warn("optional subsystems not configured", "subsystems", failing)
	} else {
		baseLogger.Info("configuration validated", "subsystems", len(report))
	}

	db, err := storage.Open(ctx, cfg.Database.DSN, baseLogger)
	if err != nil {
		return nil, err
	}
	if err := storage.Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	store := batchfile.NewStore(cfg.Storage.RawDataPath, cfg.Storage.MediaPath)
	session := telegram.NewWebSession(
		telegram.WithBaseURL(cfg.Source.BaseURL),
		telegram.WithUserAgent(cfg.Source.UserAgent),
		telegram.WithRateLimit(cfg.Source.RequestsPerSecond),
		telegram.WithTimeout(cfg.Source.Timeout),
		telegram.WithDefaultRetryAfter(cfg.Source.DefaultRetryAfter),
		telegram.WithLogger(baseLogger.With("component", "session")),
	)
	scr := scraper.New(scraper.Deps{
		Session: session,
		Store:   store,
		Locker:  store,
		Logger:  baseLogger.With("component", "scraper"),
	}, scraper.Options{
		MessageLimit:  cfg.Scraper.MessageLimit,
		ChannelDelay:  cfg.Scraper.ChannelDelay,
		DownloadMedia: cfg.Scraper.MediaEnabled(),
	})

	messages := storage.NewMessageRepository(db)
	loader := usecase.NewLoader(usecase.LoaderDeps{
		Store:      store,
		Repository: messages,
		Logger:     baseLogger,
	})

	enricherDeps := usecase.EnricherDeps{
		Messages:    messages,
		Enrichments: storage.NewEnrichmentRepository(db),
		Analyzer:    enrich.NewTextAnalyzer(cfg.Lexicon),
		Scorer:      enrich.NewRelevanceScorer(cfg.Detection.ClassWeights, cfg.Detection.RelevanceThreshold),
		Confidence:  cfg.Detection.ConfidenceThreshold,
		Concurrency: cfg.Detection.Concurrency,
		PageSize:    cfg.Lexicon.EnrichPageSize,
		Logger:      baseLogger,
	}
	if cfg.Detection.Endpoint != "" {
		enricherDeps.Detector = ml.NewClient(cfg.Detection.Endpoint, cfg.Detection.APIKey)
	}
	enricher := usecase.NewEnricher(enricherDeps)

	transformer := newTransformer(cfg.Transform, db, baseLogger)

	var notifier ports.Notifier
	if tg := cfg.Notifications.Telegram; tg.BotToken != "" && tg.ChatID != "" {
		notifier = telegram.NewNotifier(tg.APIURL, tg.BotToken, tg.ChatID)
	}

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Scraper:     scr,
		Targets:     targets(cfg.Channels),
		Loader:      loader,
		Enricher:    enricher,
		Transformer: transformer,
		Notifier:    notifier,
		Logger:      baseLogger,
	})

	return &Application{
		cfg:         cfg,
		logger:      baseLogger,
		db:          db,
		scraper:     scr,
		loader:      loader,
		enricher:    enricher,
		transformer: transformer,
		pipeline:    pipeline,
		queries:     query.NewService(db, cfg.Products, baseLogger),
	}, nil
}

func newTransformer(cfg config.TransformConfig, db storage.Database, logger *slog.Logger) ports.Transformer {
	dbt := transform.NewDBTExecutor(cfg.DBTBinary, cfg.ProjectDir, cfg.ProfilesDir, cfg.Timeout, logger)
	if cfg.UseDBT {
		return dbt
	}
	return transform.Fallback{DBT: dbt, Models: transform.NewModels(db, logger)}
}

func targets(channels []config.ChannelConfig) []domain.ChannelTarget {
	out := make([]domain.ChannelTarget, 0, len(channels))
	for _, ch := range channels {
		out = append(out, domain.ChannelTarget{Name: ch.Name, URL: ch.URL})
	}
	return out
}

// Close releases the database handle.
func (a *Application) Close() error {
	return a.db.Close()
}

// Scrape pulls every configured channel into batch artifacts.
func (a *Application) Scrape(ctx context.Context) (domain.RunSummary, error) {
	summary, err := a.scraper.ScrapeAll(ctx, targets(a.cfg.Channels))
	if err != nil {
		return summary, err
	}
	if summary.Unreachable() {
		return summary, usecase.ErrSourceUnreachable
	}
	return summary, nil
}

// Load moves every artifact into the raw table.
func (a *Application) Load(ctx context.Context, force bool) (usecase.LoadSummary, error) {
	return a.loader.LoadAll(ctx, force)
}

// EnrichText derives keywords, sentiment and urgency.
func (a *Application) EnrichText(ctx context.Context, reprocess bool) (int, error) {
	return a.enricher.EnrichMessages(ctx, reprocess)
}

// EnrichImages runs object detection over downloaded photos.
func (a *Application) EnrichImages(ctx context.Context, reprocess bool) (usecase.ImageSummary, error) {
	return a.enricher.EnrichImages(ctx, reprocess)
}

// Transform rebuilds the reporting tables. useDBT forces the dbt project.
func (a *Application) Transform(ctx context.Context, useDBT bool) error {
	if useDBT && !a.cfg.Transform.UseDBT {
		cfg := a.cfg.Transform
		cfg.UseDBT = true
		return newTransformer(cfg, a.db, a.logger).Transform(ctx)
	}
	return a.transformer.Transform(ctx)
}

// Run executes the full pipeline once.
func (a *Application) Run(ctx context.Context) (usecase.Report, error) {
	return a.pipeline.Run(ctx)
}

// Health combines the configuration report with a live database ping.
func (a *Application) Health(ctx context.Context) map[string]bool {
	report := a.cfg.Health()
	if err := a.db.Ping(ctx); err != nil {
		a.logger.Warn("database ping failed", "error", err)
		report[config.SubsystemDatabase] = false
	}
	return report
}

// Serve runs the query API until ctx is cancelled. With schedule set the
// pipeline also runs on the configured cron expression.
func (a *Application) Serve(ctx context.Context, schedule bool) error {
	server := api.NewServer(a.cfg.API.Addr(), a.cfg.API.CORSOrigins, a.logger)
	api.NewHandlers(api.HandlersDeps{
		Queries: a.queries,
		Health:  a.Health,
		Metrics: metrics.Handler(),
		Version: Version,
		Logger:  a.logger,
	}).Routes(server.Router())

	var sched *usecase.Scheduler
	if schedule {
		driver := scheduler.NewCronScheduler(a.cfg.Scheduler.CronExpression, a.cfg.Scheduler.Location(), a.logger)
		if err := driver.Validate(); err != nil {
			return fmt.Errorf("invalid schedule: %w", err)
		}
		sched = usecase.NewScheduler(driver, a.pipeline, 0, a.logger)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	if sched != nil {
		g.Go(func() error { return sched.Start(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if sched != nil {
			errs = append(errs, sched.Stop(shutdownCtx))
		}
		errs = append(errs, server.Shutdown(shutdownCtx))
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
