package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ChannelPipeline/internal/domain"
	"ChannelPipeline/internal/enrich"
	"ChannelPipeline/internal/metrics"
	"ChannelPipeline/internal/ports"
)

const (
	defaultPageSize    = 500
	defaultConcurrency = 4
)

// EnricherDeps wires the enrichment stage.
type EnricherDeps struct {
	Messages    ports.MessageRepository
	Enrichments ports.EnrichmentRepository
	Analyzer    *enrich.TextAnalyzer
	Scorer      *enrich.RelevanceScorer
	Detector    ports.Detector
	Confidence  float64
	Concurrency int
	PageSize    int
	Logger      *slog.Logger
	Now         func() time.Time
}

// Enricher derives text and image attributes for stored messages.
type Enricher struct {
	messages    ports.MessageRepository
	enrichments ports.EnrichmentRepository
	analyzer    *enrich.TextAnalyzer
	scorer      *enrich.RelevanceScorer
	detector    ports.Detector
	confidence  float64
	concurrency int
	pageSize    int
	logger      *slog.Logger
	now         func() time.Time
}

// ImageSummary counts the outcome of one image pass.
type ImageSummary struct {
	Pending   int
	Processed int
	Relevant  int
	Missing   int
	Failed    int
}

// NewEnricher constructs the stage. A nil Detector disables image enrichment.
func NewEnricher(deps EnricherDeps) *Enricher {
	e := &Enricher{
		messages:    deps.Messages,
		enrichments: deps.Enrichments,
		analyzer:    deps.Analyzer,
		scorer:      deps.Scorer,
		detector:    deps.Detector,
		confidence:  deps.Confidence,
		concurrency: deps.Concurrency,
		pageSize:    deps.PageSize,
		logger:      deps.Logger,
		now:         deps.Now,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("component", "enricher")
	if e.now == nil {
		e.now = time.Now
	}
	if e.pageSize <= 0 {
		e.pageSize = defaultPageSize
	}
	if e.concurrency <= 0 {
		e.concurrency = defaultConcurrency
	}
	return e
}

// EnrichMessages analyses text of messages without an enrichment row, or of
// every message when reprocess is set, and stores the results page by page.
func (e *Enricher) EnrichMessages(ctx context.Context, reprocess bool) (int, error) {
	if e.analyzer == nil {
		return 0, nil
	}

	var (
		afterID int64
		written int
	)
	for {
		page, err := e.messages.PendingEnrichment(ctx, reprocess, afterID, e.pageSize)
		if err != nil {
			return written, err
		}
		if len(page) == 0 {
			break
		}

		now := e.now()
		records := make([]domain.EnrichedRecord, 0, len(page))
		for _, msg := range page {
			records = append(records, e.analyzer.Analyze(msg, now))
		}

		n, err := e.enrichments.UpsertEnrichments(ctx, records)
		if err != nil {
			return written, err
		}
		written += n
		afterID = page[len(page)-1].MessageID

		if len(page) < e.pageSize {
			break
		}
	}

	metrics.EnrichedRecords.WithLabelValues("text").Add(float64(written))
	e.logger.Info("text enrichment finished", "records", written, "reprocess", reprocess)
	return written, nil
}

// EnrichImages runs the detector over pending photos with bounded
// concurrency. Missing files are skipped and detector failures are logged;
// neither produces a row.
func (e *Enricher) EnrichImages(ctx context.Context, reprocess bool) (ImageSummary, error) {
	var summary ImageSummary
	if e.detector == nil || e.scorer == nil {
		return summary, nil
	}

	pending, err := e.messages.PendingImages(ctx, reprocess)
	if err != nil {
		return summary, err
	}
	summary.Pending = len(pending)
	if len(pending) == 0 {
		return summary, nil
	}

	var (
		mu      sync.Mutex
		results []domain.DetectionResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, img := range pending {
		g.Go(func() error {
			if _, err := os.Stat(img.Path); err != nil {
				mu.Lock()
				summary.Missing++
				mu.Unlock()
				e.logger.Warn("image missing", "message_id", img.MessageID, "path", img.Path)
				return nil
			}

			detections, err := e.detector.Detect(gctx, img.Path, e.confidence)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				mu.Lock()
				summary.Failed++
				mu.Unlock()
				e.logger.Error("detect objects", "message_id", img.MessageID, "error", err)
				return nil
			}

			result := e.scorer.Result(img, detections, e.now())
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, fmt.Errorf("enrich images: %w", err)
	}

	if len(results) > 0 {
		n, err := e.enrichments.UpsertDetections(ctx, results)
		if err != nil {
			return summary, err
		}
		summary.Processed = n
	}
	for _, r := range results {
		if r.IsRelevant {
			summary.Relevant++
		}
	}

	metrics.EnrichedRecords.WithLabelValues("image").Add(float64(summary.Processed))
	e.logger.Info("image enrichment finished",
		"pending", summary.Pending,
		"processed", summary.Processed,
		"relevant", summary.Relevant,
		"missing", summary.Missing,
		"failed", summary.Failed,
	)
	return summary, nil
}
