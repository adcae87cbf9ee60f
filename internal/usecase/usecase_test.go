package usecase_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ChannelPipeline/internal/config"
	"ChannelPipeline/internal/domain"
	"ChannelPipeline/internal/enrich"
	"ChannelPipeline/internal/infrastructure/batchfile"
	"ChannelPipeline/internal/infrastructure/storage"
	"ChannelPipeline/internal/infrastructure/storage/testdb"
	"ChannelPipeline/internal/logging"
	"ChannelPipeline/internal/usecase"
)

var runDay = time.Date(2025, time.May, 12, 0, 0, 0, 0, time.UTC)

func raw(id int64, channel, text string) domain.RawMessage {
	return domain.RawMessage{
		MessageID:   id,
		ChatID:      7,
		ChatTitle:   channel,
		ChannelName: channel,
		MessageText: domain.StringPtr(text),
		MessageDate: time.Date(2025, time.May, 11, 9, 0, 0, 0, time.UTC),
		ScrapedAt:   runDay,
	}
}

func rawRange(channel string, from, to int64) []domain.RawMessage {
	var out []domain.RawMessage
	for id := from; id <= to; id++ {
		out = append(out, raw(id, channel, "paracetamol available"))
	}
	return out
}

type fixture struct {
	db          storage.Database
	store       *batchfile.Store
	messages    *storage.MessageRepository
	enrichments *storage.EnrichmentRepository
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := testdb.New(t)
	return fixture{
		db:          db,
		store:       batchfile.NewStore(t.TempDir(), t.TempDir()),
		messages:    storage.NewMessageRepository(db),
		enrichments: storage.NewEnrichmentRepository(db),
	}
}

func (f fixture) loader() *usecase.Loader {
	return usecase.NewLoader(usecase.LoaderDeps{Store: f.store, Repository: f.messages, Logger: logging.Discard()})
}

func (f fixture) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Session(context.Background()).Model(model).Count(&n).Error)
	return n
}

func TestLoadRawMessagesCountsOnlyNewRows(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	l := f.loader()
	ctx := context.Background()

	n, err := l.LoadRawMessages(ctx, rawRange("alpha", 1, 3))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = l.LoadRawMessages(ctx, rawRange("alpha", 1, 10))
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	n, err = l.LoadRawMessages(ctx, rawRange("alpha", 1, 10))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLoadAllUsesChecksumLedger(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	l := f.loader()
	ctx := context.Background()

	_, err := f.store.Write(runDay, "alpha", rawRange("alpha", 1, 3))
	require.NoError(t, err)
	_, err = f.store.Write(runDay, "beta", rawRange("beta", 3, 12))
	require.NoError(t, err)

	summary, err := l.LoadAll(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Files)
	assert.Equal(t, 2, summary.Loaded)
	assert.Equal(t, 13, summary.Messages)
	assert.Equal(t, 12, summary.Inserted)
	assert.EqualValues(t, 12, f.count(t, &storage.RawMessageModel{}))

	summary, err = l.LoadAll(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Skipped)
	assert.Zero(t, summary.Loaded)

	summary, err = l.LoadAll(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Loaded)
	assert.Zero(t, summary.Inserted)
}

func TestLoadAllAbandonsBrokenArtifact(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.Write(runDay, "alpha", rawRange("alpha", 1, 2))
	require.NoError(t, err)
	broken := filepath.Join(f.store.RawRoot(), "2025-05-12", "broken", "messages.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(broken), 0o755))
	require.NoError(t, os.WriteFile(broken, []byte(`[{"message_id": "nope"`), 0o644))

	summary, err := f.loader().LoadAll(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Files)
	assert.Equal(t, 1, summary.Loaded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 2, summary.Inserted)
}

type fakeDetector struct {
	mu    sync.Mutex
	calls int
	fail  map[string]error
}

func (d *fakeDetector) Detect(_ context.Context, imagePath string, _ float64) ([]domain.Detection, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	if err := d.fail[filepath.Base(imagePath)]; err != nil {
		return nil, err
	}
	return []domain.Detection{
		{ClassID: 39, ClassName: "bottle", Confidence: 0.9, BBox: []float64{0, 0, 1, 1}},
		{ClassID: 41, ClassName: "cup", Confidence: 0.7, BBox: []float64{1, 1, 2, 2}},
	}, nil
}

func (f fixture) enricher(detector *fakeDetector, pageSize int) *usecase.Enricher {
	deps := usecase.EnricherDeps{
		Messages:    f.messages,
		Enrichments: f.enrichments,
		Analyzer: enrich.NewTextAnalyzer(config.LexiconConfig{
			Keywords:    []string{"paracetamol"},
			Positive:    []string{"available"},
			HighUrgency: []string{"urgent"},
		}),
		Scorer:      enrich.NewRelevanceScorer(map[string]float64{"bottle": 0.8, "cup": 0.6}, 0.5),
		Confidence:  0.5,
		Concurrency: 2,
		PageSize:    pageSize,
		Logger:      logging.Discard(),
	}
	if detector != nil {
		deps.Detector = detector
	}
	return usecase.NewEnricher(deps)
}

func TestEnrichMessagesPagesAndSkipsProcessed(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	_, err := f.messages.InsertRawMessages(ctx, rawRange("alpha", 1, 5))
	require.NoError(t, err)

	e := f.enricher(nil, 2)

	n, err := e.EnrichMessages(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.EqualValues(t, 5, f.count(t, &storage.EnrichedMessageModel{}))

	n, err = e.EnrichMessages(ctx, false)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = e.EnrichMessages(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.EqualValues(t, 5, f.count(t, &storage.EnrichedMessageModel{}))

	var row storage.EnrichedMessageModel
	require.NoError(t, f.db.Session(ctx).Where("raw_message_id = ?", 3).First(&row).Error)
	assert.Equal(t, []string{"paracetamol"}, []string(row.Entities))
	assert.InDelta(t, 0.1, row.Sentiment, 1e-9)
	assert.Equal(t, string(domain.UrgencyNormal), string(row.Urgency))
}

func photo(t *testing.T, id int64, dir string, create bool) domain.RawMessage {
	t.Helper()
	path := filepath.Join(dir, filepath.Base(dir)+"-"+time.Unix(id, 0).UTC().Format("150405")+".jpg")
	if create {
		require.NoError(t, os.WriteFile(path, []byte("img"), 0o644))
	}
	msg := raw(id, "alpha", "photo post")
	msg.HasMedia = true
	msg.MediaType = domain.StringPtr("photo")
	msg.MediaPath = domain.StringPtr(path)
	return msg
}

func TestEnrichImages(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	dir := t.TempDir()

	ok := photo(t, 1, dir, true)
	missing := photo(t, 2, dir, false)
	failing := photo(t, 3, dir, true)
	_, err := f.messages.InsertRawMessages(ctx, []domain.RawMessage{ok, missing, failing, raw(4, "alpha", "no media")})
	require.NoError(t, err)

	detector := &fakeDetector{fail: map[string]error{filepath.Base(*failing.MediaPath): errors.New("model crashed")}}
	e := f.enricher(detector, 0)

	summary, err := e.EnrichImages(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Pending)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Relevant)
	assert.Equal(t, 1, summary.Missing)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 2, detector.calls)

	var row storage.ProcessedImageModel
	require.NoError(t, f.db.Session(ctx).Where("message_id = ?", 1).First(&row).Error)
	assert.Equal(t, 2, row.DetectionCount)
	assert.InDelta(t, (0.8*0.9+0.6*0.7)/2, row.RelevanceScore, 1e-9)
	assert.True(t, row.IsRelevant)

	summary, err = e.EnrichImages(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Pending)
	assert.Zero(t, summary.Processed)
}

type fakeScraper struct {
	summary domain.RunSummary
	err     error
	write   func()
}

func (s *fakeScraper) ScrapeAll(context.Context, []domain.ChannelTarget) (domain.RunSummary, error) {
	if s.write != nil {
		s.write()
	}
	return s.summary, s.err
}

type fakeTransformer struct {
	calls int
	err   error
}

func (t *fakeTransformer) Transform(context.Context) error {
	t.calls++
	return t.err
}

type fakeNotifier struct {
	digests []string
}

func (n *fakeNotifier) PublishDigest(_ context.Context, digest string) error {
	n.digests = append(n.digests, digest)
	return nil
}

func TestPipelineRunsEveryStage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	scraper := &fakeScraper{
		summary: domain.RunSummary{
			RunID: "run-1",
			Batches: []domain.ScrapeBatch{
				{Channel: "alpha", Status: domain.StatusSuccess, MessageCount: 3},
				{Channel: "beta", Status: domain.StatusError, Error: "channel beta inaccessible: private"},
			},
			Successful:    1,
			TotalMessages: 3,
		},
		write: func() {
			_, err := f.store.Write(runDay, "alpha", rawRange("alpha", 1, 3))
			require.NoError(t, err)
		},
	}
	transformer := &fakeTransformer{err: errors.New("dbt exploded")}
	notifier := &fakeNotifier{}

	p := usecase.NewPipeline(usecase.PipelineDeps{
		Scraper:     scraper,
		Loader:      f.loader(),
		Enricher:    f.enricher(&fakeDetector{}, 0),
		Transformer: transformer,
		Notifier:    notifier,
		Logger:      logging.Discard(),
	})

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Load.Inserted)
	assert.Equal(t, 3, report.Enriched)
	assert.Equal(t, 1, transformer.calls)
	require.Error(t, report.Err())
	assert.Contains(t, report.Err().Error(), "transform: dbt exploded")

	var names []string
	for _, s := range report.Stages {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{
		usecase.StageScrape, usecase.StageLoad, usecase.StageEnrich,
		usecase.StageImages, usecase.StageTransform, usecase.StageNotify,
	}, names)

	require.Len(t, notifier.digests, 1)
	assert.Contains(t, notifier.digests[0], "- alpha: success (3 messages)")
	assert.Contains(t, notifier.digests[0], "- beta: error (0 messages) channel beta inaccessible: private")
	assert.Contains(t, notifier.digests[0], "transform: 0 failed: dbt exploded")
}

func TestPipelineAbortsWhenSourceUnreachable(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	scraper := &fakeScraper{summary: domain.RunSummary{Batches: []domain.ScrapeBatch{
		{Channel: "alpha", Status: domain.StatusError, Error: "connection failed: refused", Unreachable: true},
		{Channel: "beta", Status: domain.StatusError, Error: "connection failed: refused", Unreachable: true},
	}}}
	transformer := &fakeTransformer{}
	notifier := &fakeNotifier{}

	p := usecase.NewPipeline(usecase.PipelineDeps{
		Scraper:     scraper,
		Loader:      f.loader(),
		Transformer: transformer,
		Notifier:    notifier,
		Logger:      logging.Discard(),
	})

	report, err := p.Run(context.Background())
	require.ErrorIs(t, err, usecase.ErrSourceUnreachable)
	assert.Len(t, report.Stages, 1)
	assert.Zero(t, transformer.calls)
	assert.Empty(t, notifier.digests)
}

func TestPipelineAbortsOnScrapeError(t *testing.T) {
	t.Parallel()

	scraper := &fakeScraper{err: batchfile.ErrLocked}
	transformer := &fakeTransformer{}
	p := usecase.NewPipeline(usecase.PipelineDeps{Scraper: scraper, Transformer: transformer, Logger: logging.Discard()})

	_, err := p.Run(context.Background())
	require.ErrorIs(t, err, batchfile.ErrLocked)
	assert.Zero(t, transformer.calls)
}

type manualDriver struct {
	job func(time.Time)
}

func (d *manualDriver) Start(_ context.Context, job func(time.Time)) error {
	d.job = job
	return nil
}

func (d *manualDriver) Stop(context.Context) error { return nil }

func TestSchedulerRunsPipelineOnTrigger(t *testing.T) {
	t.Parallel()

	transformer := &fakeTransformer{}
	p := usecase.NewPipeline(usecase.PipelineDeps{Transformer: transformer, Logger: logging.Discard()})
	driver := &manualDriver{}
	s := usecase.NewScheduler(driver, p, time.Minute, logging.Discard())

	require.NoError(t, s.Start(context.Background()))
	require.NotNil(t, driver.job)
	driver.job(runDay)
	driver.job(runDay)

	assert.Equal(t, 2, transformer.calls)
	assert.NoError(t, s.Stop(context.Background()))
}
