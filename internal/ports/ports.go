package ports

import (
	"context"
	"iter"
	"time"

	"ChannelPipeline/internal/domain"
)

// HistoryRequest selects a window of channel history, newest first.
// OffsetID > 0 restricts the sequence to messages older than that id.
type HistoryRequest struct {
	Channel  domain.ChannelTarget
	Limit    int
	OffsetID int64
}

// Session is the provider connection shared by every channel scrape of a run.
type Session interface {
	Connect(ctx context.Context) error
	Disconnect()
	IterateHistory(ctx context.Context, req HistoryRequest) iter.Seq2[domain.ProviderMessage, error]
	DownloadMedia(ctx context.Context, msg domain.ProviderMessage, dest string) (string, error)
}

// ChannelScraper runs one scrape over every configured channel.
type ChannelScraper interface {
	ScrapeAll(ctx context.Context, targets []domain.ChannelTarget) (domain.RunSummary, error)
}

// BatchStore publishes scrape batches as durable artifacts.
type BatchStore interface {
	Write(day time.Time, channel string, messages []domain.RawMessage) (string, error)
	Read(path string) ([]domain.RawMessage, error)
	Discover() ([]string, error)
	Checksum(path string) (string, error)
	MediaPath(channel string, date time.Time, messageID int64, ext string) string
}

// MessageRepository owns writes to the raw message table.
type MessageRepository interface {
	InsertRawMessages(ctx context.Context, messages []domain.RawMessage) (int, error)
	BatchLoaded(ctx context.Context, path, checksum string) (bool, error)
	RecordBatch(ctx context.Context, path, checksum string, total, inserted int) error
	PendingEnrichment(ctx context.Context, reprocess bool, afterID int64, limit int) ([]domain.RawMessage, error)
	PendingImages(ctx context.Context, reprocess bool) ([]domain.PendingImage, error)
}

// EnrichmentRepository owns writes to the derived tables.
type EnrichmentRepository interface {
	UpsertEnrichments(ctx context.Context, records []domain.EnrichedRecord) (int, error)
	UpsertDetections(ctx context.Context, results []domain.DetectionResult) (int, error)
}

// Detector runs object detection over a single image.
type Detector interface {
	Detect(ctx context.Context, imagePath string, confidence float64) ([]domain.Detection, error)
}

// Transformer rebuilds the reporting tables from raw and enriched data.
type Transformer interface {
	Transform(ctx context.Context) error
}

// Notifier streams run summaries to Telegram or other channels.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}

// Scheduler controls when pipelines execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
