package storage

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"ChannelPipeline/internal/domain"
	"ChannelPipeline/internal/ports"
)

var (
	enrichmentConflict = Conflict{
		Keys:    []string{"raw_message_id"},
		Policy:  ReplaceExisting,
		Replace: []string{"entities", "sentiment", "urgency", "processed_at"},
	}
	detectionConflict = Conflict{
		Keys:    []string{"message_id"},
		Policy:  ReplaceExisting,
		Replace: []string{"image_path", "detections", "confidence_scores", "detection_count", "relevance_score", "is_relevant", "processed_at"},
	}
)

// EnrichmentRepository writes derived rows, replacing earlier results for the same key.
type EnrichmentRepository struct {
	db Database
}

var _ ports.EnrichmentRepository = (*EnrichmentRepository)(nil)

// NewEnrichmentRepository wires a Database implementation.
func NewEnrichmentRepository(db Database) *EnrichmentRepository {
	return &EnrichmentRepository{db: db}
}

// UpsertEnrichments replaces derived text fields keyed by raw message id.
func (r *EnrichmentRepository) UpsertEnrichments(ctx context.Context, records []domain.EnrichedRecord) (int, error) {
	rows := make([]EnrichedMessageModel, 0, len(records))
	for _, rec := range records {
		rows = append(rows, toEnrichedModel(rec))
	}

	written, err := WithTransactionResult(ctx, r.db, func(tx *gorm.DB) (int, error) {
		return Upsert(tx, rows, enrichmentConflict)
	})
	if err != nil {
		return 0, fmt.Errorf("upsert enrichments: %w", err)
	}
	return written, nil
}

// UpsertDetections replaces image detections keyed by message id.
func (r *EnrichmentRepository) UpsertDetections(ctx context.Context, results []domain.DetectionResult) (int, error) {
	rows := make([]ProcessedImageModel, 0, len(results))
	for _, res := range results {
		rows = append(rows, toProcessedImageModel(res))
	}

	written, err := WithTransactionResult(ctx, r.db, func(tx *gorm.DB) (int, error) {
		return Upsert(tx, rows, detectionConflict)
	})
	if err != nil {
		return 0, fmt.Errorf("upsert detections: %w", err)
	}
	return written, nil
}
