package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"ChannelPipeline/internal/domain"
	"ChannelPipeline/internal/ports"
)

var rawMessageConflict = Conflict{Keys: []string{"message_id"}, Policy: SkipExisting}

// MessageRepository persists raw messages and the artifact ledger.
type MessageRepository struct {
	db Database
}

var _ ports.MessageRepository = (*MessageRepository)(nil)

// NewMessageRepository wires a Database implementation.
func NewMessageRepository(db Database) *MessageRepository {
	return &MessageRepository{db: db}
}

// InsertRawMessages inserts the batch in one transaction, skipping ids that
// already exist. The count excludes skipped rows; any other failure rolls
// back the whole batch.
func (r *MessageRepository) InsertRawMessages(ctx context.Context, messages []domain.RawMessage) (int, error) {
	if len(messages) == 0 {
		return 0, nil
	}

	rows := make([]RawMessageModel, 0, len(messages))
	for _, msg := range messages {
		row, err := toRawModel(msg)
		if err != nil {
			return 0, err
		}
		rows = append(rows, row)
	}

	inserted, err := WithTransactionResult(ctx, r.db, func(tx *gorm.DB) (int, error) {
		return Upsert(tx, rows, rawMessageConflict)
	})
	if err != nil {
		return 0, fmt.Errorf("insert raw messages: %w", err)
	}
	return inserted, nil
}

// BatchLoaded reports whether the artifact at path was loaded with the same checksum.
func (r *MessageRepository) BatchLoaded(ctx context.Context, path, checksum string) (bool, error) {
	var count int64
	err := r.db.Session(ctx).
		Model(&IngestedBatchModel{}).
		Where("path = ? AND checksum = ?", path, checksum).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("query ingested batch: %w", err)
	}
	return count > 0, nil
}

// RecordBatch stores the latest load outcome of an artifact.
func (r *MessageRepository) RecordBatch(ctx context.Context, path, checksum string, total, inserted int) error {
	row := []IngestedBatchModel{{
		Path:     path,
		Checksum: checksum,
		Messages: total,
		Inserted: inserted,
		LoadedAt: time.Now().UTC(),
	}}
	_, err := Upsert(r.db.Session(ctx), row, Conflict{
		Keys:    []string{"path"},
		Policy:  ReplaceExisting,
		Replace: []string{"checksum", "messages", "inserted", "loaded_at"},
	})
	if err != nil {
		return fmt.Errorf("record batch %s: %w", path, err)
	}
	return nil
}

// PendingEnrichment pages through text-bearing messages ordered by id.
// Unless reprocess is set, messages that already have an enrichment row are excluded.
func (r *MessageRepository) PendingEnrichment(ctx context.Context, reprocess bool, afterID int64, limit int) ([]domain.RawMessage, error) {
	query := r.db.Session(ctx).
		Table("telegram_messages AS m").
		Select("m.*").
		Where("m.message_id > ?", afterID).
		Where("m.message_text IS NOT NULL").
		Order("m.message_id").
		Limit(limit)
	if !reprocess {
		query = query.
			Joins("LEFT JOIN enriched_messages e ON e.raw_message_id = m.message_id").
			Where("e.id IS NULL")
	}

	var rows []RawMessageModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query pending enrichment: %w", err)
	}

	out := make([]domain.RawMessage, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRawModel(row))
	}
	return out, nil
}

// PendingImages lists downloaded photos without a detection row.
func (r *MessageRepository) PendingImages(ctx context.Context, reprocess bool) ([]domain.PendingImage, error) {
	query := r.db.Session(ctx).
		Table("telegram_messages AS m").
		Select("m.message_id AS message_id, m.media_path AS path").
		Where("m.media_path IS NOT NULL").
		Where("m.media_type = ?", "photo").
		Order("m.message_id")
	if !reprocess {
		query = query.
			Joins("LEFT JOIN processed_images p ON p.message_id = m.message_id").
			Where("p.id IS NULL")
	}

	var rows []struct {
		MessageID int64
		Path      string
	}
	if err := query.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("query pending images: %w", err)
	}

	out := make([]domain.PendingImage, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.PendingImage{MessageID: row.MessageID, Path: row.Path})
	}
	return out, nil
}
