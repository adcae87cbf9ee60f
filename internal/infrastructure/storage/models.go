package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"ChannelPipeline/internal/domain"
)

// RawMessageModel is one row of telegram_messages.
type RawMessageModel struct {
	ID              uint           `gorm:"primaryKey"`
	MessageID       int64          `gorm:"uniqueIndex;not null"`
	ChatID          int64          `gorm:"index"`
	ChatTitle       string         `gorm:"size:500"`
	ChannelName     string         `gorm:"size:100;index;not null"`
	SenderID        *int64         `gorm:"index"`
	SenderUsername  *string        `gorm:"size:100"`
	SenderFirstName *string        `gorm:"size:100"`
	SenderLastName  *string        `gorm:"size:100"`
	MessageText     *string        `gorm:"type:text"`
	MessageDate     time.Time      `gorm:"index;not null"`
	HasMedia        bool           `gorm:"not null;default:false"`
	MediaType       *string        `gorm:"size:100"`
	MediaPath       *string        `gorm:"size:500"`
	ReplyToMsgID    *int64         `gorm:"column:reply_to_msg_id"`
	ForwardFrom     *string        `gorm:"size:500"`
	ScrapedAt       time.Time      `gorm:"not null"`
	RawData         datatypes.JSON `gorm:"column:raw_data"`
	CreatedAt       time.Time
}

func (RawMessageModel) TableName() string { return "telegram_messages" }

// EnrichedMessageModel is one row of enriched_messages.
type EnrichedMessageModel struct {
	ID           uint                        `gorm:"primaryKey"`
	RawMessageID int64                       `gorm:"uniqueIndex;not null"`
	Entities     datatypes.JSONSlice[string] `gorm:"not null"`
	Sentiment    float64                     `gorm:"not null;default:0"`
	Urgency      string                      `gorm:"size:10;not null"`
	ProcessedAt  time.Time                   `gorm:"not null"`
}

func (EnrichedMessageModel) TableName() string { return "enriched_messages" }

// ProcessedImageModel is one row of processed_images.
type ProcessedImageModel struct {
	ID               uint                                   `gorm:"primaryKey"`
	MessageID        int64                                  `gorm:"uniqueIndex;not null"`
	ImagePath        string                                 `gorm:"size:500"`
	Detections       datatypes.JSONSlice[domain.Detection]  `gorm:"not null"`
	ConfidenceScores datatypes.JSONType[map[string]float64] `gorm:"not null"`
	DetectionCount   int                                    `gorm:"not null;default:0"`
	RelevanceScore   float64                                `gorm:"not null;default:0"`
	IsRelevant       bool                                   `gorm:"not null;default:false"`
	ProcessedAt      time.Time                              `gorm:"not null"`
}

func (ProcessedImageModel) TableName() string { return "processed_images" }

// IngestedBatchModel records which artifacts the loader has consumed.
type IngestedBatchModel struct {
	ID       uint      `gorm:"primaryKey"`
	Path     string    `gorm:"size:1000;uniqueIndex;not null"`
	Checksum string    `gorm:"size:64;not null"`
	Messages int       `gorm:"not null"`
	Inserted int       `gorm:"not null"`
	LoadedAt time.Time `gorm:"not null"`
}

func (IngestedBatchModel) TableName() string { return "ingested_batches" }

// DimChannelModel is the channel dimension.
type DimChannelModel struct {
	ChannelID   uint   `gorm:"column:channel_id;primaryKey"`
	ChannelName string `gorm:"size:100;uniqueIndex;not null"`
	ChatID      int64
	ChatTitle   string `gorm:"size:500"`
	CreatedAt   time.Time
}

func (DimChannelModel) TableName() string { return "dim_channels" }

// DimDateModel is the calendar dimension keyed by YYYY-MM-DD.
type DimDateModel struct {
	DateID    string `gorm:"column:date_id;primaryKey;size:10"`
	Year      int
	Month     int
	Day       int
	DayOfWeek int
	DayOfYear int
	MonthName string `gorm:"size:20"`
	DayName   string `gorm:"size:20"`
	IsWeekend bool
	Season    string `gorm:"size:10"`
}

func (DimDateModel) TableName() string { return "dim_dates" }

// FctMessageModel is the message fact table.
type FctMessageModel struct {
	MessageID       int64     `gorm:"primaryKey;autoIncrement:false"`
	RawID           uint      `gorm:"index"`
	ChannelID       *uint     `gorm:"index"`
	DateID          *string   `gorm:"size:10;index"`
	ChatID          int64     `gorm:"index"`
	ChatTitle       string    `gorm:"size:500"`
	ChannelName     string    `gorm:"size:100;index"`
	SenderID        *int64    `gorm:"index"`
	SenderUsername  *string   `gorm:"size:100"`
	SenderFirstName *string   `gorm:"size:100"`
	SenderLastName  *string   `gorm:"size:100"`
	MessageText     *string   `gorm:"type:text"`
	MessageDate     time.Time `gorm:"index"`
	HasMedia        bool      `gorm:"not null;default:false"`
	HasImage        bool      `gorm:"not null;default:false"`
	MediaType       *string   `gorm:"size:100"`
	MediaPath       *string   `gorm:"size:500"`
	ReplyToMsgID    *int64    `gorm:"column:reply_to_msg_id"`
	ForwardFrom     *string   `gorm:"size:500"`
	ScrapedAt       time.Time `gorm:"not null"`
}

func (FctMessageModel) TableName() string { return "fct_messages" }

// Migrate creates or updates every table.
func Migrate(db Database) error {
	err := db.db.AutoMigrate(
		&RawMessageModel{},
		&EnrichedMessageModel{},
		&ProcessedImageModel{},
		&IngestedBatchModel{},
		&DimChannelModel{},
		&DimDateModel{},
		&FctMessageModel{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func toRawModel(m domain.RawMessage) (RawMessageModel, error) {
	var raw datatypes.JSON
	if len(m.RawData) > 0 {
		encoded, err := json.Marshal(m.RawData)
		if err != nil {
			return RawMessageModel{}, fmt.Errorf("encode raw data of message %d: %w", m.MessageID, err)
		}
		raw = datatypes.JSON(encoded)
	}

	return RawMessageModel{
		MessageID:       m.MessageID,
		ChatID:          m.ChatID,
		ChatTitle:       m.ChatTitle,
		ChannelName:     m.ChannelName,
		SenderID:        m.SenderID,
		SenderUsername:  m.SenderUsername,
		SenderFirstName: m.SenderFirstName,
		SenderLastName:  m.SenderLastName,
		MessageText:     m.MessageText,
		MessageDate:     m.MessageDate.UTC(),
		HasMedia:        m.HasMedia,
		MediaType:       m.MediaType,
		MediaPath:       m.MediaPath,
		ReplyToMsgID:    m.ReplyToMsgID,
		ForwardFrom:     m.ForwardFrom,
		ScrapedAt:       m.ScrapedAt.UTC(),
		RawData:         raw,
	}, nil
}

func fromRawModel(row RawMessageModel) domain.RawMessage {
	msg := domain.RawMessage{
		MessageID:       row.MessageID,
		ChatID:          row.ChatID,
		ChatTitle:       row.ChatTitle,
		ChannelName:     row.ChannelName,
		SenderID:        row.SenderID,
		SenderUsername:  row.SenderUsername,
		SenderFirstName: row.SenderFirstName,
		SenderLastName:  row.SenderLastName,
		MessageText:     row.MessageText,
		MessageDate:     row.MessageDate,
		HasMedia:        row.HasMedia,
		MediaType:       row.MediaType,
		MediaPath:       row.MediaPath,
		ReplyToMsgID:    row.ReplyToMsgID,
		ForwardFrom:     row.ForwardFrom,
		ScrapedAt:       row.ScrapedAt,
	}
	if len(row.RawData) > 0 {
		_ = json.Unmarshal(row.RawData, &msg.RawData)
	}
	return msg
}

func toEnrichedModel(r domain.EnrichedRecord) EnrichedMessageModel {
	entities := r.Entities
	if entities == nil {
		entities = []string{}
	}
	return EnrichedMessageModel{
		RawMessageID: r.RawMessageID,
		Entities:     datatypes.NewJSONSlice(entities),
		Sentiment:    r.Sentiment,
		Urgency:      string(r.Urgency),
		ProcessedAt:  r.ProcessedAt.UTC(),
	}
}

func toProcessedImageModel(r domain.DetectionResult) ProcessedImageModel {
	detections := r.Detections
	if detections == nil {
		detections = []domain.Detection{}
	}
	confidence := r.AverageConfidence
	if confidence == nil {
		confidence = map[string]float64{}
	}
	return ProcessedImageModel{
		MessageID:        r.MessageID,
		ImagePath:        r.ImagePath,
		Detections:       datatypes.NewJSONSlice(detections),
		ConfidenceScores: datatypes.NewJSONType(confidence),
		DetectionCount:   len(detections),
		RelevanceScore:   r.RelevanceScore,
		IsRelevant:       r.IsRelevant,
		ProcessedAt:      r.ProcessedAt.UTC(),
	}
}
