package domain

import "time"

// UrgencyLevel classifies how pressing a message reads.
type UrgencyLevel string

const (
	UrgencyNormal UrgencyLevel = "normal"
	UrgencyMedium UrgencyLevel = "medium"
	UrgencyHigh   UrgencyLevel = "high"
)

// EnrichedRecord holds text-derived fields keyed by raw message id.
type EnrichedRecord struct {
	RawMessageID int64
	Entities     []string
	Sentiment    float64
	Urgency      UrgencyLevel
	ProcessedAt  time.Time
}

// Detection is one object found in an image.
type Detection struct {
	ClassID    int       `json:"class_id"`
	ClassName  string    `json:"class_name"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox"`
}

// DetectionResult is the per-image detector output keyed by message id.
type DetectionResult struct {
	MessageID         int64
	ImagePath         string
	Detections        []Detection
	AverageConfidence map[string]float64
	RelevanceScore    float64
	IsRelevant        bool
	ProcessedAt       time.Time
}

// PendingImage is a stored message whose media has not been analysed yet.
type PendingImage struct {
	MessageID int64
	Path      string
}
