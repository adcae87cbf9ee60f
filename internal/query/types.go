package query

import "time"

// Channel summarises one channel of the fact table.
type Channel struct {
	ChannelName  string `json:"channel_name"`
	ChatTitle    string `json:"chat_title"`
	ChannelID    *uint  `json:"channel_id,omitempty"`
	MessageCount int64  `json:"message_count"`
	ImageCount   int64  `json:"image_count"`
}

// Message is one fact row joined with its text enrichment.
type Message struct {
	MessageID       int64     `json:"message_id"`
	ChannelID       *uint     `json:"channel_id,omitempty"`
	DateID          *string   `json:"date_id,omitempty"`
	ChatID          int64     `json:"chat_id"`
	ChatTitle       string    `json:"chat_title"`
	ChannelName     string    `json:"channel_name"`
	SenderID        *int64    `json:"sender_id,omitempty"`
	SenderUsername  *string   `json:"sender_username,omitempty"`
	SenderFirstName *string   `json:"sender_first_name,omitempty"`
	SenderLastName  *string   `json:"sender_last_name,omitempty"`
	MessageText     *string   `json:"message_text,omitempty"`
	MessageDate     time.Time `json:"message_date"`
	HasMedia        bool      `json:"has_media"`
	HasImage        bool      `json:"has_image"`
	MediaType       *string   `json:"media_type,omitempty"`
	MediaPath       *string   `json:"media_path,omitempty"`
	ReplyToMsgID    *int64    `json:"reply_to_msg_id,omitempty"`
	ForwardFrom     *string   `json:"forward_from,omitempty"`
	ScrapedAt       time.Time `json:"scraped_at"`
	Entities        []string  `json:"entities,omitempty"`
	Sentiment       *float64  `json:"sentiment,omitempty"`
	Urgency         *string   `json:"urgency,omitempty"`
}

// MessageFilter narrows ListMessages.
type MessageFilter struct {
	Channel  string
	HasImage *bool
	Offset   int
	Limit    int
}

// Period buckets channel activity.
type Period string

const (
	Daily   Period = "daily"
	Weekly  Period = "weekly"
	Monthly Period = "monthly"
)

// ActivityPoint is one period bucket of a channel's activity.
type ActivityPoint struct {
	ChannelName      string  `json:"channel_name"`
	Date             string  `json:"date"`
	MessageCount     int64   `json:"message_count"`
	ImageCount       int64   `json:"image_count"`
	AverageSentiment float64 `json:"average_sentiment"`
}

// SearchResult is one scored search hit.
type SearchResult struct {
	MessageID      int64     `json:"message_id"`
	MessageText    string    `json:"message_text"`
	SenderUsername *string   `json:"sender_username,omitempty"`
	ChannelName    string    `json:"channel_name"`
	ChatTitle      string    `json:"chat_title"`
	MessageDate    time.Time `json:"message_date"`
	RelevanceScore float64   `json:"relevance_score"`
}

// SearchResponse wraps the ranked hits of a query.
type SearchResponse struct {
	Query      string         `json:"query"`
	Results    []SearchResult `json:"results"`
	TotalCount int            `json:"total_count"`
	Limit      int            `json:"limit"`
}

// ChannelCount pairs a channel with its message total.
type ChannelCount struct {
	ChannelName  string `json:"channel_name"`
	MessageCount int64  `json:"message_count"`
}

// EntityCount pairs an extracted keyword with how many messages mention it.
type EntityCount struct {
	Entity string `json:"entity"`
	Count  int64  `json:"count"`
}

// ImageStats counts processed and relevant images.
type ImageStats struct {
	Processed int64 `json:"processed"`
	Relevant  int64 `json:"relevant"`
}

// Statistics aggregates the whole warehouse.
type Statistics struct {
	TotalMessages       int64            `json:"total_messages"`
	TotalChannels       int64            `json:"total_channels"`
	TotalImages         int64            `json:"total_images"`
	EnrichedMessages    int64            `json:"enriched_messages"`
	AverageSentiment    float64          `json:"average_sentiment"`
	TopChannels         []ChannelCount   `json:"top_channels"`
	UrgencyDistribution map[string]int64 `json:"urgency_distribution"`
	SentimentHistogram  map[string]int64 `json:"sentiment_histogram"`
	TopEntities         []EntityCount    `json:"top_entities"`
	Images              ImageStats       `json:"images"`
}

// ProductMention reports how often a product group is mentioned.
type ProductMention struct {
	ProductName   string     `json:"product_name"`
	MentionCount  int64      `json:"mention_count"`
	Channels      []string   `json:"channels"`
	LastMentioned *time.Time `json:"last_mentioned,omitempty"`
}
