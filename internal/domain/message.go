package domain

import (
	"strings"
	"time"
)

// ChannelTarget names a public channel to pull history from.
type ChannelTarget struct {
	Name string
	URL  string
}

// Username returns the bare channel handle, derived from URL when set.
func (c ChannelTarget) Username() string {
	raw := strings.TrimSpace(c.URL)
	if raw == "" {
		raw = strings.TrimSpace(c.Name)
	}
	raw = strings.TrimSuffix(raw, "/")
	if idx := strings.LastIndex(raw, "/"); idx >= 0 {
		raw = raw[idx+1:]
	}
	return strings.TrimPrefix(raw, "@")
}

// ProviderMessage is the provider-side view of one history entry. Sender,
// ForwardFrom and Media carry whatever the provider returns and must be
// reduced before they reach an artifact.
type ProviderMessage struct {
	ID           int64
	ChatID       int64
	ChatTitle    string
	Text         string
	Date         time.Time
	Sender       any
	ForwardFrom  any
	ReplyToMsgID *int64
	Media        any
	MediaType    string
	MediaURL     string
	Extra        map[string]any
}

// HasText reports whether the message carries non-blank text.
func (m ProviderMessage) HasText() bool {
	return strings.TrimSpace(m.Text) != ""
}

// HasMedia reports whether the provider attached any media to the message.
func (m ProviderMessage) HasMedia() bool {
	return m.Media != nil || m.MediaType != "" || m.MediaURL != ""
}

// RawMessage is the canonical record written into batch artifacts and the raw table.
type RawMessage struct {
	MessageID       int64          `json:"message_id"`
	ChatID          int64          `json:"chat_id"`
	ChatTitle       string         `json:"chat_title"`
	ChannelName     string         `json:"channel_name"`
	SenderID        *int64         `json:"sender_id"`
	SenderUsername  *string        `json:"sender_username"`
	SenderFirstName *string        `json:"sender_first_name"`
	SenderLastName  *string        `json:"sender_last_name"`
	MessageText     *string        `json:"message_text"`
	MessageDate     time.Time      `json:"message_date"`
	HasMedia        bool           `json:"has_media"`
	MediaType       *string        `json:"media_type"`
	MediaPath       *string        `json:"media_path"`
	ReplyToMsgID    *int64         `json:"reply_to_msg_id"`
	ForwardFrom     *string        `json:"forward_from"`
	ScrapedAt       time.Time      `json:"scraped_at"`
	RawData         map[string]any `json:"raw_data,omitempty"`
}

// Text returns the message text or an empty string.
func (m RawMessage) Text() string {
	if m.MessageText == nil {
		return ""
	}
	return *m.MessageText
}

// MediaAsset is a downloaded attachment keyed by message id.
type MediaAsset struct {
	MessageID int64
	Channel   string
	Path      string
	MediaType string
}

// StringPtr returns nil for an empty string.
func StringPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
