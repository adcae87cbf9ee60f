// Package query serves read-only aggregations over the reporting tables.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"ChannelPipeline/internal/config"
	"ChannelPipeline/internal/infrastructure/storage"
)

var (
	// ErrNotFound marks a missing channel or message.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument marks a request the caller must fix.
	ErrInvalidArgument = errors.New("invalid argument")
)

const (
	defaultPageSize     = 100
	maxPageSize         = 1000
	defaultActivityDays = 30
	maxActivityPeriods  = 365
	defaultSearchLimit  = 50
	maxSearchLimit      = 100
	searchCandidates    = 5000
	defaultTopProducts  = 10
	topListSize         = 10
)

const messageColumns = `f.message_id, f.channel_id, f.date_id, f.chat_id, f.chat_title, f.channel_name,
f.sender_id, f.sender_username, f.sender_first_name, f.sender_last_name,
f.message_text, f.message_date, f.has_media, f.has_image, f.media_type, f.media_path,
f.reply_to_msg_id, f.forward_from, f.scraped_at,
e.entities AS entities, e.sentiment AS sentiment, e.urgency AS urgency`

// Service answers the API queries.
type Service struct {
	db       storage.Database
	products []config.ProductConfig
	logger   *slog.Logger
}

// NewService wires the query layer.
func NewService(db storage.Database, products []config.ProductConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, products: products, logger: logger.With("component", "query")}
}

func (s *Service) scan(ctx context.Context, b sq.Sqlizer, dest any) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if err := s.db.Session(ctx).Raw(query, args...).Scan(dest).Error; err != nil {
		return fmt.Errorf("run query: %w", err)
	}
	return nil
}

// ListChannels pages through channels ordered by message volume.
func (s *Service) ListChannels(ctx context.Context, offset, limit int) ([]Channel, error) {
	limit, err := pageSize(offset, limit)
	if err != nil {
		return nil, err
	}

	b := sq.Select(
		"f.channel_name AS channel_name",
		"MIN(f.chat_title) AS chat_title",
		"MIN(f.channel_id) AS channel_id",
		"COUNT(*) AS message_count",
		"SUM(CASE WHEN f.has_image = TRUE THEN 1 ELSE 0 END) AS image_count",
	).
		From("fct_messages f").
		GroupBy("f.channel_name").
		OrderBy("message_count DESC", "channel_name").
		Offset(uint64(offset)).
		Limit(uint64(limit))

	channels := make([]Channel, 0)
	if err := s.scan(ctx, b, &channels); err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	return channels, nil
}

type messageRow struct {
	MessageID       int64
	ChannelID       *uint
	DateID          *string
	ChatID          int64
	ChatTitle       string
	ChannelName     string
	SenderID        *int64
	SenderUsername  *string
	SenderFirstName *string
	SenderLastName  *string
	MessageText     *string
	MessageDate     time.Time
	HasMedia        bool
	HasImage        bool
	MediaType       *string
	MediaPath       *string
	ReplyToMsgID    *int64
	ForwardFrom     *string
	ScrapedAt       time.Time
	Entities        *string
	Sentiment       *float64
	Urgency         *string
}

func (r messageRow) toMessage() Message {
	m := Message{
		MessageID:       r.MessageID,
		ChannelID:       r.ChannelID,
		DateID:          r.DateID,
		ChatID:          r.ChatID,
		ChatTitle:       r.ChatTitle,
		ChannelName:     r.ChannelName,
		SenderID:        r.SenderID,
		SenderUsername:  r.SenderUsername,
		SenderFirstName: r.SenderFirstName,
		SenderLastName:  r.SenderLastName,
		MessageText:     r.MessageText,
		MessageDate:     r.MessageDate.UTC(),
		HasMedia:        r.HasMedia,
		HasImage:        r.HasImage,
		MediaType:       r.MediaType,
		MediaPath:       r.MediaPath,
		ReplyToMsgID:    r.ReplyToMsgID,
		ForwardFrom:     r.ForwardFrom,
		ScrapedAt:       r.ScrapedAt.UTC(),
		Sentiment:       r.Sentiment,
		Urgency:         r.Urgency,
	}
	m.Entities = decodeEntities(r.Entities)
	return m
}

func decodeEntities(raw *string) []string {
	if raw == nil || *raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(*raw), &out); err != nil {
		return nil
	}
	return out
}

func messagesQuery() sq.SelectBuilder {
	return sq.Select(messageColumns).
		From("fct_messages f").
		LeftJoin("enriched_messages e ON e.raw_message_id = f.message_id")
}

// ListMessages pages through messages, newest first.
func (s *Service) ListMessages(ctx context.Context, filter MessageFilter) ([]Message, error) {
	limit, err := pageSize(filter.Offset, filter.Limit)
	if err != nil {
		return nil, err
	}

	b := messagesQuery().
		OrderBy("f.message_date DESC", "f.message_id DESC").
		Offset(uint64(filter.Offset)).
		Limit(uint64(limit))
	if filter.Channel != "" {
		b = b.Where(sq.Eq{"f.channel_name": strings.TrimPrefix(filter.Channel, "@")})
	}
	if filter.HasImage != nil {
		b = b.Where(boolExpr("f.has_image", *filter.HasImage))
	}

	var rows []messageRow
	if err := s.scan(ctx, b, &rows); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	out := make([]Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toMessage())
	}
	return out, nil
}

// GetMessage returns one message by its provider id.
func (s *Service) GetMessage(ctx context.Context, id int64) (Message, error) {
	b := messagesQuery().Where(sq.Eq{"f.message_id": id}).Limit(1)

	var rows []messageRow
	if err := s.scan(ctx, b, &rows); err != nil {
		return Message{}, fmt.Errorf("get message %d: %w", id, err)
	}
	if len(rows) == 0 {
		return Message{}, fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	return rows[0].toMessage(), nil
}

// ChannelActivity buckets a channel's messages by period, newest bucket first.
func (s *Service) ChannelActivity(ctx context.Context, channel string, period Period, limit int) ([]ActivityPoint, error) {
	channel = strings.TrimPrefix(strings.TrimSpace(channel), "@")
	if period == "" {
		period = Daily
	}
	bucket, err := s.periodExpr(period, "f.message_date")
	if err != nil {
		return nil, err
	}
	switch {
	case limit == 0:
		limit = defaultActivityDays
	case limit < 0 || limit > maxActivityPeriods:
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidArgument, maxActivityPeriods)
	}

	exists, err := s.channelExists(ctx, channel)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("channel %q: %w", channel, ErrNotFound)
	}

	b := sq.Select(
		"f.channel_name AS channel_name",
		bucket+" AS date",
		"COUNT(*) AS message_count",
		"SUM(CASE WHEN f.has_image = TRUE THEN 1 ELSE 0 END) AS image_count",
		"COALESCE(AVG(e.sentiment), 0) AS average_sentiment",
	).
		From("fct_messages f").
		LeftJoin("enriched_messages e ON e.raw_message_id = f.message_id").
		Where(sq.Eq{"f.channel_name": channel}).
		GroupBy("f.channel_name", bucket).
		OrderBy("date DESC").
		Limit(uint64(limit))

	points := make([]ActivityPoint, 0)
	if err := s.scan(ctx, b, &points); err != nil {
		return nil, fmt.Errorf("channel activity: %w", err)
	}
	return points, nil
}

func (s *Service) channelExists(ctx context.Context, channel string) (bool, error) {
	if channel == "" {
		return false, nil
	}
	b := sq.Select("COUNT(*)").From("fct_messages").Where(sq.Eq{"channel_name": channel})
	var n int64
	if err := s.scan(ctx, b, &n); err != nil {
		return false, fmt.Errorf("lookup channel: %w", err)
	}
	return n > 0, nil
}

// periodExpr renders the bucket key of a timestamp column for the current dialect.
func (s *Service) periodExpr(period Period, column string) (string, error) {
	return bucketExpr(s.db.IsPostgres(), period, column)
}

// bucketExpr renders the UTC bucket key of a timestamp column. Weeks start on
// Monday. Keys never depend on the Postgres session time zone.
func bucketExpr(postgres bool, period Period, column string) (string, error) {
	if postgres {
		column = fmt.Sprintf("(%s AT TIME ZONE 'UTC')", column)
	}
	switch period {
	case Daily:
		if postgres {
			return fmt.Sprintf("to_char(%s, 'YYYY-MM-DD')", column), nil
		}
		return fmt.Sprintf("strftime('%%Y-%%m-%%d', %s)", column), nil
	case Weekly:
		if postgres {
			return fmt.Sprintf("to_char(date_trunc('week', %s), 'YYYY-MM-DD')", column), nil
		}
		return fmt.Sprintf("date(%s, '-6 days', 'weekday 1')", column), nil
	case Monthly:
		if postgres {
			return fmt.Sprintf("to_char(%s, 'YYYY-MM')", column), nil
		}
		return fmt.Sprintf("strftime('%%Y-%%m', %s)", column), nil
	default:
		return "", fmt.Errorf("%w: period must be daily, weekly or monthly, got %q", ErrInvalidArgument, period)
	}
}

// Statistics aggregates totals and distributions over the warehouse.
func (s *Service) Statistics(ctx context.Context) (Statistics, error) {
	stats := Statistics{
		TopChannels:         make([]ChannelCount, 0),
		UrgencyDistribution: map[string]int64{"normal": 0, "medium": 0, "high": 0},
		SentimentHistogram:  map[string]int64{"negative": 0, "neutral": 0, "positive": 0},
		TopEntities:         make([]EntityCount, 0),
	}

	var totals struct {
		TotalMessages int64
		TotalChannels int64
		TotalImages   int64
	}
	if err := s.scan(ctx, sq.Select(
		"COUNT(*) AS total_messages",
		"COUNT(DISTINCT channel_name) AS total_channels",
		"COALESCE(SUM(CASE WHEN has_image = TRUE THEN 1 ELSE 0 END), 0) AS total_images",
	).From("fct_messages"), &totals); err != nil {
		return stats, fmt.Errorf("statistics totals: %w", err)
	}
	stats.TotalMessages = totals.TotalMessages
	stats.TotalChannels = totals.TotalChannels
	stats.TotalImages = totals.TotalImages

	if err := s.scan(ctx, sq.Select("channel_name", "COUNT(*) AS message_count").
		From("fct_messages").
		GroupBy("channel_name").
		OrderBy("message_count DESC", "channel_name").
		Limit(topListSize), &stats.TopChannels); err != nil {
		return stats, fmt.Errorf("statistics top channels: %w", err)
	}

	var sentiment struct {
		Enriched int64
		Average  float64
		Negative int64
		Neutral  int64
		Positive int64
	}
	if err := s.scan(ctx, sq.Select(
		"COUNT(*) AS enriched",
		"COALESCE(AVG(sentiment), 0) AS average",
		"COALESCE(SUM(CASE WHEN sentiment < 0 THEN 1 ELSE 0 END), 0) AS negative",
		"COALESCE(SUM(CASE WHEN sentiment = 0 THEN 1 ELSE 0 END), 0) AS neutral",
		"COALESCE(SUM(CASE WHEN sentiment > 0 THEN 1 ELSE 0 END), 0) AS positive",
	).From("enriched_messages"), &sentiment); err != nil {
		return stats, fmt.Errorf("statistics sentiment: %w", err)
	}
	stats.EnrichedMessages = sentiment.Enriched
	stats.AverageSentiment = sentiment.Average
	stats.SentimentHistogram["negative"] = sentiment.Negative
	stats.SentimentHistogram["neutral"] = sentiment.Neutral
	stats.SentimentHistogram["positive"] = sentiment.Positive

	var urgency []struct {
		Urgency string
		Total   int64
	}
	if err := s.scan(ctx, sq.Select("urgency", "COUNT(*) AS total").
		From("enriched_messages").
		GroupBy("urgency"), &urgency); err != nil {
		return stats, fmt.Errorf("statistics urgency: %w", err)
	}
	for _, u := range urgency {
		stats.UrgencyDistribution[u.Urgency] = u.Total
	}

	var entityLists []*string
	if err := s.scan(ctx, sq.Select("entities").From("enriched_messages"), &entityLists); err != nil {
		return stats, fmt.Errorf("statistics entities: %w", err)
	}
	stats.TopEntities = topEntities(entityLists, topListSize)

	if err := s.scan(ctx, sq.Select(
		"COUNT(*) AS processed",
		"COALESCE(SUM(CASE WHEN is_relevant = TRUE THEN 1 ELSE 0 END), 0) AS relevant",
	).From("processed_images"), &stats.Images); err != nil {
		return stats, fmt.Errorf("statistics images: %w", err)
	}

	return stats, nil
}

func topEntities(lists []*string, n int) []EntityCount {
	counts := map[string]int64{}
	for _, raw := range lists {
		for _, e := range decodeEntities(raw) {
			counts[e]++
		}
	}
	out := make([]EntityCount, 0, len(counts))
	for entity, count := range counts {
		out = append(out, EntityCount{Entity: entity, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Entity < out[j].Entity
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// TopProducts counts messages mentioning each configured product group.
func (s *Service) TopProducts(ctx context.Context, limit int) ([]ProductMention, error) {
	switch {
	case limit == 0:
		limit = defaultTopProducts
	case limit < 0 || limit > maxSearchLimit:
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidArgument, maxSearchLimit)
	}

	out := make([]ProductMention, 0, len(s.products))
	for _, product := range s.products {
		mention, err := s.productMention(ctx, product)
		if err != nil {
			return nil, fmt.Errorf("product %s: %w", product.Name, err)
		}
		if mention.MentionCount > 0 {
			out = append(out, mention)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].MentionCount > out[j].MentionCount
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Service) productMention(ctx context.Context, product config.ProductConfig) (ProductMention, error) {
	mention := ProductMention{ProductName: product.Name, Channels: []string{}}

	match := sq.Or{}
	for _, kw := range product.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		match = append(match, likeExpr("f.message_text", kw))
	}
	if len(match) == 0 {
		return mention, nil
	}

	if err := s.scan(ctx, sq.Select("COUNT(*)").From("fct_messages f").Where(match), &mention.MentionCount); err != nil {
		return mention, err
	}
	if mention.MentionCount == 0 {
		return mention, nil
	}

	if err := s.scan(ctx, sq.Select("DISTINCT f.channel_name").
		From("fct_messages f").
		Where(match).
		OrderBy("f.channel_name"), &mention.Channels); err != nil {
		return mention, err
	}

	var latest []struct{ MessageDate time.Time }
	if err := s.scan(ctx, sq.Select("f.message_date").
		From("fct_messages f").
		Where(match).
		OrderBy("f.message_date DESC").
		Limit(1), &latest); err != nil {
		return mention, err
	}
	if len(latest) > 0 {
		t := latest[0].MessageDate.UTC()
		mention.LastMentioned = &t
	}
	return mention, nil
}

func pageSize(offset, limit int) (int, error) {
	if offset < 0 {
		return 0, fmt.Errorf("%w: offset must not be negative", ErrInvalidArgument)
	}
	switch {
	case limit == 0:
		return defaultPageSize, nil
	case limit < 0 || limit > maxPageSize:
		return 0, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidArgument, maxPageSize)
	}
	return limit, nil
}

func boolExpr(column string, v bool) sq.Sqlizer {
	if v {
		return sq.Expr(column + " = TRUE")
	}
	return sq.Expr(column + " = FALSE")
}

// likeExpr matches a lower-cased needle anywhere in column, case-insensitively.
func likeExpr(column, needle string) sq.Sqlizer {
	return sq.Expr("LOWER(COALESCE("+column+", '')) LIKE ? ESCAPE '\\'", "%"+escapeLike(needle)+"%")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
