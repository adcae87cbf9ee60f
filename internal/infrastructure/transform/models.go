package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"ChannelPipeline/internal/infrastructure/storage"
	"ChannelPipeline/internal/ports"
)

const dateLayout = "2006-01-02"

const stagingView = `CREATE VIEW stg_telegram_messages AS
SELECT
	id AS raw_id,
	message_id,
	chat_id,
	chat_title,
	channel_name,
	sender_id,
	sender_username,
	sender_first_name,
	sender_last_name,
	message_text,
	message_date,
	has_media,
	media_type,
	media_path,
	CASE WHEN has_media = TRUE AND media_type = 'photo' THEN TRUE ELSE FALSE END AS has_image,
	reply_to_msg_id,
	forward_from,
	scraped_at,
	created_at
FROM telegram_messages`

const channelsInsert = `INSERT INTO dim_channels (channel_name, chat_id, chat_title, created_at)
SELECT channel_name, MIN(chat_id), MIN(chat_title), CURRENT_TIMESTAMP
FROM stg_telegram_messages
WHERE channel_name IS NOT NULL AND channel_name <> ''
GROUP BY channel_name
ON CONFLICT (channel_name) DO NOTHING`

const factInsert = `INSERT INTO fct_messages (
	message_id, raw_id, channel_id, date_id, chat_id, chat_title, channel_name,
	sender_id, sender_username, sender_first_name, sender_last_name,
	message_text, message_date, has_media, has_image, media_type, media_path,
	reply_to_msg_id, forward_from, scraped_at
)
SELECT
	s.message_id, s.raw_id, c.channel_id, d.date_id, s.chat_id, s.chat_title, s.channel_name,
	s.sender_id, s.sender_username, s.sender_first_name, s.sender_last_name,
	s.message_text, s.message_date, s.has_media, s.has_image, s.media_type, s.media_path,
	s.reply_to_msg_id, s.forward_from, s.scraped_at
FROM stg_telegram_messages s
LEFT JOIN dim_channels c ON c.channel_name = s.channel_name
LEFT JOIN dim_dates d ON d.date_id = %s
WHERE TRUE
ON CONFLICT (message_id) DO NOTHING`

// Models builds the staging view, dimensions and fact table directly in SQL.
// Every step is idempotent.
type Models struct {
	db     storage.Database
	logger *slog.Logger
}

var _ ports.Transformer = (*Models)(nil)

// NewModels wires the built-in transform.
func NewModels(db storage.Database, logger *slog.Logger) *Models {
	if logger == nil {
		logger = slog.Default()
	}
	return &Models{db: db, logger: logger.With("component", "models")}
}

// Transform runs every model in dependency order inside one transaction.
func (m *Models) Transform(ctx context.Context) error {
	steps := []struct {
		name string
		run  func(tx *gorm.DB) (int64, error)
	}{
		{"stg_telegram_messages", m.staging},
		{"dim_channels", m.channels},
		{"dim_dates", m.dates},
		{"fct_messages", m.facts},
	}

	return storage.WithTransaction(ctx, m.db, func(tx *gorm.DB) error {
		for _, step := range steps {
			rows, err := step.run(tx)
			if err != nil {
				return fmt.Errorf("model %s: %w", step.name, err)
			}
			m.logger.Info("model built", "model", step.name, "rows", rows)
		}
		return nil
	})
}

func (m *Models) staging(tx *gorm.DB) (int64, error) {
	if err := tx.Exec("DROP VIEW IF EXISTS stg_telegram_messages").Error; err != nil {
		return 0, err
	}
	return 0, tx.Exec(stagingView).Error
}

func (m *Models) channels(tx *gorm.DB) (int64, error) {
	res := tx.Exec(channelsInsert)
	return res.RowsAffected, res.Error
}

// dates fills the calendar for every day between the first and last message.
func (m *Models) dates(tx *gorm.DB) (int64, error) {
	first, ok, err := boundary(tx, "message_date ASC")
	if err != nil || !ok {
		return 0, err
	}
	last, _, err := boundary(tx, "message_date DESC")
	if err != nil {
		return 0, err
	}

	var rows []storage.DimDateModel
	for day := truncateDay(first); !day.After(truncateDay(last)); day = day.AddDate(0, 0, 1) {
		rows = append(rows, CalendarDay(day))
	}
	written, err := storage.Upsert(tx, rows, storage.Conflict{Keys: []string{"date_id"}, Policy: storage.SkipExisting})
	return int64(written), err
}

func (m *Models) facts(tx *gorm.DB) (int64, error) {
	res := tx.Exec(fmt.Sprintf(factInsert, m.dateKey("s.message_date")))
	return res.RowsAffected, res.Error
}

func (m *Models) dateKey(column string) string {
	return dateKeyExpr(m.db.IsPostgres(), column)
}

// dateKeyExpr renders the UTC day of a timestamp column as YYYY-MM-DD, the
// format of dim_dates.date_id.
func dateKeyExpr(postgres bool, column string) string {
	if postgres {
		return fmt.Sprintf("to_char(%s AT TIME ZONE 'UTC', 'YYYY-MM-DD')", column)
	}
	return fmt.Sprintf("strftime('%%Y-%%m-%%d', %s)", column)
}

func boundary(tx *gorm.DB, order string) (time.Time, bool, error) {
	var row storage.RawMessageModel
	err := tx.Select("message_date").Order(order).Limit(1).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return row.MessageDate, true, nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// CalendarDay derives the dimension attributes of one UTC day.
// DayOfWeek counts from Sunday = 0.
func CalendarDay(day time.Time) storage.DimDateModel {
	day = truncateDay(day)
	weekday := day.Weekday()
	return storage.DimDateModel{
		DateID:    day.Format(dateLayout),
		Year:      day.Year(),
		Month:     int(day.Month()),
		Day:       day.Day(),
		DayOfWeek: int(weekday),
		DayOfYear: day.YearDay(),
		MonthName: day.Month().String(),
		DayName:   weekday.String(),
		IsWeekend: weekday == time.Saturday || weekday == time.Sunday,
		Season:    season(day.Month()),
	}
}

func season(m time.Month) string {
	switch m {
	case time.December, time.January, time.February:
		return "Winter"
	case time.March, time.April, time.May:
		return "Spring"
	case time.June, time.July, time.August:
		return "Summer"
	default:
		return "Fall"
	}
}
