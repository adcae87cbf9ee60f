package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// envOverrides maps environment variables onto configuration fields.
// Pointer fields stay nil when the variable is unset.
type envOverrides struct {
	DatabaseDSN         string   `envconfig:"DATABASE_DSN"`
	RawDataPath         string   `envconfig:"RAW_DATA_PATH"`
	MediaPath           string   `envconfig:"MEDIA_PATH"`
	SourceBaseURL       string   `envconfig:"TELEGRAM_BASE_URL"`
	Channels            []string `envconfig:"TELEGRAM_CHANNELS"`
	MessageLimit        *int     `envconfig:"MESSAGE_LIMIT"`
	DownloadMedia       *bool    `envconfig:"DOWNLOAD_MEDIA"`
	DetectorURL         string   `envconfig:"DETECTOR_URL"`
	DetectorAPIKey      string   `envconfig:"DETECTOR_API_KEY"`
	ConfidenceThreshold *float64 `envconfig:"CONFIDENCE_THRESHOLD"`
	BotToken            string   `envconfig:"TELEGRAM_BOT_TOKEN"`
	ChatID              string   `envconfig:"TELEGRAM_CHAT_ID"`
	APIHost             string   `envconfig:"API_HOST"`
	APIPort             *int     `envconfig:"API_PORT"`
	LogLevel            string   `envconfig:"LOG_LEVEL"`
	LogFormat           string   `envconfig:"LOG_FORMAT"`
	DBTProjectDir       string   `envconfig:"DBT_PROJECT_DIR"`
	DBTProfilesDir      string   `envconfig:"DBT_PROFILES_DIR"`
	CronExpression      string   `envconfig:"SCHEDULE_CRON"`
}

// LoadDotEnv loads environment variables from a .env file.
// If path is empty, it loads from ".env" in the current directory.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	return godotenv.Load(path)
}

func (c *Config) applyEnvOverrides() error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("process env: %w", err)
	}

	if env.DatabaseDSN != "" {
		c.Database.DSN = env.DatabaseDSN
	}
	if env.RawDataPath != "" {
		c.Storage.RawDataPath = env.RawDataPath
	}
	if env.MediaPath != "" {
		c.Storage.MediaPath = env.MediaPath
	}
	if env.SourceBaseURL != "" {
		c.Source.BaseURL = strings.TrimSuffix(env.SourceBaseURL, "/")
	}
	if len(env.Channels) > 0 {
		channels := make([]ChannelConfig, 0, len(env.Channels))
		for _, name := range env.Channels {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			channels = append(channels, ChannelConfig{Name: name})
		}
		if len(channels) > 0 {
			c.Channels = channels
		}
	}
	if env.MessageLimit != nil {
		c.Scraper.MessageLimit = *env.MessageLimit
	}
	if env.DownloadMedia != nil {
		c.Scraper.DownloadMedia = env.DownloadMedia
	}
	if env.DetectorURL != "" {
		c.Detection.Endpoint = env.DetectorURL
	}
	if env.DetectorAPIKey != "" {
		c.Detection.APIKey = env.DetectorAPIKey
	}
	if env.ConfidenceThreshold != nil {
		c.Detection.ConfidenceThreshold = *env.ConfidenceThreshold
	}
	if env.BotToken != "" {
		c.Notifications.Telegram.BotToken = env.BotToken
	}
	if env.ChatID != "" {
		c.Notifications.Telegram.ChatID = env.ChatID
	}
	if env.APIHost != "" {
		c.API.Host = env.APIHost
	}
	if env.APIPort != nil {
		c.API.Port = *env.APIPort
	}
	if env.LogLevel != "" {
		c.Logging.Level = env.LogLevel
	}
	if env.LogFormat != "" {
		c.Logging.Format = env.LogFormat
	}
	if env.DBTProjectDir != "" {
		c.Transform.ProjectDir = env.DBTProjectDir
	}
	if env.DBTProfilesDir != "" {
		c.Transform.ProfilesDir = env.DBTProfilesDir
	}
	if env.CronExpression != "" {
		c.Scheduler.CronExpression = env.CronExpression
	}

	return nil
}
