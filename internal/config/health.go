package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Subsystem names reported by Health.
const (
	SubsystemTelegram      = "telegram"
	SubsystemDatabase      = "database"
	SubsystemStorage       = "storage"
	SubsystemDetection     = "detection"
	SubsystemAPI           = "api"
	SubsystemNotifications = "notifications"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// HealthReport is a boolean-per-subsystem view of the configuration.
type HealthReport map[string]bool

// OK reports whether every subsystem is configured.
func (h HealthReport) OK() bool {
	for _, ok := range h {
		if !ok {
			return false
		}
	}
	return true
}

// Failing lists subsystems that did not validate, sorted by name.
func (h HealthReport) Failing() []string {
	var out []string
	for name, ok := range h {
		if !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Health validates every subsystem independently.
func (c Config) Health() HealthReport {
	report := HealthReport{}
	for name, err := range c.subsystemErrors() {
		report[name] = err == nil
	}
	return report
}

// Validate fails when a subsystem required to run the pipeline is misconfigured.
// Detection and notifications are optional, but once an endpoint or bot token
// is set they must validate too.
func (c Config) Validate() error {
	errs := c.subsystemErrors()
	required := []string{SubsystemTelegram, SubsystemDatabase, SubsystemStorage, SubsystemAPI}
	if c.Detection.Endpoint != "" {
		required = append(required, SubsystemDetection)
	}
	if c.Notifications.Telegram.BotToken != "" {
		required = append(required, SubsystemNotifications)
	}

	var problems []string
	for _, name := range required {
		if err := errs[name]; err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", name, err))
		}
	}
	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}

func (c Config) subsystemErrors() map[string]error {
	return map[string]error{
		SubsystemTelegram:      c.validateSource(),
		SubsystemDatabase:      validate.Struct(c.Database),
		SubsystemStorage:       validate.Struct(c.Storage),
		SubsystemDetection:     validate.Struct(c.Detection),
		SubsystemAPI:           validate.Struct(c.API),
		SubsystemNotifications: validate.Struct(c.Notifications.Telegram),
	}
}

func (c Config) validateSource() error {
	if err := validate.Struct(c.Source); err != nil {
		return err
	}
	if len(c.Channels) == 0 {
		return errors.New("no channels configured")
	}
	for _, ch := range c.Channels {
		if err := validate.Struct(ch); err != nil {
			return err
		}
	}
	return validate.Struct(c.Scraper)
}
