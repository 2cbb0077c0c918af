// Package config holds the bot core settings shared by every deployment:
// Telegram, webhook, logging and rate limiting.
package config

import (
	"fmt"
	"strings"
)

// TelegramConfig holds Telegram bot related settings that are common for all bots.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"BOT_TOKEN"`
	AdminID int64  `yaml:"admin_id" envconfig:"TELEGRAM_ADMIN_ID"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

// WebhookConfig specifies webhook settings.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level string `yaml:"level" envconfig:"LOG_LEVEL"`
	// Format is "json" or "text"; empty picks text for the debug and dev profiles.
	Format string `yaml:"format" envconfig:"LOG_FORMAT"`
	// DebugSample keeps one of every N high-volume debug events, written "N" or "1/N".
	DebugSample string `yaml:"debug_sample" envconfig:"LOG_DEBUG_SAMPLE"`
	// Dir and File add a log file next to stdout when both are set.
	Dir     string `yaml:"dir" envconfig:"LOG_DIR"`
	File    string `yaml:"file" envconfig:"LOG_FILE"`
	Profile string `yaml:"profile" envconfig:"LOG_PROFILE"`
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

// Update kinds accepted by rate_limit.exclude_updates.
const (
	UpdateCallback = "callback"
	UpdateMessage  = "message"
)

// RateLimitConfig holds settings for rate limiting. ExcludeUpdates lists
// update kinds ("callback", "message") that bypass the limiter.
type RateLimitConfig struct {
	IntervalMS     int      `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES"`
}

// Config aggregates the configuration that belongs to the reusable core.
type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// Normalize trims and validates the core settings in place. Run mode
// aliases "polling" and "long_polling" become RunModeLongpoll.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	tg := &cfg.Telegram
	tg.Token = strings.TrimSpace(tg.Token)
	switch {
	case tg.Token == "":
		return fmt.Errorf("telegram token is required (telegram.token or BOT_TOKEN)")
	case tg.AdminID < 0:
		return fmt.Errorf("telegram.admin_id must be a user id, got %d", tg.AdminID)
	}

	mode, err := runMode(tg.RunMode)
	if err != nil {
		return err
	}
	if mode == RunModeWebhook {
		if err := cfg.Webhook.validate(); err != nil {
			return err
		}
	} else if tg.LongPollTimeoutSeconds < 0 {
		return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
	}
	tg.RunMode = mode

	return cfg.RateLimit.normalize()
}

func runMode(raw string) (string, error) {
	switch m := strings.ToLower(strings.TrimSpace(raw)); m {
	case "", "polling", "long_polling", RunModeLongpoll:
		return RunModeLongpoll, nil
	case RunModeWebhook:
		return m, nil
	}
	return "", fmt.Errorf("invalid telegram.run_mode %q; allowed: webhook, longpoll", raw)
}

func (w WebhookConfig) validate() error {
	var missing string
	switch {
	case strings.TrimSpace(w.URL) == "":
		missing = "webhook.url"
	case strings.TrimSpace(w.Listen) == "":
		missing = "webhook.listen"
	case w.Port <= 0:
		missing = "webhook.port"
	default:
		return nil
	}
	return fmt.Errorf("%s is required when telegram.run_mode is %q", missing, RunModeWebhook)
}

// normalize lowercases ExcludeUpdates; blank entries are left as they are.
func (r *RateLimitConfig) normalize() error {
	for i, v := range r.ExcludeUpdates {
		switch key := strings.ToLower(strings.TrimSpace(v)); key {
		case "":
		case UpdateCallback, UpdateMessage:
			r.ExcludeUpdates[i] = key
		default:
			return fmt.Errorf("invalid rate_limit.exclude_updates value %q; allowed: callback, message", v)
		}
	}
	return nil
}
