// Package config loads the vatwatch configuration: the shared bot core plus
// database, VIES, monitoring, HTTP and Redis sections.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	coreconfig "github.com/m3rciful/vatwatch/core/config"
	coredatabase "github.com/m3rciful/vatwatch/core/database"
	"github.com/m3rciful/vatwatch/internal/lifecycle"
	"github.com/m3rciful/vatwatch/internal/scheduler"
	"github.com/m3rciful/vatwatch/internal/store"
	"github.com/m3rciful/vatwatch/internal/vies"
)

// MonitoringConfig is the lifecycle policy.
type MonitoringConfig struct {
	ExpirationDays                   int           `yaml:"expiration_days" envconfig:"EXPIRATION_DAYS"`
	MaxPendingPerUser                int           `yaml:"max_pending_per_user" envconfig:"MAX_PENDING_PER_USER"`
	CheckInterval                    time.Duration `yaml:"check_interval" envconfig:"CHECK_INTERVAL"`
	CheckOnStart                     bool          `yaml:"check_on_start" envconfig:"CHECK_ON_START"`
	NotifyAdminOnUnrecoverableErrors bool          `yaml:"notify_admin_on_unrecoverable_errors" envconfig:"NOTIFY_ADMIN_ON_UNRECOVERABLE_ERRORS"`
}

// HTTPConfig configures the user and admin HTTP API.
type HTTPConfig struct {
	// Listen is the address of the HTTP server; empty disables it.
	Listen     string `yaml:"listen" envconfig:"HTTP_LISTEN"`
	APIToken   string `yaml:"api_token" envconfig:"API_TOKEN"`
	AdminToken string `yaml:"admin_token" envconfig:"ADMIN_TOKEN"`
}

// Config is the full application configuration.
type Config struct {
	coreconfig.Config `yaml:",inline"`

	Database   coredatabase.Config   `yaml:"database"`
	Vies       vies.Config           `yaml:"vies"`
	Monitoring MonitoringConfig      `yaml:"monitoring"`
	HTTP       HTTPConfig            `yaml:"http"`
	Redis      scheduler.RedisConfig `yaml:"redis"`
}

// CoreConfig exposes the embedded bot core configuration.
func (c *Config) CoreConfig() *coreconfig.Config {
	if c == nil {
		return nil
	}
	return &c.Config
}

// Lifecycle returns the engine policy.
func (c *Config) Lifecycle() lifecycle.Config {
	return lifecycle.Config{
		MaxPendingPerOwner:         c.Monitoring.MaxPendingPerUser,
		ExpirationDays:             c.Monitoring.ExpirationDays,
		AdminChatID:                c.Telegram.AdminID,
		NotifyAdminOnUnrecoverable: c.Monitoring.NotifyAdminOnUnrecoverableErrors,
	}
}

// Scheduler returns the loop settings.
func (c *Config) Scheduler() scheduler.Config {
	return scheduler.Config{
		Interval:     c.Monitoring.CheckInterval,
		CheckOnStart: c.Monitoring.CheckOnStart,
		LeaseRenewal: c.leaseRenewal(),
	}
}

// leaseRenewal extends the Redis lease three times per TTL; without Redis
// there is no lease to keep.
func (c *Config) leaseRenewal() time.Duration {
	if c.Redis.URL == "" {
		return 0
	}
	return c.Redis.LockTTL / 3
}

// LoadDotEnv loads a .env file into the environment. A missing file is not an error.
func LoadDotEnv(files ...string) error {
	err := godotenv.Load(files...)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// Load reads the YAML file, overlays the environment and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}
	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates the configuration and fills defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if err := coreconfig.Normalize(&cfg.Config); err != nil {
		return err
	}

	if strings.TrimSpace(cfg.Database.Host) == "" {
		return fmt.Errorf("database.host is required")
	}
	if cfg.Database.Port == "" {
		cfg.Database.Port = "5432"
	}
	if cfg.Database.MaxConnections <= 0 {
		cfg.Database.MaxConnections = 10
	}
	if cfg.Database.MigrationsPath == "" {
		cfg.Database.MigrationsPath = coredatabase.DefaultMigrationsPath
	}

	if cfg.Vies.BaseURL == "" {
		cfg.Vies.BaseURL = vies.DefaultBaseURL
	}
	if cfg.Vies.Timeout <= 0 {
		cfg.Vies.Timeout = 30 * time.Second
	}

	m := &cfg.Monitoring
	if m.ExpirationDays < 0 || m.MaxPendingPerUser < 0 || m.CheckInterval < 0 {
		return fmt.Errorf("monitoring values must not be negative")
	}
	if m.ExpirationDays == 0 {
		m.ExpirationDays = store.DefaultExpirationDays
	}
	if m.MaxPendingPerUser == 0 {
		m.MaxPendingPerUser = lifecycle.DefaultMaxPendingPerOwner
	}
	if m.CheckInterval == 0 {
		m.CheckInterval = scheduler.DefaultInterval
	}
	if m.NotifyAdminOnUnrecoverableErrors && cfg.Telegram.AdminID == 0 {
		return fmt.Errorf("monitoring.notify_admin_on_unrecoverable_errors requires telegram.admin_id")
	}

	if cfg.HTTP.Listen != "" && cfg.HTTP.APIToken == "" {
		return fmt.Errorf("http.api_token is required when http.listen is set")
	}

	if cfg.Redis.URL != "" {
		if cfg.Redis.LockKey == "" {
			cfg.Redis.LockKey = scheduler.DefaultLockKey
		}
		if cfg.Redis.LockTTL <= 0 {
			cfg.Redis.LockTTL = 10 * time.Minute
		}
	}
	return nil
}
