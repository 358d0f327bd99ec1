package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Listen string `yaml:"listen" envconfig:"SERVER_LISTEN"`
	Port   int    `yaml:"port" envconfig:"SERVER_PORT"`
}

// WhatsAppConfig holds WhatsApp Cloud API credentials and webhook secrets.
type WhatsAppConfig struct {
	VerifyToken   string `yaml:"verify_token" envconfig:"WHATSAPP_VERIFY_TOKEN"`
	AccessToken   string `yaml:"access_token" envconfig:"WHATSAPP_ACCESS_TOKEN"`
	PhoneNumberID string `yaml:"phone_number_id" envconfig:"WHATSAPP_PHONE_NUMBER_ID"`
	AppSecret     string `yaml:"app_secret" envconfig:"WHATSAPP_APP_SECRET"`
	APIVersion    string `yaml:"api_version" envconfig:"WHATSAPP_API_VERSION"`
}

// ServicesConfig points at the internal backend and AI collaborators.
type ServicesConfig struct {
	APIURL string `yaml:"api_url" envconfig:"API_URL"`
	AIURL  string `yaml:"ai_url" envconfig:"AI_SERVICES_URL"`
}

// SessionConfig controls conversation session persistence.
type SessionConfig struct {
	TTLSeconds int `yaml:"ttl_seconds" envconfig:"SESSION_TTL_SECONDS"`
}

// QueueConfig controls the message job queue and its worker pool.
type QueueConfig struct {
	Workers        int `yaml:"workers" envconfig:"QUEUE_WORKERS"`
	MaxAttempts    int `yaml:"max_attempts" envconfig:"QUEUE_MAX_ATTEMPTS"`
	BackoffMS      int `yaml:"backoff_ms" envconfig:"QUEUE_BACKOFF_MS"`
	PollIntervalMS int `yaml:"poll_interval_ms" envconfig:"QUEUE_POLL_INTERVAL_MS"`
}

// StorageConfig selects the persistence backend for sessions and the queue.
// "postgres" is the production default; "memory" serves local development.
type StorageConfig struct {
	Driver string `yaml:"driver" envconfig:"STORAGE_DRIVER"`
}

// DatabaseConfig holds Postgres connection settings for the session and
// queue stores. core/database receives a copy of these values through
// bootstrap so the storage layer stays decoupled from config loading.
type DatabaseConfig struct {
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir"`
	File        string `yaml:"file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile"`
}

// Config aggregates the whole handler configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
	Services ServicesConfig `yaml:"services"`
	Session  SessionConfig  `yaml:"session"`
	Queue    QueueConfig    `yaml:"queue"`
	Storage  StorageConfig  `yaml:"storage"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// SessionTTL returns the configured session lifetime as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLSeconds) * time.Second
}

// QueueBackoff returns the base retry backoff as a duration.
func (c *Config) QueueBackoff() time.Duration {
	return time.Duration(c.Queue.BackoffMS) * time.Millisecond
}

// Load reads configuration from a YAML file and environment variables.
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

// Normalize performs basic validation of required configuration fields and adjusts defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 3001
	}
	if strings.TrimSpace(cfg.Server.Listen) == "" {
		cfg.Server.Listen = "0.0.0.0"
	}

	if strings.TrimSpace(cfg.WhatsApp.VerifyToken) == "" {
		return fmt.Errorf("whatsapp.verify_token is required")
	}
	if strings.TrimSpace(cfg.WhatsApp.AppSecret) == "" {
		return fmt.Errorf("whatsapp.app_secret is required")
	}
	if strings.TrimSpace(cfg.WhatsApp.AccessToken) == "" {
		return fmt.Errorf("whatsapp.access_token is required")
	}
	if strings.TrimSpace(cfg.WhatsApp.PhoneNumberID) == "" {
		return fmt.Errorf("whatsapp.phone_number_id is required")
	}
	if strings.TrimSpace(cfg.WhatsApp.APIVersion) == "" {
		cfg.WhatsApp.APIVersion = "v18.0"
	}

	if strings.TrimSpace(cfg.Services.APIURL) == "" {
		return fmt.Errorf("services.api_url is required")
	}
	if strings.TrimSpace(cfg.Services.AIURL) == "" {
		return fmt.Errorf("services.ai_url is required")
	}

	if cfg.Session.TTLSeconds <= 0 {
		cfg.Session.TTLSeconds = 86400
	}

	if cfg.Queue.Workers <= 0 {
		cfg.Queue.Workers = 4
	}
	if cfg.Queue.MaxAttempts <= 0 {
		cfg.Queue.MaxAttempts = 3
	}
	if cfg.Queue.BackoffMS <= 0 {
		cfg.Queue.BackoffMS = 1000
	}
	if cfg.Queue.PollIntervalMS <= 0 {
		cfg.Queue.PollIntervalMS = 250
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "postgres":
		cfg.Storage.Driver = "postgres"
	case "memory":
		cfg.Storage.Driver = "memory"
	default:
		return fmt.Errorf("storage.driver must be postgres or memory, got %q", cfg.Storage.Driver)
	}

	if cfg.Storage.Driver == "postgres" {
		if strings.TrimSpace(cfg.Database.Host) == "" {
			cfg.Database.Host = "127.0.0.1"
		}
		if strings.TrimSpace(cfg.Database.Port) == "" {
			cfg.Database.Port = "5432"
		}
		if strings.TrimSpace(cfg.Database.User) == "" {
			cfg.Database.User = "postgres"
		}
		if strings.TrimSpace(cfg.Database.Name) == "" {
			cfg.Database.Name = "petvet"
		}
		if strings.TrimSpace(cfg.Database.SSLMode) == "" {
			cfg.Database.SSLMode = "disable"
		}
		if cfg.Database.MaxConnections <= 0 {
			cfg.Database.MaxConnections = 10
		}
	}

	return nil
}
