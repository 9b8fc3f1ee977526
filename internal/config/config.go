// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	DB         DBConfig         `mapstructure:"db"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Paths      PathsConfig      `mapstructure:"paths"`
	Detector   DetectorConfig   `mapstructure:"detector"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Transform  TransformConfig  `mapstructure:"transform"`
	Storage    StorageConfig    `mapstructure:"storage"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DBConfig controls access to the relational warehouse.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// TelegramConfig governs the channel scraper.
type TelegramConfig struct {
	Channels         []string `mapstructure:"channels"`
	FetchLimit       int      `mapstructure:"fetch_limit"`
	BaseURL          string   `mapstructure:"base_url"`
	UserAgent        string   `mapstructure:"user_agent"`
	TimeoutSeconds   int      `mapstructure:"timeout_seconds"`
	HeadlessFallback bool     `mapstructure:"headless_fallback"`
	NavTimeoutSec    int      `mapstructure:"nav_timeout_seconds"`
}

// PathsConfig sets the data directories shared by the pipeline stages.
type PathsConfig struct {
	MessagesDir  string `mapstructure:"messages_dir"`
	ImagesDir    string `mapstructure:"images_dir"`
	ProcessedDir string `mapstructure:"processed_dir"`
}

// DetectorConfig selects and configures the object-detection backend.
type DetectorConfig struct {
	Provider       string  `mapstructure:"provider"`
	Endpoint       string  `mapstructure:"endpoint"`
	Model          string  `mapstructure:"model"`
	OpenAIModel    string  `mapstructure:"openai_model"`
	OpenAIKey      string  `mapstructure:"openai_key"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MinConfidence  float64 `mapstructure:"min_confidence"`
}

// ClassifierConfig carries the business rules for image categorization.
type ClassifierConfig struct {
	ProductKeywords []string `mapstructure:"product_keywords"`
}

// TransformConfig describes the external warehouse transformation command.
type TransformConfig struct {
	Command []string `mapstructure:"command"`
	Dir     string   `mapstructure:"dir"`
}

// StorageConfig selects the media blob store backend.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for run-completed notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MEDTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("telegram.fetch_limit", 100)
	v.SetDefault("telegram.base_url", "https://t.me/s")
	v.SetDefault("telegram.user_agent", "medtel-warehouse/1.0")
	v.SetDefault("telegram.timeout_seconds", 15)
	v.SetDefault("telegram.headless_fallback", false)
	v.SetDefault("telegram.nav_timeout_seconds", 25)
	v.SetDefault("paths.messages_dir", "data/raw/telegram_messages")
	v.SetDefault("paths.images_dir", "data/raw/images")
	v.SetDefault("paths.processed_dir", "data/processed")
	v.SetDefault("detector.provider", "noop")
	v.SetDefault("detector.model", "yolov8n")
	v.SetDefault("detector.timeout_seconds", 30)
	v.SetDefault("detector.min_confidence", 0.0)
	v.SetDefault("classifier.product_keywords", []string{
		"bottle", "box", "cup", "vase", "medicine", "pill", "car", "bus", "truck",
	})
	v.SetDefault("transform.command", []string{"dbt", "run"})
	v.SetDefault("transform.dir", "medical_warehouse")
	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.prefix", "images")
	v.SetDefault("pubsub.enabled", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Telegram.FetchLimit <= 0 {
		return fmt.Errorf("telegram.fetch_limit must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Detector.Provider {
	case "http":
		if c.Detector.Endpoint == "" {
			return fmt.Errorf("detector.endpoint must be set for the http provider")
		}
	case "openai":
		if c.Detector.OpenAIModel == "" {
			return fmt.Errorf("detector.openai_model must be set for the openai provider")
		}
	case "noop":
	default:
		return fmt.Errorf("unknown detector provider: %s", c.Detector.Provider)
	}
	switch c.Storage.Provider {
	case "local", "memory":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs provider")
		}
	default:
		return fmt.Errorf("unknown storage provider: %s", c.Storage.Provider)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	if len(c.Transform.Command) == 0 {
		return fmt.Errorf("transform.command must not be empty")
	}
	return nil
}
