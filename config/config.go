package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds the application's configuration
type Config struct {
	BackendBaseURL     string        `mapstructure:"BACKEND_BASE_URL"`
	WebPort            int           `mapstructure:"WEB_PORT"`
	LogLevel           string        `mapstructure:"LOG_LEVEL"`
	RequestTimeout     time.Duration `mapstructure:"REQUEST_TIMEOUT_SECONDS"`
	UploadTimeout      time.Duration `mapstructure:"UPLOAD_TIMEOUT_SECONDS"`
	HealthPollInterval time.Duration `mapstructure:"HEALTH_POLL_INTERVAL_SECONDS"`
	PreviewRows        int           `mapstructure:"PREVIEW_ROWS"`
	TablePreviewRows   int           `mapstructure:"TABLE_PREVIEW_ROWS"`
	SessionTitleMaxLen int           `mapstructure:"SESSION_TITLE_MAX_LEN"`
	SchemaCacheSize    int           `mapstructure:"SCHEMA_CACHE_SIZE"`
	ExplorerCacheTTL   time.Duration `mapstructure:"EXPLORER_CACHE_TTL_SECONDS"`
	ExplorerSampleRows int           `mapstructure:"EXPLORER_SAMPLE_ROWS"`
	MaxUploadSizeMB    int64         `mapstructure:"MAX_UPLOAD_SIZE_MB"`
	QueriesPerMinute   int           `mapstructure:"QUERIES_PER_MINUTE"`
	UploadsPerHour     int           `mapstructure:"UPLOADS_PER_HOUR"`
	QueryBurstSize     int           `mapstructure:"QUERY_BURST_SIZE"`
}

func Load(logger *zap.Logger) *Config {
	var config Config
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")        // For running locally
	viper.AddConfigPath("./config") // Common config folder
	viper.AutomaticEnv()

	// Set default values
	viper.SetDefault("BACKEND_BASE_URL", "http://localhost:8000")
	viper.SetDefault("WEB_PORT", 3000)
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("REQUEST_TIMEOUT_SECONDS", 120)
	viper.SetDefault("UPLOAD_TIMEOUT_SECONDS", 300)
	viper.SetDefault("HEALTH_POLL_INTERVAL_SECONDS", 30)
	viper.SetDefault("PREVIEW_ROWS", 5)
	viper.SetDefault("TABLE_PREVIEW_ROWS", 10)
	viper.SetDefault("SESSION_TITLE_MAX_LEN", 30)
	viper.SetDefault("SCHEMA_CACHE_SIZE", 32)
	viper.SetDefault("EXPLORER_CACHE_TTL_SECONDS", 30)
	viper.SetDefault("EXPLORER_SAMPLE_ROWS", 20)
	viper.SetDefault("MAX_UPLOAD_SIZE_MB", 50)
	viper.SetDefault("QUERIES_PER_MINUTE", 10)
	viper.SetDefault("UPLOADS_PER_HOUR", 20)
	viper.SetDefault("QUERY_BURST_SIZE", 5)

	if err := viper.ReadInConfig(); err != nil {
		if logger != nil {
			logger.Warn("Could not read config file, using defaults/env vars", zap.Error(err))
		}
	}

	if err := viper.Unmarshal(&config); err != nil {
		// Config unmarshaling is critical - fail fast during bootstrap
		if logger != nil {
			logger.Fatal("Unable to decode config into struct", zap.Error(err))
		} else {
			fmt.Fprintf(os.Stderr, "FATAL: Unable to decode config into struct: %v\n", err)
			os.Exit(1)
		}
	}

	config.BackendBaseURL = strings.TrimRight(strings.TrimSpace(config.BackendBaseURL), "/")
	if config.BackendBaseURL == "" {
		config.BackendBaseURL = "http://localhost:8000"
	}

	// Convert seconds to proper time.Duration
	config.RequestTimeout = config.RequestTimeout * time.Second
	config.UploadTimeout = config.UploadTimeout * time.Second
	config.HealthPollInterval = config.HealthPollInterval * time.Second
	config.ExplorerCacheTTL = config.ExplorerCacheTTL * time.Second

	return &config
}
