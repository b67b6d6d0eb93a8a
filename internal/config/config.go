package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	Workdir     string
	Database    DatabaseConfig
	Warehouse   WarehouseConfig
	Artifacts   ArtifactConfig
	Browser     BrowserConfig
	Secrets     SecretsConfig
	Run         RunConfig
	RabbitMQ    RabbitMQConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL string
}

// WarehouseConfig holds the staged-bills warehouse connection settings
type WarehouseConfig struct {
	URL      string
	Database string
}

// ArtifactConfig holds object-store settings for run artifacts
type ArtifactConfig struct {
	Bucket        string
	Region        string
	Endpoint      string
	RetentionDays int
}

// BrowserConfig holds the remote WebDriver settings
type BrowserConfig struct {
	Endpoint string
}

// SecretsConfig holds credential decryption settings
type SecretsConfig struct {
	AESKey string
}

// RunConfig holds per-run orchestration settings
type RunConfig struct {
	DefaultTimeoutSeconds int
	MaxRetries            int
}

// RabbitMQConfig holds the optional run-summary bus settings
type RabbitMQConfig struct {
	URL               string
	SummaryExchange   string
	SummaryRoutingKey string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "utility-bill-worker"),
		Workdir:     getEnv("WORKDIR", "/app/workdir"),
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Warehouse: WarehouseConfig{
			URL:      getEnv("MONGO_URL", ""),
			Database: getEnv("MONGO_DATABASE", "billwarehouse"),
		},
		Artifacts: ArtifactConfig{
			Bucket:        getEnv("ARTIFACT_BUCKET", ""),
			Region:        getEnv("AWS_REGION", "us-east-1"),
			Endpoint:      getEnv("S3_ENDPOINT", ""),
			RetentionDays: getEnvAsInt("ARTIFACT_RETENTION_DAYS", 90),
		},
		Browser: BrowserConfig{
			Endpoint: getEnv("BROWSER_ENDPOINT", ""),
		},
		Secrets: SecretsConfig{
			AESKey: getEnv("AES_KEY", ""),
		},
		Run: RunConfig{
			DefaultTimeoutSeconds: getEnvAsInt("DEFAULT_TIMEOUT_SECONDS", 600),
			MaxRetries:            getEnvAsInt("MAX_RETRIES", 2),
		},
		RabbitMQ: RabbitMQConfig{
			URL:               getEnv("RABBITMQ_URL", ""),
			SummaryExchange:   getEnv("RABBITMQ_SUMMARY_EXCHANGE", "utility-bill.worker.events.exchange"),
			SummaryRoutingKey: getEnv("RABBITMQ_SUMMARY_ROUTING_KEY", "scrape.run.finished"),
		},
	}

	// Validate required fields
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if cfg.Secrets.AESKey == "" {
		return nil, fmt.Errorf("AES_KEY is required but not set in environment variables")
	}
	if cfg.Run.DefaultTimeoutSeconds <= 0 {
		return nil, fmt.Errorf("DEFAULT_TIMEOUT_SECONDS must be positive, got %d", cfg.Run.DefaultTimeoutSeconds)
	}
	if cfg.Run.MaxRetries < 0 {
		return nil, fmt.Errorf("MAX_RETRIES must not be negative, got %d", cfg.Run.MaxRetries)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
