package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StorageMemory   = "memory"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
)

type Config struct {
	Environment             string        `yaml:"environment"`
	AnalyticsURL            string        `yaml:"analyticsUrl"`
	SDKName                 string        `yaml:"sdkName"`
	SDKVersion              string        `yaml:"sdkVersion"`
	Storage                 string        `yaml:"storage"`
	DatabaseURL             string        `yaml:"databaseUrl"`
	RedisAddr               string        `yaml:"redisAddr"`
	UploadThreshold         int           `yaml:"uploadThreshold"`
	UploadMaxBatchSize      int           `yaml:"uploadMaxBatchSize"`
	MaxEvents               int           `yaml:"maxEvents"`
	UploadInterval          time.Duration `yaml:"uploadInterval"`
	SessionMaxAge           time.Duration `yaml:"sessionMaxAge"`
	TrackSessionEvents      bool          `yaml:"trackSessionEvents"`
	LiveEventTypes          []string      `yaml:"liveEventTypes"`
	ExcludedEventTypes      []string      `yaml:"excludedEventTypes"`
	ListenAddr              string        `yaml:"listenAddr"`
	IngestQueueName         string        `yaml:"ingestQueueName"`
	OrderQueueName          string        `yaml:"orderQueueName"`
	RejectEventTypes        []string      `yaml:"rejectEventTypes"`
	CORSAllowedOrigins      []string      `yaml:"corsAllowedOrigins"`
	RateLimitRequestsPerSec float64       `yaml:"rateLimitRequestsPerSec"`
	RateLimitBurst          int           `yaml:"rateLimitBurst"`
	Settlement              string        `yaml:"settlement"`
	OrderWebhookURL         string        `yaml:"orderWebhookUrl"`
	RetentionMinutes        int           `yaml:"retentionMinutes"`
	CleanupIntervalMinutes  int           `yaml:"cleanupIntervalMinutes"`
	S3Region                string        `yaml:"s3Region"`
	S3Endpoint              string        `yaml:"s3Endpoint"`
	S3AccessKey             string        `yaml:"s3AccessKey"`
	S3SecretKey             string        `yaml:"s3SecretKey"`
	S3Bucket                string        `yaml:"s3Bucket"`
	LogLevel                string        `yaml:"logLevel"`
	LogFormat               string        `yaml:"logFormat"`
}

// Load reads the environment and then applies BRAIN_CONFIG_FILE on top when it is set.
func Load() (Config, error) {
	cfg := FromEnv()
	path := strings.TrimSpace(os.Getenv("BRAIN_CONFIG_FILE"))
	if path == "" {
		return cfg, nil
	}
	if err := cfg.ApplyFile(path); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func FromEnv() Config {
	port := envOrDefault("STUB_PORT", "8090")

	return Config{
		Environment:             envOrDefault("BRAIN_ENVIRONMENT", "https://api.payments.dev.paltabrain.com"),
		AnalyticsURL:            envOrDefault("BRAIN_ANALYTICS_URL", "https://telemetry.paltabrain.com/v2/paltabrain"),
		SDKName:                 envOrDefault("BRAIN_SDK_NAME", "PaltaBrainSDK"),
		SDKVersion:              envOrDefault("BRAIN_SDK_VERSION", "3.2.0"),
		Storage:                 envOrDefault("BRAIN_STORAGE", StorageMemory),
		DatabaseURL:             databaseURL(),
		RedisAddr:               redisAddr(),
		UploadThreshold:         envOrDefaultInt("UPLOAD_THRESHOLD", 30),
		UploadMaxBatchSize:      envOrDefaultInt("UPLOAD_MAX_BATCH_SIZE", 100),
		MaxEvents:               envOrDefaultInt("UPLOAD_MAX_EVENTS", 1000),
		UploadInterval:          time.Duration(envOrDefaultInt("UPLOAD_INTERVAL_SECONDS", 30)) * time.Second,
		SessionMaxAge:           time.Duration(envOrDefaultInt("SESSION_MAX_AGE_MS", 5*60*1000)) * time.Millisecond,
		TrackSessionEvents:      envOrDefaultBool("TRACK_SESSION_EVENTS", true),
		LiveEventTypes:          parseCSV(os.Getenv("LIVE_EVENT_TYPES")),
		ExcludedEventTypes:      parseCSV(os.Getenv("EXCLUDED_EVENT_TYPES")),
		ListenAddr:              ":" + port,
		IngestQueueName:         envOrDefault("INGEST_QUEUE_NAME", "ingest-batches"),
		OrderQueueName:          envOrDefault("ORDER_QUEUE_NAME", "order-events"),
		RejectEventTypes:        parseCSV(os.Getenv("STUB_REJECT_EVENT_TYPES")),
		CORSAllowedOrigins:      parseOrigins(envOrDefault("CORS_ALLOWED_ORIGINS", "*")),
		RateLimitRequestsPerSec: envOrDefaultFloat("RATE_LIMIT_REQUESTS_PER_SEC", 25),
		RateLimitBurst:          envOrDefaultInt("RATE_LIMIT_BURST", 50),
		Settlement:              envOrDefault("STUB_SETTLEMENT", "instant"),
		OrderWebhookURL:         os.Getenv("ORDER_WEBHOOK_URL"),
		RetentionMinutes:        envOrDefaultInt("STUB_RETENTION_MINUTES", 60),
		CleanupIntervalMinutes:  envOrDefaultInt("STUB_CLEANUP_INTERVAL_MINUTES", 5),
		S3Region:                envOrDefault("S3_REGION", "us-east-1"),
		S3Endpoint:              os.Getenv("S3_ENDPOINT"),
		S3AccessKey:             envOrDefault("S3_ACCESS_KEY", ""),
		S3SecretKey:             envOrDefault("S3_SECRET_KEY", ""),
		S3Bucket:                envOrDefault("S3_BUCKET", ""),
		LogLevel:                envOrDefault("LOG_LEVEL", "info"),
		LogFormat:               envOrDefault("LOG_FORMAT", "text"),
	}
}

// ApplyFile overlays the non-zero fields of a YAML document onto cfg.
func (c *Config) ApplyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func databaseURL() string {
	if value := os.Getenv("DATABASE_URL"); value != "" {
		return value
	}

	host := envOrDefault("POSTGRES_HOST", "localhost")
	port := envOrDefault("POSTGRES_PORT", "5432")
	user := envOrDefault("POSTGRES_USER", "brain")
	password := envOrDefault("POSTGRES_PASSWORD", "brain")
	database := envOrDefault("POSTGRES_DB", "brain")

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, database)
}

func redisAddr() string {
	host := envOrDefault("REDIS_HOST", "localhost")
	port := envOrDefault("REDIS_PORT", "6379")
	return fmt.Sprintf("%s:%s", host, port)
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}

	var parsed int
	if _, err := fmt.Sscanf(value, "%d", &parsed); err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}

	var parsed float64
	if _, err := fmt.Sscanf(value, "%f", &parsed); err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseCSV(value string) []string {
	values := strings.Split(value, ",")
	result := make([]string, 0, len(values))
	for _, item := range values {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		result = append(result, trimmed)
	}
	return result
}

func parseOrigins(value string) []string {
	origins := parseCSV(value)
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
