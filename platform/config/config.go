// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// SchedulerConfig provides Redis and asynq settings.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// WhopConfig provides settings for the Whop messaging API.
type WhopConfig interface {
	GetWhopAPIURL() string
	GetWhopAPIKey() string
	IsWhopEnabled() bool
}

// WebhookConfig provides settings for the inbound Whop webhook.
type WebhookConfig interface {
	GetWhopWebhookSecret() string
	GetWebhookDedupTTL() time.Duration
	GetWebhookRatePerSecond() float64
	GetWebhookRateBurst() int
}

// AMQPConfig provides settings for the RabbitMQ event relay.
type AMQPConfig interface {
	GetAMQPURL() string
	GetAMQPExchange() string
	IsAMQPEnabled() bool
}

// StorageConfig provides settings for MinIO S3-compatible storage.
type StorageConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetFlowArchiveBucket() string
	IsMinIOEnabled() bool
}

// ConversationConfig provides settings for the conversation engine.
type ConversationConfig interface {
	GetAppBaseURL() string
	GetHandoffMessageTemplate() string
	GetConversationIdleTimeout() time.Duration
	GetIdleSweepInterval() time.Duration
	GetOutboxPollInterval() time.Duration
	GetOutboxMaxAttempts() int
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                     string
	HTTPAddr                string
	DatabaseURL             string
	JWTAccessSecret         string
	CORSAllowAll            bool
	CORSOrigins             []string
	CORSAllowCreds          bool
	AppBaseURL              string
	RedisURL                string
	RedisTLSInsecure        bool
	AsynqQueueName          string
	AsynqConcurrency        int
	WhopAPIURL              string
	WhopAPIKey              string
	WhopWebhookSecret       string
	WebhookDedupTTL         time.Duration
	WebhookRatePerSecond    float64
	WebhookRateBurst        int
	AMQPURL                 string
	AMQPExchange            string
	MinIOEndpoint           string
	MinIOAccessKey          string
	MinIOSecretKey          string
	MinIOUseSSL             bool
	FlowArchiveBucket       string
	HandoffMessageTemplate  string
	ConversationIdleTimeout time.Duration
	IdleSweepInterval       time.Duration
	OutboxPollInterval      time.Duration
	OutboxMaxAttempts       int
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

// WhopConfig implementation
func (c *Config) GetWhopAPIURL() string { return c.WhopAPIURL }
func (c *Config) GetWhopAPIKey() string { return c.WhopAPIKey }
func (c *Config) IsWhopEnabled() bool   { return c.WhopAPIURL != "" && c.WhopAPIKey != "" }

// WebhookConfig implementation
func (c *Config) GetWhopWebhookSecret() string      { return c.WhopWebhookSecret }
func (c *Config) GetWebhookDedupTTL() time.Duration { return c.WebhookDedupTTL }
func (c *Config) GetWebhookRatePerSecond() float64  { return c.WebhookRatePerSecond }
func (c *Config) GetWebhookRateBurst() int          { return c.WebhookRateBurst }

// AMQPConfig implementation
func (c *Config) GetAMQPURL() string      { return c.AMQPURL }
func (c *Config) GetAMQPExchange() string { return c.AMQPExchange }
func (c *Config) IsAMQPEnabled() bool     { return c.AMQPURL != "" }

// StorageConfig implementation
func (c *Config) GetMinIOEndpoint() string     { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string    { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string    { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool         { return c.MinIOUseSSL }
func (c *Config) GetFlowArchiveBucket() string { return c.FlowArchiveBucket }
func (c *Config) IsMinIOEnabled() bool         { return c.MinIOEndpoint != "" }

// ConversationConfig implementation
func (c *Config) GetAppBaseURL() string                     { return c.AppBaseURL }
func (c *Config) GetHandoffMessageTemplate() string         { return c.HandoffMessageTemplate }
func (c *Config) GetConversationIdleTimeout() time.Duration { return c.ConversationIdleTimeout }
func (c *Config) GetIdleSweepInterval() time.Duration       { return c.IdleSweepInterval }
func (c *Config) GetOutboxPollInterval() time.Duration      { return c.OutboxPollInterval }
func (c *Config) GetOutboxMaxAttempts() int                 { return c.OutboxMaxAttempts }

const defaultHandoffTemplate = "Thanks [USERNAME]! Your strategy session is ready. Continue here: [LINK]"

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:3000"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                     getEnv("APP_ENV", "development"),
		HTTPAddr:                getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:             getEnv("DATABASE_URL", ""),
		JWTAccessSecret:         getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:            corsAllowAll,
		CORSOrigins:             corsOrigins,
		CORSAllowCreds:          strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		AppBaseURL:              strings.TrimRight(getEnv("APP_BASE_URL", "http://localhost:3000"), "/"),
		RedisURL:                getEnv("REDIS_URL", ""),
		RedisTLSInsecure:        strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:          getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:        mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		WhopAPIURL:              getEnv("WHOP_API_URL", "https://api.whop.com/api/v5"),
		WhopAPIKey:              getEnv("WHOP_API_KEY", ""),
		WhopWebhookSecret:       getEnv("WHOP_WEBHOOK_SECRET", ""),
		WebhookDedupTTL:         mustDuration(getEnv("WEBHOOK_DEDUP_TTL", "24h")),
		WebhookRatePerSecond:    mustFloat(getEnv("WEBHOOK_RATE_PER_SECOND", "20")),
		WebhookRateBurst:        mustInt(getEnv("WEBHOOK_RATE_BURST", "40")),
		AMQPURL:                 getEnv("AMQP_URL", ""),
		AMQPExchange:            getEnv("AMQP_EXCHANGE", "funnel.events"),
		MinIOEndpoint:           getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:          getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:          getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:             strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		FlowArchiveBucket:       getEnv("MINIO_BUCKET_FLOW_ARCHIVE", "funnel-flows"),
		HandoffMessageTemplate:  getEnv("HANDOFF_MESSAGE_TEMPLATE", defaultHandoffTemplate),
		ConversationIdleTimeout: mustDuration(getEnv("CONVERSATION_IDLE_TIMEOUT", "72h")),
		IdleSweepInterval:       mustDuration(getEnv("CONVERSATION_IDLE_SWEEP_INTERVAL", "15m")),
		OutboxPollInterval:      mustDuration(getEnv("OUTBOX_POLL_INTERVAL", "2s")),
		OutboxMaxAttempts:       mustInt(getEnv("OUTBOX_MAX_ATTEMPTS", "5")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	if cfg.OutboxMaxAttempts < 1 {
		return nil, fmt.Errorf("OUTBOX_MAX_ATTEMPTS must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
