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
// Tokens are issued by Supabase; the backend only validates them.
type JWTConfig interface {
	GetSupabaseJWTSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
	GetRateLimitRPS() float64
	GetRateLimitBurst() int
}

// CronConfig provides the shared secret for cron-triggered endpoints.
type CronConfig interface {
	GetCronSecret() string
}

// MetaConfig provides settings for Meta webhook verification and the Graph API.
type MetaConfig interface {
	GetMetaAppSecret() string
	GetMetaVerifyToken() string
	GetMetaAccessToken() string
	GetMetaGraphURL() string
}

// ChatwootConfig provides settings for Chatwoot webhook verification.
type ChatwootConfig interface {
	GetChatwootHMACSecret() string
}

// SchedulerConfig provides settings for the asynq scheduler.
type SchedulerConfig interface {
	GetRedisURL() string
	GetAsynqQueue() string
	GetAsynqConcurrency() int
}

// DeliveryConfig provides settings for the lead delivery processor.
type DeliveryConfig interface {
	GetDeliveryBatchSize() int
	GetDeliveryMaxRetries() int
	GetDeliveryTimeout() time.Duration
	GetDeliveryClaimTTL() time.Duration
	GetDeliveryRunBudget() time.Duration
}

// EmbeddingConfig provides settings for the embedding API and its cache.
type EmbeddingConfig interface {
	GetEmbeddingAPIURL() string
	GetEmbeddingAPIKey() string
	GetEmbeddingModel() string
	GetEmbeddingCacheCapacity() int
	GetEmbeddingCacheTTL() time.Duration
	IsEmbeddingEnabled() bool
}

// GeminiConfig provides settings for answer generation.
type GeminiConfig interface {
	GetGeminiAPIKey() string
	GetGeminiModel() string
	IsGeminiEnabled() bool
}

// SMTPConfig provides settings for outbound email.
type SMTPConfig interface {
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetEmailFromName() string
	GetEmailFromAddress() string
	GetAlertEmailTo() string
	IsSMTPEnabled() bool
}

// MinIOConfig provides settings for MinIO S3-compatible storage.
type MinIOConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinIOBucketDocuments() string
	IsMinIOEnabled() bool
}

// SecretsConfig provides the key for at-rest encryption of integration secrets.
type SecretsConfig interface {
	GetIntegrationSecretKey() string
}

// LeadsConfig provides lead lifecycle settings.
type LeadsConfig interface {
	GetOfferExpiryDays() int
	GetDefaultPhoneRegion() string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                    string
	HTTPAddr               string
	DatabaseURL            string
	SupabaseJWTSecret      string
	CronSecret             string
	CORSAllowAll           bool
	CORSOrigins            []string
	CORSAllowCreds         bool
	RateLimitRPS           float64
	RateLimitBurst         int
	MetaAppSecret          string
	MetaVerifyToken        string
	MetaAccessToken        string
	MetaGraphURL           string
	ChatwootHMACSecret     string
	RedisURL               string
	AsynqQueue             string
	AsynqConcurrency       int
	DeliveryBatchSize      int
	DeliveryMaxRetries     int
	DeliveryTimeout        time.Duration
	DeliveryClaimTTL       time.Duration
	DeliveryRunBudget      time.Duration
	EmbeddingAPIURL        string
	EmbeddingAPIKey        string
	EmbeddingModel         string
	EmbeddingCacheCapacity int
	EmbeddingCacheTTL      time.Duration
	GeminiAPIKey           string
	GeminiModel            string
	SMTPHost               string
	SMTPPort               int
	SMTPUsername           string
	SMTPPassword           string
	EmailFromName          string
	EmailFromAddress       string
	AlertEmailTo           string
	MinIOEndpoint          string
	MinIOAccessKey         string
	MinIOSecretKey         string
	MinIOUseSSL            bool
	MinIOBucketDocuments   string
	IntegrationSecretKey   string
	OfferExpiryDays        int
	DefaultPhoneRegion     string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// JWTConfig implementation
func (c *Config) GetSupabaseJWTSecret() string { return c.SupabaseJWTSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string       { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool     { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string  { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool   { return c.CORSAllowCreds }
func (c *Config) GetRateLimitRPS() float64  { return c.RateLimitRPS }
func (c *Config) GetRateLimitBurst() int    { return c.RateLimitBurst }

// CronConfig implementation
func (c *Config) GetCronSecret() string { return c.CronSecret }

// MetaConfig implementation
func (c *Config) GetMetaAppSecret() string   { return c.MetaAppSecret }
func (c *Config) GetMetaVerifyToken() string { return c.MetaVerifyToken }
func (c *Config) GetMetaAccessToken() string { return c.MetaAccessToken }
func (c *Config) GetMetaGraphURL() string    { return c.MetaGraphURL }

// ChatwootConfig implementation
func (c *Config) GetChatwootHMACSecret() string { return c.ChatwootHMACSecret }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string      { return c.RedisURL }
func (c *Config) GetAsynqQueue() string    { return c.AsynqQueue }
func (c *Config) GetAsynqConcurrency() int { return c.AsynqConcurrency }

// DeliveryConfig implementation
func (c *Config) GetDeliveryBatchSize() int            { return c.DeliveryBatchSize }
func (c *Config) GetDeliveryMaxRetries() int           { return c.DeliveryMaxRetries }
func (c *Config) GetDeliveryTimeout() time.Duration    { return c.DeliveryTimeout }
func (c *Config) GetDeliveryClaimTTL() time.Duration   { return c.DeliveryClaimTTL }
func (c *Config) GetDeliveryRunBudget() time.Duration  { return c.DeliveryRunBudget }

// EmbeddingConfig implementation
func (c *Config) GetEmbeddingAPIURL() string           { return c.EmbeddingAPIURL }
func (c *Config) GetEmbeddingAPIKey() string           { return c.EmbeddingAPIKey }
func (c *Config) GetEmbeddingModel() string            { return c.EmbeddingModel }
func (c *Config) GetEmbeddingCacheCapacity() int       { return c.EmbeddingCacheCapacity }
func (c *Config) GetEmbeddingCacheTTL() time.Duration  { return c.EmbeddingCacheTTL }
func (c *Config) IsEmbeddingEnabled() bool             { return c.EmbeddingAPIURL != "" }

// GeminiConfig implementation
func (c *Config) GetGeminiAPIKey() string { return c.GeminiAPIKey }
func (c *Config) GetGeminiModel() string  { return c.GeminiModel }
func (c *Config) IsGeminiEnabled() bool   { return c.GeminiAPIKey != "" }

// SMTPConfig implementation
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }
func (c *Config) GetEmailFromName() string    { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string { return c.EmailFromAddress }
func (c *Config) GetAlertEmailTo() string     { return c.AlertEmailTo }
func (c *Config) IsSMTPEnabled() bool {
	return c.SMTPHost != "" && c.EmailFromAddress != ""
}

// MinIOConfig implementation
func (c *Config) GetMinIOEndpoint() string        { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string       { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string       { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool            { return c.MinIOUseSSL }
func (c *Config) GetMinIOBucketDocuments() string { return c.MinIOBucketDocuments }
func (c *Config) IsMinIOEnabled() bool            { return c.MinIOEndpoint != "" }

// SecretsConfig implementation
func (c *Config) GetIntegrationSecretKey() string { return c.IntegrationSecretKey }

// LeadsConfig implementation
func (c *Config) GetOfferExpiryDays() int        { return c.OfferExpiryDays }
func (c *Config) GetDefaultPhoneRegion() string  { return c.DefaultPhoneRegion }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                    getEnv("APP_ENV", "development"),
		HTTPAddr:               getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:            getEnv("DATABASE_URL", ""),
		SupabaseJWTSecret:      getEnv("SUPABASE_JWT_SECRET", ""),
		CronSecret:             getEnv("CRON_SECRET", ""),
		CORSAllowAll:           corsAllowAll,
		CORSOrigins:            corsOrigins,
		CORSAllowCreds:         strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		RateLimitRPS:           mustFloat64(getEnv("RATE_LIMIT_RPS", "10")),
		RateLimitBurst:         mustInt(getEnv("RATE_LIMIT_BURST", "20")),
		MetaAppSecret:          getEnv("META_APP_SECRET", ""),
		MetaVerifyToken:        getEnv("META_VERIFY_TOKEN", ""),
		MetaAccessToken:        getEnv("META_ACCESS_TOKEN", ""),
		MetaGraphURL:           getEnv("META_GRAPH_URL", "https://graph.facebook.com/v19.0"),
		ChatwootHMACSecret:     getEnv("CHATWOOT_HMAC_SECRET", ""),
		RedisURL:               getEnv("REDIS_URL", "redis://localhost:6379/0"),
		AsynqQueue:             getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:       mustInt(getEnv("ASYNQ_CONCURRENCY", "5")),
		DeliveryBatchSize:      mustInt(getEnv("DELIVERY_BATCH_SIZE", "20")),
		DeliveryMaxRetries:     mustInt(getEnv("DELIVERY_MAX_RETRIES", "3")),
		DeliveryTimeout:        mustDuration(getEnv("DELIVERY_TIMEOUT", "10s")),
		DeliveryClaimTTL:       mustDuration(getEnv("DELIVERY_CLAIM_TTL", "5m")),
		DeliveryRunBudget:      mustDuration(getEnv("DELIVERY_RUN_BUDGET", "50s")),
		EmbeddingAPIURL:        getEnv("EMBEDDING_API_URL", ""),
		EmbeddingAPIKey:        getEnv("EMBEDDING_API_KEY", ""),
		EmbeddingModel:         getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingCacheCapacity: mustInt(getEnv("EMBEDDING_CACHE_CAPACITY", "500")),
		EmbeddingCacheTTL:      mustDuration(getEnv("EMBEDDING_CACHE_TTL", "1h")),
		GeminiAPIKey:           getEnv("GEMINI_API_KEY", ""),
		GeminiModel:            getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		SMTPHost:               getEnv("SMTP_HOST", ""),
		SMTPPort:               mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:           getEnv("SMTP_USERNAME", ""),
		SMTPPassword:           getEnv("SMTP_PASSWORD", ""),
		EmailFromName:          getEnv("EMAIL_FROM_NAME", "Converzia"),
		EmailFromAddress:       getEnv("EMAIL_FROM_ADDRESS", ""),
		AlertEmailTo:           getEnv("ALERT_EMAIL_TO", ""),
		MinIOEndpoint:          getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:         getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:         getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:            strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinIOBucketDocuments:   getEnv("MINIO_BUCKET_DOCUMENTS", "tenant-documents"),
		IntegrationSecretKey:   getEnv("INTEGRATION_SECRET_KEY", ""),
		OfferExpiryDays:        mustInt(getEnv("OFFER_EXPIRY_DAYS", "14")),
		DefaultPhoneRegion:     getEnv("DEFAULT_PHONE_REGION", "ES"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.SupabaseJWTSecret == "" {
		return nil, fmt.Errorf("SUPABASE_JWT_SECRET is required")
	}
	if cfg.CronSecret == "" {
		return nil, fmt.Errorf("CRON_SECRET is required")
	}
	if cfg.IntegrationSecretKey == "" {
		return nil, fmt.Errorf("INTEGRATION_SECRET_KEY is required")
	}
	if cfg.DeliveryBatchSize <= 0 {
		return nil, fmt.Errorf("DELIVERY_BATCH_SIZE must be positive")
	}
	if cfg.DeliveryMaxRetries <= 0 {
		return nil, fmt.Errorf("DELIVERY_MAX_RETRIES must be positive")
	}
	if cfg.EmbeddingCacheCapacity <= 0 {
		return nil, fmt.Errorf("EMBEDDING_CACHE_CAPACITY must be positive")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
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
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return result
}

func mustFloat64(value string) float64 {
	result, err := strconv.ParseFloat(value, 64)
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
