// Package config provides environment configuration for the API server.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	NATS      NATSConfig
	Cache     CacheConfig
	Auth      AuthConfig
	LLM       LLMConfig
	Sync      SyncConfig
	RateLimit RateLimitConfig
	Log       LogConfig
	Tracing   TracingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"30s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"0s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// StoreConfig selects and configures the data store.
type StoreConfig struct {
	// Type is "memory" or "postgres".
	Type        string `envconfig:"STORE_TYPE" default:"memory"`
	PostgresDSN string `envconfig:"DATABASE_URL" default:""`
	AutoMigrate bool   `envconfig:"DATABASE_AUTO_MIGRATE" default:"true"`
	// SeedDemo loads a small demo catalog into the memory store.
	SeedDemo bool `envconfig:"SEED_DEMO_DATA" default:"false"`
}

// NATSConfig holds NATS connection settings for the realtime bus.
type NATSConfig struct {
	Enabled  bool   `envconfig:"NATS_ENABLED" default:"false"`
	URL      string `envconfig:"NATS_URL" default:"nats://localhost:4222"`
	CAFile   string `envconfig:"NATS_CA_FILE" default:""`
	CertFile string `envconfig:"NATS_CERT_FILE" default:""`
	KeyFile  string `envconfig:"NATS_KEY_FILE" default:""`
	Token    string `envconfig:"NATS_TOKEN" default:""`
}

// CacheConfig holds featured-list cache settings.
type CacheConfig struct {
	// Type is "memory" or "redis".
	Type          string        `envconfig:"CACHE_TYPE" default:"memory"`
	TTL           time.Duration `envconfig:"CACHE_TTL" default:"5m"`
	RedisHost     string        `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int           `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	KeyPrefix     string        `envconfig:"CACHE_KEY_PREFIX" default:"zora:featured"`
}

// AuthConfig holds JWT settings.
type AuthConfig struct {
	JWTSecret      string   `envconfig:"JWT_SECRET" default:"development-secret-change-in-production"`
	AllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:""`
}

// LLMConfig holds support auto-responder settings.
type LLMConfig struct {
	Provider        string `envconfig:"LLM_PROVIDER" default:"anthropic"`
	AnthropicAPIKey string `envconfig:"ANTHROPIC_API_KEY" default:""`
	OpenAIAPIKey    string `envconfig:"OPENAI_API_KEY" default:""`
	Model           string `envconfig:"LLM_MODEL" default:""`
	SupportReplies  bool   `envconfig:"SUPPORT_AUTO_REPLY" default:"true"`
}

// SyncConfig holds feed pagination settings.
type SyncConfig struct {
	ConversationPageSize int `envconfig:"CONVERSATION_PAGE_SIZE" default:"20"`
	MessagePageSize      int `envconfig:"MESSAGE_PAGE_SIZE" default:"50"`
}

// RateLimitConfig holds request rate limiting settings.
type RateLimitConfig struct {
	Requests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"120"`
	Window   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level      string `envconfig:"LOG_LEVEL" default:"info"`
	File       string `envconfig:"LOG_FILE" default:""`
	MaxSizeMB  int    `envconfig:"LOG_MAX_SIZE_MB" default:"100"`
	MaxBackups int    `envconfig:"LOG_MAX_BACKUPS" default:"5"`
	MaxAgeDays int    `envconfig:"LOG_MAX_AGE_DAYS" default:"30"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled  bool   `envconfig:"TRACING_ENABLED" default:"false"`
	Endpoint string `envconfig:"TRACING_ENDPOINT" default:"localhost:4318"`
}

// RedisAddress returns the Redis address in host:port format.
func (c *CacheConfig) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Store.Type == "postgres" && cfg.Store.PostgresDSN == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when STORE_TYPE=postgres")
	}
	if cfg.Sync.ConversationPageSize <= 0 || cfg.Sync.MessagePageSize <= 0 {
		return nil, fmt.Errorf("page sizes must be positive")
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
