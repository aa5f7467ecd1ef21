package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Security  SecurityConfig  `json:"security"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Ranking   RankingConfig   `json:"ranking"`
	Logging   LoggingConfig   `json:"logging"`
	Cache     CacheConfig     `json:"cache"`
	Kafka     KafkaConfig     `json:"kafka"`
	Tracing   TracingConfig   `json:"tracing"`
	Features  FeaturesConfig  `json:"features"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port            string `json:"port"`
	Host            string `json:"host"`
	EnableTLS       bool   `json:"enable_tls"`
	CertFile        string `json:"cert_file"`
	KeyFile         string `json:"key_file"`
	ShutdownTimeout int    `json:"shutdown_timeout"` // in seconds
}

// DatabaseConfig holds database-related configuration.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	// Max request body size in bytes (default: 10MB)
	MaxRequestBodySize int64 `json:"max_request_body_size"`
	// Allowed CORS origins (comma-separated)
	AllowedOrigins string `json:"allowed_origins"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool `json:"enabled"`
	Rate    int  `json:"rate"`
	Window  int  `json:"window"` // in seconds
}

// RankingConfig holds ranking engine configuration.
type RankingConfig struct {
	MinSpendForPerkConsideration decimal.Decimal `json:"min_spend_for_perk_consideration"`
	Workers                      int             `json:"workers"` // used when parallel scoring is enabled
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // json, text
	Output string `json:"output"` // stdout, stderr, file path
}

// CacheConfig holds ranking cache configuration. An empty RedisAddr selects
// the in-memory cache.
type CacheConfig struct {
	Enabled       bool   `json:"enabled"`
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
	Namespace     string `json:"namespace"`   // prefix for redis keys
	MaxEntries    int    `json:"max_entries"` // in-memory cache only
	TTL           int    `json:"ttl"`         // in seconds
}

// KafkaConfig holds the event sink configuration.
type KafkaConfig struct {
	Enabled bool   `json:"enabled"`
	Brokers string `json:"brokers"` // comma-separated
	Topic   string `json:"topic"`
}

// TracingConfig holds OpenTelemetry configuration.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint"`
	ServiceName string `json:"service_name"`
	Environment string `json:"environment"`
}

// FeaturesConfig holds the initial state of feature flags.
type FeaturesConfig struct {
	EventHooks      bool `json:"event_hooks"`
	ParallelScoring bool `json:"parallel_scoring"`
}

// LoadConfig loads configuration from a .env file, environment variables
// and/or a JSON config file. Environment variables take precedence over
// config file values.
func LoadConfig(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := Default()

	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := overrideFromEnv(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			ShutdownTimeout: 30,
		},
		Database: DatabaseConfig{
			Path: "./offer_ranking.db",
		},
		Security: SecurityConfig{
			MaxRequestBodySize: 10 << 20, // 10MB default
			AllowedOrigins:     "*",
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Rate:    100,
			Window:  60,
		},
		Ranking: RankingConfig{
			MinSpendForPerkConsideration: decimal.NewFromInt(100),
			Workers:                      4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Cache: CacheConfig{
			Enabled:    true,
			Namespace:  "offer-ranking:",
			MaxEntries: 10000,
			TTL:        300,
		},
		Kafka: KafkaConfig{
			Topic: "offer-ranking-events",
		},
		Tracing: TracingConfig{
			Endpoint:    "http://localhost:14268/api/traces",
			ServiceName: "offer-ranking-api",
			Environment: "development",
		},
		Features: FeaturesConfig{
			EventHooks: true,
		},
	}
}

// loadFromFile loads configuration from a JSON file.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, cfg)
}

// overrideFromEnv overrides configuration with environment variables.
func overrideFromEnv(cfg *Config) error {
	setString("SERVER_PORT", &cfg.Server.Port)
	setString("SERVER_HOST", &cfg.Server.Host)
	setBool("SERVER_ENABLE_TLS", &cfg.Server.EnableTLS)
	setString("SERVER_CERT_FILE", &cfg.Server.CertFile)
	setString("SERVER_KEY_FILE", &cfg.Server.KeyFile)
	setInt("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	setString("DATABASE_PATH", &cfg.Database.Path)

	if size := os.Getenv("MAX_REQUEST_BODY_SIZE"); size != "" {
		if n, err := strconv.ParseInt(size, 10, 64); err == nil {
			cfg.Security.MaxRequestBodySize = n
		}
	}
	setString("ALLOWED_ORIGINS", &cfg.Security.AllowedOrigins)

	setBool("RATE_LIMIT_ENABLED", &cfg.RateLimit.Enabled)
	setInt("RATE_LIMIT_RATE", &cfg.RateLimit.Rate)
	setInt("RATE_LIMIT_WINDOW", &cfg.RateLimit.Window)

	if minSpend := os.Getenv("RANKING_MIN_SPEND_FOR_PERK"); minSpend != "" {
		d, err := decimal.NewFromString(minSpend)
		if err != nil {
			return fmt.Errorf("invalid RANKING_MIN_SPEND_FOR_PERK: %w", err)
		}
		cfg.Ranking.MinSpendForPerkConsideration = d
	}
	setInt("RANKING_WORKERS", &cfg.Ranking.Workers)

	setString("LOG_LEVEL", &cfg.Logging.Level)
	setString("LOG_FORMAT", &cfg.Logging.Format)
	setString("LOG_OUTPUT", &cfg.Logging.Output)

	setBool("CACHE_ENABLED", &cfg.Cache.Enabled)
	setString("REDIS_ADDR", &cfg.Cache.RedisAddr)
	setString("REDIS_PASSWORD", &cfg.Cache.RedisPassword)
	setInt("REDIS_DB", &cfg.Cache.RedisDB)
	setString("CACHE_NAMESPACE", &cfg.Cache.Namespace)
	setInt("CACHE_MAX_ENTRIES", &cfg.Cache.MaxEntries)
	setInt("CACHE_TTL", &cfg.Cache.TTL)

	setBool("KAFKA_ENABLED", &cfg.Kafka.Enabled)
	setString("KAFKA_BROKERS", &cfg.Kafka.Brokers)
	setString("KAFKA_TOPIC", &cfg.Kafka.Topic)

	setBool("TRACING_ENABLED", &cfg.Tracing.Enabled)
	setString("JAEGER_ENDPOINT", &cfg.Tracing.Endpoint)
	setString("SERVICE_NAME", &cfg.Tracing.ServiceName)
	setString("ENVIRONMENT", &cfg.Tracing.Environment)

	setBool("FEATURE_EVENT_HOOKS", &cfg.Features.EventHooks)
	setBool("FEATURE_PARALLEL_SCORING", &cfg.Features.ParallelScoring)

	return nil
}

func setString(key string, dst *string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func setBool(key string, dst *bool) {
	if value := os.Getenv(key); value != "" {
		*dst = strings.ToLower(value) == "true" || value == "1"
	}
}

func setInt(key string, dst *int) {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			*dst = i
		}
	}
}

// CacheTTL returns the cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTL) * time.Second
}

// KafkaBrokers splits the comma-separated broker list.
func (c *Config) KafkaBrokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.Kafka.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Server.EnableTLS && (c.Server.CertFile == "" || c.Server.KeyFile == "") {
		return fmt.Errorf("cert file and key file are required when TLS is enabled")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Rate <= 0 {
			return fmt.Errorf("rate limit rate must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
	}
	if c.Ranking.MinSpendForPerkConsideration.IsNegative() {
		return fmt.Errorf("ranking min spend for perk consideration must be non-negative")
	}
	if c.Ranking.Workers <= 0 {
		return fmt.Errorf("ranking workers must be positive")
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive")
	}
	if c.Kafka.Enabled {
		if len(c.KafkaBrokers()) == 0 {
			return fmt.Errorf("kafka brokers are required when kafka is enabled")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka topic is required when kafka is enabled")
		}
	}
	return nil
}
