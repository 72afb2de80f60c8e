package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	Warehouse WarehouseConfig `json:"warehouse"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	Lookup    LookupConfig    `json:"lookup"`
	Litigator LitigatorConfig `json:"litigator"`
	Engine    EngineConfig    `json:"engine"`
	Logging   LoggingConfig   `json:"logging"`
}

// WarehouseConfig contains source warehouse (Snowflake) connection configuration
type WarehouseConfig struct {
	Account      string        `json:"account"`
	User         string        `json:"user"`
	Password     string        `json:"password"`
	Database     string        `json:"database"`
	Schema       string        `json:"schema"`
	Warehouse    string        `json:"warehouse"`
	Role         string        `json:"role"`
	MaxOpenConns int           `json:"max_open_conns"`
	MaxIdleConns int           `json:"max_idle_conns"`
	QueryTimeout time.Duration `json:"query_timeout"`
}

// DatabaseConfig contains durable store (Postgres) connection configuration
type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	PoolTimeout     time.Duration `json:"pool_timeout"`
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// LookupConfig contains identity-lookup service configuration
type LookupConfig struct {
	BaseURL      string        `json:"base_url"`
	AuthURL      string        `json:"auth_url"`
	ClientID     string        `json:"client_id"`
	ClientSecret string        `json:"client_secret"`
	Timeout      time.Duration `json:"timeout"`
}

// LitigatorConfig contains litigator registry service configuration
type LitigatorConfig struct {
	BaseURL string        `json:"base_url"`
	APIKey  string        `json:"api_key"`
	Timeout time.Duration `json:"timeout"`
}

// EngineConfig contains batch enrichment engine tuning
type EngineConfig struct {
	BatchSize        int           `json:"batch_size"`
	WorkerMin        int           `json:"worker_min"`
	WorkerMax        int           `json:"worker_max"`
	WorkerScaling    float64       `json:"worker_scaling"`
	MaxRetries       int           `json:"max_retries"`
	RetryBaseDelay   time.Duration `json:"retry_base_delay"`
	RetryMaxDelay    time.Duration `json:"retry_max_delay"`
	FailureThreshold int           `json:"failure_threshold"`
	SuccessThreshold int           `json:"success_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`
	CacheChunkSize   int           `json:"cache_chunk_size"`
	DNCChunkSize     int           `json:"dnc_chunk_size"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	config := &Config{
		Warehouse: WarehouseConfig{
			Account:      getEnvString("SNOWFLAKE_ACCOUNT", ""),
			User:         getEnvString("SNOWFLAKE_USER", ""),
			Password:     getEnvString("SNOWFLAKE_PASSWORD", ""),
			Database:     getEnvString("SNOWFLAKE_DATABASE", ""),
			Schema:       getEnvString("SNOWFLAKE_SCHEMA", "PUBLIC"),
			Warehouse:    getEnvString("SNOWFLAKE_WAREHOUSE", ""),
			Role:         getEnvString("SNOWFLAKE_ROLE", ""),
			MaxOpenConns: getEnvInt("SNOWFLAKE_MAX_OPEN_CONNS", 4),
			MaxIdleConns: getEnvInt("SNOWFLAKE_MAX_IDLE_CONNS", 2),
			QueryTimeout: getEnvDuration("SNOWFLAKE_QUERY_TIMEOUT", 5*time.Minute),
		},
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "enrichd"),
			User:            getEnvString("DB_USER", "enrichd"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			PoolTimeout:     getEnvDuration("DB_POOL_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Lookup: LookupConfig{
			BaseURL:      getEnvString("LOOKUP_BASE_URL", ""),
			AuthURL:      getEnvString("LOOKUP_AUTH_URL", ""),
			ClientID:     getEnvString("LOOKUP_CLIENT_ID", ""),
			ClientSecret: getEnvString("LOOKUP_CLIENT_SECRET", ""),
			Timeout:      getEnvDuration("LOOKUP_TIMEOUT", 30*time.Second),
		},
		Litigator: LitigatorConfig{
			BaseURL: getEnvString("LITIGATOR_BASE_URL", ""),
			APIKey:  getEnvString("LITIGATOR_API_KEY", ""),
			Timeout: getEnvDuration("LITIGATOR_TIMEOUT", 30*time.Second),
		},
		Engine: EngineConfig{
			BatchSize:        getEnvInt("ENGINE_BATCH_SIZE", 200),
			WorkerMin:        getEnvInt("ENGINE_WORKER_MIN", 2),
			WorkerMax:        getEnvInt("ENGINE_WORKER_MAX", 16),
			WorkerScaling:    getEnvFloat("ENGINE_WORKER_SCALING", 1.5),
			MaxRetries:       getEnvInt("ENGINE_MAX_RETRIES", 3),
			RetryBaseDelay:   getEnvDuration("ENGINE_RETRY_BASE_DELAY", 500*time.Millisecond),
			RetryMaxDelay:    getEnvDuration("ENGINE_RETRY_MAX_DELAY", 30*time.Second),
			FailureThreshold: getEnvInt("ENGINE_FAILURE_THRESHOLD", 5),
			SuccessThreshold: getEnvInt("ENGINE_SUCCESS_THRESHOLD", 2),
			RecoveryTimeout:  getEnvDuration("ENGINE_RECOVERY_TIMEOUT", 60*time.Second),
			CacheChunkSize:   getEnvInt("ENGINE_CACHE_CHUNK_SIZE", 900),
			DNCChunkSize:     getEnvInt("ENGINE_DNC_CHUNK_SIZE", 500),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Password == "" {
		return fmt.Errorf("database password is required")
	}
	if c.Warehouse.Account == "" {
		return fmt.Errorf("warehouse account is required")
	}
	if c.Lookup.BaseURL == "" {
		return fmt.Errorf("lookup service base URL is required")
	}
	if c.Engine.BatchSize <= 0 {
		return fmt.Errorf("engine batch size must be positive")
	}
	if c.Engine.WorkerMin > c.Engine.WorkerMax {
		return fmt.Errorf("engine worker min cannot exceed worker max")
	}
	return nil
}

// DatabaseURL returns the Postgres connection URL
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// RedisURL returns the Redis connection URL
func (c *Config) RedisURL() string {
	if c.Redis.Password != "" {
		return fmt.Sprintf("redis://:%s@%s:%d/%d",
			c.Redis.Password, c.Redis.Host, c.Redis.Port, c.Redis.DB)
	}
	return fmt.Sprintf("redis://%s:%d/%d", c.Redis.Host, c.Redis.Port, c.Redis.DB)
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
