package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

// Store and cache backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port            int
	LogLevel        string
	ShutdownTimeout time.Duration

	// Store
	StoreBackend      string // memory | postgres
	DatabaseURL       string
	MigrateOnStart    bool
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Cache
	CacheBackend  string // memory | redis
	CacheTTL      time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTimeout  time.Duration

	// Events
	AMQPURL      string // empty logs events instead of publishing them
	AMQPExchange string

	// Observability
	OTLPEndpoint string

	// Auth
	JWTSecret          string
	CORSAllowedOrigins []string

	// Statement status job
	StatementJobInterval time.Duration
}

// Load reads configuration from environment variables with defaults. When
// CONFIG_FILE names a file (YAML, JSON, TOML or .env), its keys fill in
// whatever the environment leaves unset.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}
	env := source{v: v}

	cfg := &Config{
		Port:            env.getInt("PORT", 8080),
		LogLevel:        env.get("LOG_LEVEL", "info"),
		ShutdownTimeout: env.getDuration("SHUTDOWN_TIMEOUT", 15*time.Second),

		StoreBackend:      strings.ToLower(env.get("STORE_BACKEND", BackendMemory)),
		DatabaseURL:       env.get("DATABASE_URL", ""),
		MigrateOnStart:    env.getBool("MIGRATE_ON_START", true),
		DBMaxOpenConns:    env.getInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:    env.getInt("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime: env.getDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),

		MaxRetries:     env.getInt("MAX_RETRIES", 3),
		InitialBackoff: env.getDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: env.getInt("MAX_CONCURRENCY", 50),

		CacheBackend:  strings.ToLower(env.get("CACHE_BACKEND", BackendMemory)),
		CacheTTL:      env.getDuration("CACHE_TTL", 5*time.Minute),
		RedisAddr:     env.get("REDIS_ADDR", "localhost:6379"),
		RedisPassword: env.get("REDIS_PASSWORD", ""),
		RedisDB:       env.getInt("REDIS_DB", 0),
		RedisTimeout:  env.getDuration("REDIS_TIMEOUT", 200*time.Millisecond),

		AMQPURL:      env.get("AMQP_URL", ""),
		AMQPExchange: env.get("AMQP_EXCHANGE", "ledger.events"),

		OTLPEndpoint: env.get("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		JWTSecret:          env.get("JWT_SECRET", ""),
		CORSAllowedOrigins: env.getList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),

		StatementJobInterval: env.getDuration("STATEMENT_JOB_INTERVAL", time.Hour),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var err error
	if c.Port <= 0 || c.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port))
	}
	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			err = multierr.Append(err, fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=postgres"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("STORE_BACKEND must be memory or postgres, got %q", c.StoreBackend))
	}
	switch c.CacheBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			err = multierr.Append(err, fmt.Errorf("REDIS_ADDR is required when CACHE_BACKEND=redis"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("CACHE_BACKEND must be memory or redis, got %q", c.CacheBackend))
	}
	if c.JWTSecret == "" {
		err = multierr.Append(err, fmt.Errorf("JWT_SECRET is required"))
	}
	if c.MaxConcurrency <= 0 {
		err = multierr.Append(err, fmt.Errorf("MAX_CONCURRENCY must be positive, got %d", c.MaxConcurrency))
	}
	if c.MaxRetries < 0 {
		err = multierr.Append(err, fmt.Errorf("MAX_RETRIES must not be negative, got %d", c.MaxRetries))
	}
	if c.StatementJobInterval <= 0 {
		err = multierr.Append(err, fmt.Errorf("STATEMENT_JOB_INTERVAL must be positive"))
	}
	return err
}

// source reads keys from the environment first, then from the config file.
type source struct {
	v *viper.Viper
}

func (s source) get(key, fallback string) string {
	if v := strings.TrimSpace(s.v.GetString(key)); v != "" {
		return v
	}
	return fallback
}

func (s source) getInt(key string, fallback int) int {
	if v := s.get(key, ""); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func (s source) getBool(key string, fallback bool) bool {
	if v := s.get(key, ""); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func (s source) getDuration(key string, fallback time.Duration) time.Duration {
	if v := s.get(key, ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// getList splits a comma separated value.
func (s source) getList(key string, fallback []string) []string {
	v := s.get(key, "")
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
