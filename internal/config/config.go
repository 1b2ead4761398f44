package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the roomscan server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Inference InferenceConfig
	Limits    LimitsConfig
	Pipeline  PipelineConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type StorageConfig struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	Bucket       string
	UseSSL       bool
	UploadExpiry time.Duration
}

type InferenceConfig struct {
	URL           string
	InvokeTimeout time.Duration
}

type LimitsConfig struct {
	DailyUploads   int
	MaxUploadBytes int64
}

type PipelineConfig struct {
	ProjectionTTL     time.Duration
	WatchPollInterval time.Duration
	SweepInterval     time.Duration
	// StuckAfter is how long a job may sit in processing before the sweeper
	// re-drives its invocation. Zero disables the sweep, leaving stuck jobs
	// to operational tooling.
	StuckAfter time.Duration
}

// Load reads configuration from environment variables and returns a validated
// Config. Returns an error with a descriptive message if any required value is
// missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("ROOMSCAN_PORT", 8080),
			Env:  envString("ROOMSCAN_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Storage: StorageConfig{
			Endpoint:     os.Getenv("STORAGE_ENDPOINT"),
			AccessKey:    os.Getenv("STORAGE_ACCESS_KEY"),
			SecretKey:    os.Getenv("STORAGE_SECRET_KEY"),
			Bucket:       envString("STORAGE_BUCKET", "blueprints"),
			UseSSL:       envBool("STORAGE_USE_SSL", false),
			UploadExpiry: envDurationSecs("STORAGE_UPLOAD_EXPIRY_SECS", 15*time.Minute),
		},
		Inference: InferenceConfig{
			URL:           os.Getenv("INFERENCE_URL"),
			InvokeTimeout: envDurationSecs("INFERENCE_INVOKE_TIMEOUT_SECS", 30*time.Second),
		},
		Limits: LimitsConfig{
			DailyUploads:   envInt("ROOMSCAN_DAILY_UPLOAD_LIMIT", 25),
			MaxUploadBytes: int64(envInt("ROOMSCAN_MAX_UPLOAD_BYTES", 10<<20)),
		},
		Pipeline: PipelineConfig{
			ProjectionTTL:     envDuration("ROOMSCAN_PROJECTION_TTL", 24*time.Hour),
			WatchPollInterval: envDuration("ROOMSCAN_WATCH_POLL_INTERVAL", time.Second),
			SweepInterval:     envDuration("ROOMSCAN_SWEEP_INTERVAL", 5*time.Minute),
			StuckAfter:        envDuration("ROOMSCAN_SWEEP_STUCK_AFTER", 0),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Storage.Endpoint == "" {
		return fmt.Errorf("STORAGE_ENDPOINT is required")
	}
	if c.Storage.AccessKey == "" || c.Storage.SecretKey == "" {
		return fmt.Errorf("STORAGE_ACCESS_KEY and STORAGE_SECRET_KEY are required")
	}

	if c.Inference.URL == "" {
		return fmt.Errorf("INFERENCE_URL is required")
	}
	if !strings.HasPrefix(c.Inference.URL, "http://") && !strings.HasPrefix(c.Inference.URL, "https://") {
		return fmt.Errorf("INFERENCE_URL must start with http:// or https://, got %q", c.Inference.URL)
	}

	if c.Limits.DailyUploads <= 0 {
		return fmt.Errorf("ROOMSCAN_DAILY_UPLOAD_LIMIT must be positive, got %d", c.Limits.DailyUploads)
	}
	if c.Limits.MaxUploadBytes <= 0 {
		return fmt.Errorf("ROOMSCAN_MAX_UPLOAD_BYTES must be positive, got %d", c.Limits.MaxUploadBytes)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
