package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/wrench/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Cache         CacheConfig
	Analytics     AnalyticsConfig
	Catalog       CatalogConfig
	Archive       ArchiveConfig
	Auditor       AuditorConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds the Postgres connection settings. An empty URL runs
// the server on the in-memory stores.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// CacheConfig controls the effective permission set cache
type CacheConfig struct {
	Enabled       bool
	L1Size        int
	TTL           time.Duration
	RedisURL      string
	RedisPassword string
	RedisDB       int
}

// AnalyticsConfig holds the report engine tunables
type AnalyticsConfig struct {
	EventLimit          int
	ScanTimeout         time.Duration
	RoleWeight          float64
	CustomRoleWeight    float64
	ScoreCap            float64
	RarelyUsedThreshold int
}

// CatalogConfig points at an optional YAML catalog replacing the built-in one
type CatalogConfig struct {
	Path string
}

// ArchiveConfig controls retention and S3 archiving of RBAC log events
type ArchiveConfig struct {
	Enabled       bool
	Bucket        string
	Region        string
	Endpoint      string
	Prefix        string
	AccessKey     string
	SecretKey     string
	UsePathStyle  bool
	RetentionDays int
	Schedule      string
}

// AuditorConfig holds the governance check schedule
type AuditorConfig struct {
	CheckSchedule string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Cache:         loadCacheConfig(),
		Analytics:     loadAnalyticsConfig(),
		Catalog:       CatalogConfig{Path: getEnv("WRENCH_CATALOG_PATH", "")},
		Archive:       loadArchiveConfig(),
		Auditor:       AuditorConfig{CheckSchedule: getEnv("WRENCH_AUDITOR_SCHEDULE", "@hourly")},
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("WRENCH_HOST", "0.0.0.0"),
		Port:            getEnv("WRENCH_PORT", "8080"),
		ReadTimeout:     getEnvDuration("WRENCH_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("WRENCH_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("WRENCH_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("WRENCH_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("WRENCH_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("WRENCH_DATABASE_URL", ""),
		MaxOpenConns:    getEnvInt("WRENCH_DATABASE_MAX_OPEN_CONNS", 20),
		MaxIdleConns:    getEnvInt("WRENCH_DATABASE_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("WRENCH_DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:       getEnvBool("WRENCH_CACHE_ENABLED", true),
		L1Size:        getEnvInt("WRENCH_CACHE_L1_SIZE", 1024),
		TTL:           getEnvDuration("WRENCH_CACHE_TTL", 5*time.Minute),
		RedisURL:      getEnv("WRENCH_REDIS_URL", ""),
		RedisPassword: getEnv("WRENCH_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("WRENCH_REDIS_DB", 0),
	}
}

func loadAnalyticsConfig() AnalyticsConfig {
	return AnalyticsConfig{
		EventLimit:          getEnvInt("WRENCH_ANALYTICS_EVENT_LIMIT", 1000),
		ScanTimeout:         getEnvDuration("WRENCH_ANALYTICS_SCAN_TIMEOUT", 5*time.Second),
		RoleWeight:          getEnvFloat("WRENCH_ANALYTICS_ROLE_WEIGHT", 2),
		CustomRoleWeight:    getEnvFloat("WRENCH_ANALYTICS_CUSTOM_ROLE_WEIGHT", 5),
		ScoreCap:            getEnvFloat("WRENCH_ANALYTICS_SCORE_CAP", 100),
		RarelyUsedThreshold: getEnvInt("WRENCH_ANALYTICS_RARELY_USED_THRESHOLD", 3),
	}
}

func loadArchiveConfig() ArchiveConfig {
	return ArchiveConfig{
		Enabled:       getEnvBool("WRENCH_ARCHIVE_ENABLED", false),
		Bucket:        getEnv("WRENCH_ARCHIVE_S3_BUCKET", ""),
		Region:        getEnv("WRENCH_ARCHIVE_S3_REGION", "us-east-1"),
		Endpoint:      getEnv("WRENCH_ARCHIVE_S3_ENDPOINT", ""),
		Prefix:        getEnv("WRENCH_ARCHIVE_S3_PREFIX", "wrench"),
		AccessKey:     getEnv("WRENCH_ARCHIVE_S3_ACCESS_KEY", ""),
		SecretKey:     getEnv("WRENCH_ARCHIVE_S3_SECRET_KEY", ""),
		UsePathStyle:  getEnvBool("WRENCH_ARCHIVE_S3_USE_PATH_STYLE", false),
		RetentionDays: getEnvInt("WRENCH_ARCHIVE_RETENTION_DAYS", 365),
		Schedule:      getEnv("WRENCH_ARCHIVE_SCHEDULE", "@daily"),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("WRENCH_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("WRENCH_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("WRENCH_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("WRENCH_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("WRENCH_OTEL_SERVICE_NAME", "wrench"),
		OTelServiceVersion: getEnv("WRENCH_OTEL_SERVICE_VERSION", "dev"),
		OTelInsecure:       getEnvBool("WRENCH_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL != "" && c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database max open connections must be positive")
	}

	if c.Cache.Enabled && c.Cache.L1Size <= 0 {
		return fmt.Errorf("cache L1 size must be positive when the cache is enabled")
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive when the cache is enabled")
	}

	if c.Analytics.EventLimit <= 0 {
		return fmt.Errorf("analytics event limit must be positive")
	}
	if c.Analytics.ScanTimeout <= 0 {
		return fmt.Errorf("analytics scan timeout must be positive")
	}
	if c.Analytics.RoleWeight < 0 || c.Analytics.CustomRoleWeight < 0 {
		return fmt.Errorf("analytics weights must not be negative")
	}
	if c.Analytics.ScoreCap <= 0 {
		return fmt.Errorf("analytics score cap must be positive")
	}

	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			return fmt.Errorf("S3 bucket is required when archiving is enabled")
		}
		if c.Archive.RetentionDays <= 0 {
			return fmt.Errorf("archive retention days must be positive")
		}
	}
	if err := validateSchedule("archive", c.Archive.Schedule); err != nil {
		return err
	}
	if err := validateSchedule("auditor", c.Auditor.CheckSchedule); err != nil {
		return err
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// validateSchedule parses a cron spec the same way the auditor will
func validateSchedule(name, spec string) error {
	if spec == "" {
		return nil
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid %s schedule %q: %w", name, spec, err)
	}
	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
