package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/platinummonkey/stash/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Registry configuration
	Registry RegistryConfig

	// Project configuration
	Project ProjectConfig

	// Import configuration
	Import ImportConfig

	// Daemon configuration
	Daemon DaemonConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// RegistryConfig holds remote registry settings
type RegistryConfig struct {
	URL     string
	Token   string
	Timeout time.Duration

	// Metadata cache
	CacheEntries int
	SnapshotTTL  time.Duration
	LatestTTL    time.Duration
}

// ProjectConfig holds local project layout settings
type ProjectConfig struct {
	// Root is the project directory everything lives under.
	Root string
	// DestinationDir is where assets import into, relative to Root.
	DestinationDir string
	// IndexDir is where the persisted tracking index lives, relative to
	// Root.
	IndexDir string
}

// DestinationRoot returns the absolute destination directory.
func (p ProjectConfig) DestinationRoot() string {
	return filepath.Join(p.Root, p.DestinationDir)
}

// IndexRoot returns the absolute index directory.
func (p ProjectConfig) IndexRoot() string {
	return filepath.Join(p.Root, p.IndexDir)
}

// ImportConfig holds orchestrator settings
type ImportConfig struct {
	MaxConcurrent int
}

// DaemonConfig holds status API and scheduling settings
type DaemonConfig struct {
	Host            string
	Port            string
	ShutdownTimeout time.Duration

	// Cron schedules for background sweeps
	UpdateCheckSchedule string
	DriftScanSchedule   string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Registry:      loadRegistryConfig(),
		Project:       loadProjectConfig(),
		Import:        loadImportConfig(),
		Daemon:        loadDaemonConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadRegistryConfig() RegistryConfig {
	return RegistryConfig{
		URL:          getEnv("STASH_REGISTRY_URL", "http://localhost:8080"),
		Token:        getEnv("STASH_REGISTRY_TOKEN", ""),
		Timeout:      getEnvDuration("STASH_REGISTRY_TIMEOUT", 60*time.Second),
		CacheEntries: getEnvInt("STASH_CACHE_ENTRIES", 1024),
		SnapshotTTL:  getEnvDuration("STASH_CACHE_SNAPSHOT_TTL", 1*time.Hour),
		LatestTTL:    getEnvDuration("STASH_CACHE_LATEST_TTL", 1*time.Minute),
	}
}

func loadProjectConfig() ProjectConfig {
	wd, _ := os.Getwd()
	return ProjectConfig{
		Root:           getEnv("STASH_PROJECT_ROOT", wd),
		DestinationDir: getEnv("STASH_DESTINATION_DIR", "Assets"),
		IndexDir:       getEnv("STASH_INDEX_DIR", ".stash/index"),
	}
}

func loadImportConfig() ImportConfig {
	return ImportConfig{
		MaxConcurrent: getEnvInt("STASH_MAX_CONCURRENT", 4),
	}
}

func loadDaemonConfig() DaemonConfig {
	return DaemonConfig{
		Host:                getEnv("STASH_HOST", "127.0.0.1"),
		Port:                getEnv("STASH_PORT", "7770"),
		ShutdownTimeout:     getEnvDuration("STASH_SHUTDOWN_TIMEOUT", 30*time.Second),
		UpdateCheckSchedule: getEnv("STASH_UPDATE_CHECK_SCHEDULE", "0 * * * *"),
		DriftScanSchedule:   getEnv("STASH_DRIFT_SCAN_SCHEDULE", "*/15 * * * *"),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("STASH_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("STASH_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("STASH_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("STASH_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("STASH_OTEL_SERVICE_NAME", "stash"),
		OTelServiceVersion: getEnv("STASH_OTEL_SERVICE_VERSION", "dev"),
		OTelInsecure:       getEnvBool("STASH_OTEL_INSECURE", true),
	}
}

// Validate checks the configuration for invalid combinations
func (c *Config) Validate() error {
	if c.Registry.URL == "" {
		return fmt.Errorf("registry URL must not be empty")
	}
	if c.Project.Root == "" {
		return fmt.Errorf("project root must not be empty")
	}
	if c.Import.MaxConcurrent <= 0 {
		return fmt.Errorf("max concurrent imports must be positive, got %d", c.Import.MaxConcurrent)
	}
	if c.Observability.OTelEnabled && c.Observability.OTelEndpoint == "" {
		return fmt.Errorf("OTel endpoint must be set when OTel is enabled")
	}
	return nil
}

// getEnv returns the environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as an int or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvBool returns the environment variable as a bool or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration returns the environment variable as a duration or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
