package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/reviewforge/accessctl/pkg/observability"
	"github.com/reviewforge/accessctl/pkg/permissions"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Cache         CacheConfig
	Authz         AuthzConfig
	Monitoring    MonitoringConfig
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

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	PostgresURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// CacheConfig holds permission cache configuration. With an empty RedisURL
// the in-memory cache is used.
type CacheConfig struct {
	TTL           time.Duration
	RedisURL      string
	RedisPassword string
	RedisDB       int
}

// AuthzMode selects the authorization backend.
type AuthzMode string

const (
	// AuthzModeStore resolves permissions from the local SQL tables.
	AuthzModeStore AuthzMode = "store"
	// AuthzModeEdge delegates to remote edge functions.
	AuthzModeEdge AuthzMode = "edge"
)

// AuthzConfig holds authorization backend configuration.
type AuthzConfig struct {
	Mode           AuthzMode
	EdgeBaseURL    string
	EdgeServiceKey string
	RoleCacheSize  int
	RoleCacheTTL   time.Duration
}

// MonitoringConfig holds monitoring service configuration. Threshold fields
// at zero keep the built-in defaults.
type MonitoringConfig struct {
	PersistenceEnabled bool
	SensitiveResources []string

	CacheHitRateFloor        float64
	DenialRateCeiling        float64
	EdgeErrorRateCeiling     float64
	CheckLatencyCeilingMs    float64
	EdgeLatencyCeilingMs     float64
	UnauthorizedAttemptLimit int64
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Cache:         loadCacheConfig(),
		Authz:         loadAuthzConfig(),
		Monitoring:    loadMonitoringConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("ACCESSCTL_HOST", "0.0.0.0"),
		Port:            getEnv("ACCESSCTL_PORT", "8080"),
		ReadTimeout:     getEnvDuration("ACCESSCTL_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("ACCESSCTL_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("ACCESSCTL_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("ACCESSCTL_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("ACCESSCTL_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		PostgresURL:     getEnv("ACCESSCTL_POSTGRES_URL", ""),
		MaxOpenConns:    getEnvInt("ACCESSCTL_POSTGRES_MAX_CONNS", 25),
		MaxIdleConns:    getEnvInt("ACCESSCTL_POSTGRES_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("ACCESSCTL_POSTGRES_CONN_LIFETIME", 30*time.Minute),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:           getEnvDuration("ACCESSCTL_CACHE_TTL", permissions.DefaultTTL),
		RedisURL:      getEnv("ACCESSCTL_REDIS_URL", ""),
		RedisPassword: getEnv("ACCESSCTL_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("ACCESSCTL_REDIS_DB", 0),
	}
}

func loadAuthzConfig() AuthzConfig {
	return AuthzConfig{
		Mode:           AuthzMode(getEnv("ACCESSCTL_AUTHZ_MODE", string(AuthzModeStore))),
		EdgeBaseURL:    getEnv("ACCESSCTL_EDGE_BASE_URL", ""),
		EdgeServiceKey: getEnv("ACCESSCTL_EDGE_SERVICE_KEY", ""),
		RoleCacheSize:  getEnvInt("ACCESSCTL_ROLE_CACHE_SIZE", 256),
		RoleCacheTTL:   getEnvDuration("ACCESSCTL_ROLE_CACHE_TTL", time.Minute),
	}
}

func loadMonitoringConfig() MonitoringConfig {
	return MonitoringConfig{
		PersistenceEnabled: getEnvBool("ACCESSCTL_METRICS_PERSISTENCE", true),
		SensitiveResources: getEnvList("ACCESSCTL_SENSITIVE_RESOURCES", nil),

		CacheHitRateFloor:        getEnvFloat("ACCESSCTL_ALERT_HIT_RATE_FLOOR", 0),
		DenialRateCeiling:        getEnvFloat("ACCESSCTL_ALERT_DENIAL_RATE_CEILING", 0),
		EdgeErrorRateCeiling:     getEnvFloat("ACCESSCTL_ALERT_EDGE_ERROR_RATE_CEILING", 0),
		CheckLatencyCeilingMs:    getEnvFloat("ACCESSCTL_ALERT_CHECK_LATENCY_MS", 0),
		EdgeLatencyCeilingMs:     getEnvFloat("ACCESSCTL_ALERT_EDGE_LATENCY_MS", 0),
		UnauthorizedAttemptLimit: int64(getEnvInt("ACCESSCTL_ALERT_UNAUTHORIZED_LIMIT", 0)),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       observability.ParseLogLevel(getEnv("ACCESSCTL_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("ACCESSCTL_METRICS_ENABLED", true),
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

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}

	switch c.Authz.Mode {
	case AuthzModeStore:
		if c.Database.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for store authorization")
		}
	case AuthzModeEdge:
		if c.Authz.EdgeBaseURL == "" {
			return fmt.Errorf("edge base URL is required for edge authorization")
		}
		if c.Authz.EdgeServiceKey == "" {
			return fmt.Errorf("edge service key is required for edge authorization")
		}
	default:
		return fmt.Errorf("invalid authz mode: %s (must be store or edge)", c.Authz.Mode)
	}

	if c.Monitoring.PersistenceEnabled && c.Database.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required for metrics persistence")
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
		if n, err := strconv.Atoi(value); err == nil {
			return n
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
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList returns a comma-separated environment variable as a slice,
// trimming whitespace around each item.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// ThresholdOverridesSet reports whether any alert threshold override is
// configured.
func (m MonitoringConfig) ThresholdOverridesSet() bool {
	return m.CacheHitRateFloor > 0 || m.DenialRateCeiling > 0 ||
		m.EdgeErrorRateCeiling > 0 || m.CheckLatencyCeilingMs > 0 ||
		m.EdgeLatencyCeilingMs > 0 || m.UnauthorizedAttemptLimit > 0
}
