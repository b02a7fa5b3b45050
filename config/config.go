// Package config loads engine configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all engine configuration.
type Config struct {
	Service   ServiceConfig
	Store     StoreConfig
	Plugin    PluginConfig
	Telemetry TelemetryConfig
}

// ServiceConfig holds process-level settings.
type ServiceConfig struct {
	Name      string
	LogLevel  string
	LogFormat string
}

// StoreConfig selects and configures the trace/evidence persistence backend.
type StoreConfig struct {
	Backend        string // "memory", "postgres", "file"
	PostgresDSN    string
	TraceDir       string
	RedisAddr      string
	RedisStreamTTL time.Duration
}

// PluginConfig governs subprocess lifecycle defaults (§4.8).
type PluginConfig struct {
	ManifestDir       string
	HandshakeTimeout  time.Duration
	PingInterval      time.Duration
	PingFailureLimit  int
	ShutdownGrace     time.Duration
	MaxInstances      int
	RestartBackoffMax time.Duration
	HotReloadWatch    bool
}

// TelemetryConfig governs the ambient metrics stack.
type TelemetryConfig struct {
	EnableMetrics bool
	MetricsPort   int
}

// Load reads configuration from the environment; every setting has a sane
// development default.
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:      serviceName,
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "text"),
		},
		Store: StoreConfig{
			Backend:        getEnv("STORE_BACKEND", "memory"),
			PostgresDSN:    getEnv("POSTGRES_DSN", ""),
			TraceDir:       getEnv("TRACE_DIR", "./traces"),
			RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
			RedisStreamTTL: getEnvDuration("REDIS_STREAM_TTL", 24*time.Hour),
		},
		Plugin: PluginConfig{
			ManifestDir:       getEnv("PLUGIN_MANIFEST_DIR", "./plugins"),
			HandshakeTimeout:  getEnvDuration("PLUGIN_HANDSHAKE_TIMEOUT", 5*time.Second),
			PingInterval:      getEnvDuration("PLUGIN_PING_INTERVAL", 10*time.Second),
			PingFailureLimit:  getEnvInt("PLUGIN_PING_FAILURE_LIMIT", 3),
			ShutdownGrace:     getEnvDuration("PLUGIN_SHUTDOWN_GRACE", 5*time.Second),
			MaxInstances:      getEnvInt("PLUGIN_MAX_INSTANCES", 4),
			RestartBackoffMax: getEnvDuration("PLUGIN_RESTART_BACKOFF_MAX", 60*time.Second),
			HotReloadWatch:    getEnvBool("PLUGIN_HOT_RELOAD", true),
		},
		Telemetry: TelemetryConfig{
			EnableMetrics: getEnvBool("ENABLE_METRICS", true),
			MetricsPort:   getEnvInt("METRICS_PORT", 9090),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks for configuration inconsistencies that would otherwise
// surface as confusing runtime errors.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory", "postgres", "file":
	default:
		return fmt.Errorf("invalid store backend: %s", c.Store.Backend)
	}
	if c.Store.Backend == "postgres" && c.Store.PostgresDSN == "" {
		return fmt.Errorf("postgres store backend requires POSTGRES_DSN")
	}
	if c.Plugin.MaxInstances < 1 {
		return fmt.Errorf("plugin max_instances must be >= 1")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
