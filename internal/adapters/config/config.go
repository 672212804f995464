package config

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const envPrefix = "PULSEFIT"

// APIConfig holds the REST gateway configuration.
// Note: fields must be exported to be unmarshalled by Viper.
type APIConfig struct {
	BaseURL             string `mapstructure:"base_url"`
	Prefix              string `mapstructure:"prefix"` // defaults to /api/v1
	TimeoutSeconds      int    `mapstructure:"timeout_seconds"`
	RetryMax            int    `mapstructure:"retry_max"`
	RetryBaseDelayMs    int    `mapstructure:"retry_base_delay_ms"`
	DefaultCacheTTLSecs int    `mapstructure:"default_cache_ttl_seconds"`
	RefreshPath         string `mapstructure:"refresh_path"` // defaults to /auth/refresh
}

// Timeout returns the per-request timeout with its 30s default applied.
func (c APIConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RetryBaseDelay returns the first retry delay with its 1s default applied.
func (c APIConfig) RetryBaseDelay() time.Duration {
	if c.RetryBaseDelayMs <= 0 {
		return time.Second
	}
	return time.Duration(c.RetryBaseDelayMs) * time.Millisecond
}

// DefaultCacheTTL returns the cache TTL with its 5m default applied.
func (c APIConfig) DefaultCacheTTL() time.Duration {
	if c.DefaultCacheTTLSecs <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.DefaultCacheTTLSecs) * time.Second
}

// CacheConfig selects the response-cache backend.
type CacheConfig struct {
	Backend string `mapstructure:"backend"` // "memory" (default) or "redis"
}

// RedisConfig holds connection settings for the optional shared cache.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"` // Optional
	DB       int    `mapstructure:"db"`       // Optional
}

// RealtimeConfig holds the websocket channel configuration.
type RealtimeConfig struct {
	URL                     string `mapstructure:"url"`
	ConnectTimeoutSeconds   int    `mapstructure:"connect_timeout_seconds"`
	HeartbeatSeconds        int    `mapstructure:"heartbeat_seconds"`
	HealthCheckTimeoutSecs  int    `mapstructure:"health_check_timeout_seconds"`
	ReconnectBaseDelayMs    int    `mapstructure:"reconnect_base_delay_ms"`
	ReconnectMaxDelayMs     int    `mapstructure:"reconnect_max_delay_ms"`
	ReconnectMaxAttempts    int    `mapstructure:"reconnect_max_attempts"`
	WriteTimeoutSeconds     int    `mapstructure:"write_timeout_seconds"`
	OutboundQueueLimit      int    `mapstructure:"outbound_queue_limit"`
}

// ConnectTimeout returns the handshake timeout with its 15s default applied.
func (c RealtimeConfig) ConnectTimeout() time.Duration {
	if c.ConnectTimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// HeartbeatInterval returns the ping cadence with its 30s default applied.
func (c RealtimeConfig) HeartbeatInterval() time.Duration {
	if c.HeartbeatSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// HealthCheckTimeout returns the pong wait with its 5s default applied.
func (c RealtimeConfig) HealthCheckTimeout() time.Duration {
	if c.HealthCheckTimeoutSecs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.HealthCheckTimeoutSecs) * time.Second
}

// ReconnectBaseDelay returns the first reconnect delay, default 1s.
func (c RealtimeConfig) ReconnectBaseDelay() time.Duration {
	if c.ReconnectBaseDelayMs <= 0 {
		return time.Second
	}
	return time.Duration(c.ReconnectBaseDelayMs) * time.Millisecond
}

// ReconnectMaxDelay returns the reconnect delay cap, default 30s.
func (c RealtimeConfig) ReconnectMaxDelay() time.Duration {
	if c.ReconnectMaxDelayMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.ReconnectMaxDelayMs) * time.Millisecond
}

// MaxReconnectAttempts returns the reconnect attempt bound, default 10.
func (c RealtimeConfig) MaxReconnectAttempts() int {
	if c.ReconnectMaxAttempts <= 0 {
		return 10
	}
	return c.ReconnectMaxAttempts
}

// WriteTimeout returns the per-frame write timeout, default 10s.
func (c RealtimeConfig) WriteTimeout() time.Duration {
	if c.WriteTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

// StorageConfig holds on-device persistence settings.
type StorageConfig struct {
	TokenPath string `mapstructure:"token_path"`
}

// ConnectivityConfig holds the reachability probe settings.
type ConnectivityConfig struct {
	ProbePath            string `mapstructure:"probe_path"` // defaults to /healthz
	ProbeIntervalSeconds int    `mapstructure:"probe_interval_seconds"`
	ProbeTimeoutSeconds  int    `mapstructure:"probe_timeout_seconds"`
}

// ProbeInterval returns the probe cadence with its 10s default applied.
func (c ConnectivityConfig) ProbeInterval() time.Duration {
	if c.ProbeIntervalSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.ProbeIntervalSeconds) * time.Second
}

// ProbeTimeout returns the per-probe timeout with its 3s default applied.
func (c ConnectivityConfig) ProbeTimeout() time.Duration {
	if c.ProbeTimeoutSeconds <= 0 {
		return 3 * time.Second
	}
	return time.Duration(c.ProbeTimeoutSeconds) * time.Second
}

// LogConfig holds logging-related configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// AppConfig holds application identity settings.
type AppConfig struct {
	ServiceName   string `mapstructure:"service_name"`
	ClientVersion string `mapstructure:"client_version"`
	MetricsPort   int    `mapstructure:"metrics_port"`
}

// Version returns the client version stamped onto every request, with its
// "dev" default applied.
func (c AppConfig) Version() string {
	if c.ClientVersion == "" {
		return "dev"
	}
	return c.ClientVersion
}

// Config holds all configuration for the client.
type Config struct {
	API          APIConfig          `mapstructure:"api"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Realtime     RealtimeConfig     `mapstructure:"realtime"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
	Log          LogConfig          `mapstructure:"log"`
	App          AppConfig          `mapstructure:"app"`
}

// Provider defines an interface for accessing client configuration.
// This allows for easy mocking in tests and decouples the client from Viper.
type Provider interface {
	Get() *Config
}

// viperProvider implements the Provider interface using Viper. The config
// pointer is swapped atomically on reload: the fsnotify callback runs on its
// own goroutine, so readers must never observe a partial write.
type viperProvider struct {
	config atomic.Pointer[Config]
	logger *zap.Logger // zap directly for config-internal logging, to avoid a cycle with the domain logger
}

// NewViperProvider creates and initializes a new configuration provider.
// It loads configuration from a YAML file and PULSEFIT_-prefixed environment
// variables, and reloads it when the file changes on disk.
func NewViperProvider(appCtx context.Context, logger *zap.Logger) (Provider, error) {
	cfg := &Config{}
	v := viper.New()

	v.SetDefault("api.prefix", "/api/v1")
	v.SetDefault("api.refresh_path", "/auth/refresh")
	v.SetDefault("api.retry_max", 3)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("connectivity.probe_path", "/healthz")
	v.SetDefault("log.level", "info")
	v.SetDefault("app.service_name", "pulsefit-client")

	configName := os.Getenv("PULSEFIT_CONFIG_NAME")
	if configName == "" {
		configName = "config"
	}
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	if path := os.Getenv("PULSEFIT_CONFIG_PATH"); path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".") // local dev

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_")) // api.base_url becomes PULSEFIT_API_BASE_URL

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logger.Warn("Config file not found; relying on defaults and environment variables", zap.Error(err))
		} else {
			logger.Error("Failed to read config file", zap.Error(err))
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		logger.Error("Failed to unmarshal config", zap.Error(err))
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	p := &viperProvider{
		logger: logger,
	}
	p.config.Store(cfg)

	// Watch for config file changes so a mobile host can push new settings
	// without restarting the client process.
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("Panic recovered in OnConfigChange callback",
					zap.String("event_name", e.Name),
					zap.String("event_op", e.Op.String()),
					zap.Any("panic_info", r),
					zap.String("stacktrace", string(debug.Stack())),
				)
			}
		}()
		if appCtx.Err() != nil {
			return
		}
		p.logger.Info("Config file changed", zap.String("name", e.Name), zap.String("op", e.Op.String()))
		newCfg := &Config{}
		if err := v.Unmarshal(newCfg); err != nil {
			p.logger.Error("Failed to unmarshal config on file change event", zap.Error(err))
		} else {
			p.config.Store(newCfg)
			p.logger.Info("Configuration reloaded successfully via file change event")
		}
	})

	p.logger.Info("Configuration loaded successfully", zap.String("config_file_used", v.ConfigFileUsed()))

	return p, nil
}

// Get returns the current configuration.
func (p *viperProvider) Get() *Config {
	return p.config.Load()
}

// StaticProvider wraps a fixed Config; used by tests and embedding hosts
// that assemble configuration programmatically.
type StaticProvider struct {
	Config *Config
}

// Get returns the wrapped configuration.
func (p *StaticProvider) Get() *Config {
	return p.Config
}
