package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/platinummonkey/plugstack/pkg/dependencies"
	"github.com/platinummonkey/plugstack/pkg/observability"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "PLUGSTACK"

// Config holds all engine and host configuration
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Resolver ResolverConfig `mapstructure:"resolver"`
	Host     HostConfig     `mapstructure:"host"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Endpoint       string `mapstructure:"endpoint"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
	Insecure       bool   `mapstructure:"insecure"` // Use insecure gRPC connection
}

// ResolverConfig holds the resolution plan cache settings
type ResolverConfig struct {
	PlanCacheSize int           `mapstructure:"plan_cache_size"`
	PlanCacheTTL  time.Duration `mapstructure:"plan_cache_ttl"`
}

// HostConfig holds the reference host settings
type HostConfig struct {
	Manifest        string        `mapstructure:"manifest"`
	Ticks           int           `mapstructure:"ticks"`
	Batch           int           `mapstructure:"batch"`
	Instances       int           `mapstructure:"instances"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// SetDefaults registers the default of every key with v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.service_name", "plugstack")
	v.SetDefault("tracing.service_version", "1.0.0")
	v.SetDefault("tracing.insecure", true)

	v.SetDefault("resolver.plan_cache_size", dependencies.DefaultPlanCacheSize)
	v.SetDefault("resolver.plan_cache_ttl", time.Duration(0))

	v.SetDefault("host.manifest", "")
	v.SetDefault("host.ticks", 1_000_000)
	v.SetDefault("host.batch", 10_000)
	v.SetDefault("host.instances", 1)
	v.SetDefault("host.shutdown_timeout", 30*time.Second)
}

// New returns a viper instance with defaults set, reading PLUGSTACK_*
// environment variables ("host.ticks" is PLUGSTACK_HOST_TICKS)
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file into v and returns the validated
// configuration
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch observability.LogFormat(c.Log.Format) {
	case observability.TextFormat, observability.JSONFormat:
	default:
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Log.Format)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics address is required when metrics are enabled")
	}

	if c.Tracing.Enabled {
		if c.Tracing.Endpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when tracing is enabled")
		}
		if c.Tracing.ServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when tracing is enabled")
		}
	}

	if c.Resolver.PlanCacheSize < 0 {
		return fmt.Errorf("plan cache size must not be negative")
	}
	if c.Resolver.PlanCacheTTL < 0 {
		return fmt.Errorf("plan cache TTL must not be negative")
	}

	if c.Host.Ticks <= 0 {
		return fmt.Errorf("host ticks must be positive")
	}
	if c.Host.Batch <= 0 {
		return fmt.Errorf("host batch must be positive")
	}
	if c.Host.Instances < 1 {
		return fmt.Errorf("host instances must be at least 1")
	}
	if c.Host.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}

	return nil
}

// LogLevel returns the configured logrus level
func (c LogConfig) LogLevel() logrus.Level {
	return observability.ParseLogLevel(c.Level)
}

// OTel converts the tracing settings for observability.InitOTel
func (c TracingConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.Enabled,
		Endpoint:       c.Endpoint,
		ServiceName:    c.ServiceName,
		ServiceVersion: c.ServiceVersion,
		Insecure:       c.Insecure,
	}
}

// Options returns the resolver options for these settings
func (c ResolverConfig) Options(metrics *observability.Metrics) []dependencies.Option {
	return []dependencies.Option{
		dependencies.WithPlanCache(c.PlanCacheSize, c.PlanCacheTTL),
		dependencies.WithMetrics(metrics),
	}
}
