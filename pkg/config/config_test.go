package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/plugstack/pkg/dependencies"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, logrus.InfoLevel, cfg.Log.LogLevel())
	assert.Equal(t, "text", cfg.Log.Format)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, "plugstack", cfg.Tracing.ServiceName)
	assert.Equal(t, dependencies.DefaultPlanCacheSize, cfg.Resolver.PlanCacheSize)
	assert.Equal(t, 1_000_000, cfg.Host.Ticks)
	assert.Equal(t, 10_000, cfg.Host.Batch)
	assert.Equal(t, 1, cfg.Host.Instances)
	assert.Equal(t, 30*time.Second, cfg.Host.ShutdownTimeout)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("PLUGSTACK_LOG_LEVEL", "debug")
	t.Setenv("PLUGSTACK_LOG_FORMAT", "json")
	t.Setenv("PLUGSTACK_HOST_TICKS", "500")
	t.Setenv("PLUGSTACK_HOST_SHUTDOWN_TIMEOUT", "5s")
	t.Setenv("PLUGSTACK_RESOLVER_PLAN_CACHE_SIZE", "0")
	t.Setenv("PLUGSTACK_TRACING_ENABLED", "true")

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, logrus.DebugLevel, cfg.Log.LogLevel())
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 500, cfg.Host.Ticks)
	assert.Equal(t, 5*time.Second, cfg.Host.ShutdownTimeout)
	assert.Equal(t, 0, cfg.Resolver.PlanCacheSize)

	otel := cfg.Tracing.OTel()
	assert.True(t, otel.Enabled)
	assert.Equal(t, "localhost:4317", otel.Endpoint)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugstack.yaml")
	content := `
log:
  level: warn
metrics:
  enabled: true
  addr: 127.0.0.1:9100
host:
  manifest: /etc/plugstack/stack.yaml
  instances: 3
resolver:
  plan_cache_ttl: 1m
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, logrus.WarnLevel, cfg.Log.LogLevel())
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Addr)
	assert.Equal(t, "/etc/plugstack/stack.yaml", cfg.Host.Manifest)
	assert.Equal(t, 3, cfg.Host.Instances)
	assert.Equal(t, time.Minute, cfg.Resolver.PlanCacheTTL)
	assert.Len(t, cfg.Resolver.Options(nil), 2)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load(New(), "")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name:    "unknown log format",
			mutate:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: "invalid log format",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Log.Level = "loud" },
			wantErr: "invalid log level",
		},
		{
			name:    "metrics without address",
			mutate:  func(c *Config) { c.Metrics.Enabled, c.Metrics.Addr = true, "" },
			wantErr: "metrics address",
		},
		{
			name:    "tracing without endpoint",
			mutate:  func(c *Config) { c.Tracing.Enabled, c.Tracing.Endpoint = true, "" },
			wantErr: "endpoint is required",
		},
		{
			name:    "tracing without service name",
			mutate:  func(c *Config) { c.Tracing.Enabled, c.Tracing.ServiceName = true, "" },
			wantErr: "service name is required",
		},
		{
			name:    "negative plan cache",
			mutate:  func(c *Config) { c.Resolver.PlanCacheSize = -1 },
			wantErr: "plan cache size",
		},
		{
			name:    "no ticks",
			mutate:  func(c *Config) { c.Host.Ticks = 0 },
			wantErr: "ticks",
		},
		{
			name:    "no batch",
			mutate:  func(c *Config) { c.Host.Batch = 0 },
			wantErr: "batch",
		},
		{
			name:    "no instances",
			mutate:  func(c *Config) { c.Host.Instances = 0 },
			wantErr: "instances",
		},
		{
			name:    "no shutdown timeout",
			mutate:  func(c *Config) { c.Host.ShutdownTimeout = 0 },
			wantErr: "shutdown timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
