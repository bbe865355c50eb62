package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mir00r/proxy-balancer/internal/domain"
	lberrors "github.com/mir00r/proxy-balancer/internal/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 9090, cfg.Admin.Port)
	assert.Equal(t, 5*time.Second, cfg.LoadBalancer.Timeout)
	assert.Equal(t, 5*time.Second, cfg.LoadBalancer.HealthCheck.Interval)
	assert.Equal(t, 2*time.Second, cfg.LoadBalancer.HealthCheck.Timeout)
	assert.Equal(t, "/health", cfg.LoadBalancer.HealthCheck.Path)
	assert.Equal(t, 100, cfg.LoadBalancer.RateLimit.MaxRequests)
	assert.Equal(t, 60*time.Second, cfg.LoadBalancer.RateLimit.Window)
	assert.Equal(t, domain.FixedWindowAlgorithm, cfg.LoadBalancer.RateLimit.Algorithm)
	assert.Equal(t, []string{
		"http://localhost:3001",
		"http://localhost:3002",
		"http://localhost:3003",
	}, cfg.Backends)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8100
  h2c: true
load_balancer:
  timeout: 3s
  health_check:
    enabled: true
    interval: 10s
    timeout: 1s
    path: /ping
  rate_limit:
    enabled: true
    algorithm: token_bucket
    max_requests: 20
    window: 30s
backends:
  - http://10.0.0.1:80
  - http://10.0.0.2:80
logging:
  level: debug
  format: json
  output: stdout
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8100, cfg.Server.Port)
	assert.True(t, cfg.Server.H2C)
	assert.Equal(t, 3*time.Second, cfg.LoadBalancer.Timeout)
	assert.Equal(t, 10*time.Second, cfg.LoadBalancer.HealthCheck.Interval)
	assert.Equal(t, "/ping", cfg.LoadBalancer.HealthCheck.Path)
	assert.Equal(t, domain.TokenBucketAlgorithm, cfg.LoadBalancer.RateLimit.Algorithm)
	assert.Equal(t, 20, cfg.LoadBalancer.RateLimit.MaxRequests)
	assert.Equal(t, []string{"http://10.0.0.1:80", "http://10.0.0.2:80"}, cfg.Backends)

	// untouched sections keep their defaults
	assert.Equal(t, 9090, cfg.Admin.Port)
	assert.Equal(t, 60*time.Second, cfg.LoadBalancer.RateLimit.CleanupInterval)
}

func TestLoadFromFileErrors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, lberrors.ErrCodeConfigLoad, lberrors.GetErrorCode(err))

	_, err = LoadFromFile(writeConfig(t, "server: [unclosed"))
	require.Error(t, err)
	assert.Equal(t, lberrors.ErrCodeConfigLoad, lberrors.GetErrorCode(err))
}

func TestLoadConfigEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8100
backends:
  - http://file-backend:80
`)
	t.Setenv("LB_PORT", "8200")
	t.Setenv("LB_BACKENDS", "http://a:1, http://b:2,")
	t.Setenv("LB_HEALTH_CHECK_INTERVAL", "15s")
	t.Setenv("LB_RATE_LIMIT_MAX_REQUESTS", "7")
	t.Setenv("LB_RATE_LIMIT_TRUST_FORWARDED_HEADERS", "true")
	t.Setenv("LB_REDIS_ENABLED", "true")
	t.Setenv("LB_REDIS_ADDRESS", "redis:6379")
	t.Setenv("LB_LOG_LEVEL", "warn")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8200, cfg.Server.Port)
	assert.Equal(t, []string{"http://a:1", "http://b:2"}, cfg.Backends)
	assert.Equal(t, 15*time.Second, cfg.LoadBalancer.HealthCheck.Interval)
	assert.Equal(t, 7, cfg.LoadBalancer.RateLimit.MaxRequests)
	assert.True(t, cfg.LoadBalancer.RateLimit.TrustForwardedHeaders)
	assert.True(t, cfg.LoadBalancer.RateLimit.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.LoadBalancer.RateLimit.Redis.Address)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadConfigWithoutFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigMalformedEnvironment(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("LB_HEALTH_CHECK_TIMEOUT", "soon")

	_, err := LoadConfig("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LB_HEALTH_CHECK_TIMEOUT")
}

func TestAppendBackendsKeepsOrder(t *testing.T) {
	cfg := DefaultConfig()
	skipped := cfg.AppendBackends("http://extra-1:80", "http://extra-2:80")

	assert.Empty(t, skipped)
	require.Len(t, cfg.Backends, 5)
	assert.Equal(t, "http://localhost:3001", cfg.Backends[0])
	assert.Equal(t, "http://extra-1:80", cfg.Backends[3])
	assert.Equal(t, "http://extra-2:80", cfg.Backends[4])
}

func TestAppendBackendsSkipsDuplicates(t *testing.T) {
	cfg := DefaultConfig()
	skipped := cfg.AppendBackends("http://localhost:3002", "http://extra:80", "http://extra:80")

	assert.Equal(t, []string{"http://localhost:3002", "http://extra:80"}, skipped)
	assert.Equal(t, []string{
		"http://localhost:3001",
		"http://localhost:3002",
		"http://localhost:3003",
		"http://extra:80",
	}, cfg.Backends)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "server.port",
		},
		{
			name:    "admin port clash",
			mutate:  func(c *Config) { c.Admin.Port = c.Server.Port },
			wantErr: "admin.port",
		},
		{
			name:    "no backends",
			mutate:  func(c *Config) { c.Backends = nil },
			wantErr: "at least one backend",
		},
		{
			name:    "relative backend",
			mutate:  func(c *Config) { c.Backends = []string{"/relative/path"} },
			wantErr: "absolute http(s) URL",
		},
		{
			name:    "unsupported scheme",
			mutate:  func(c *Config) { c.Backends = []string{"ftp://host"} },
			wantErr: "absolute http(s) URL",
		},
		{
			name:    "duplicate backend",
			mutate:  func(c *Config) { c.Backends = append(c.Backends, c.Backends[0]) },
			wantErr: "duplicate",
		},
		{
			name: "probe timeout not below interval",
			mutate: func(c *Config) {
				c.LoadBalancer.HealthCheck.Timeout = c.LoadBalancer.HealthCheck.Interval
			},
			wantErr: "shorter than",
		},
		{
			name:    "zero quota",
			mutate:  func(c *Config) { c.LoadBalancer.RateLimit.MaxRequests = 0 },
			wantErr: "max_requests",
		},
		{
			name:    "unknown algorithm",
			mutate:  func(c *Config) { c.LoadBalancer.RateLimit.Algorithm = "sliding_log" },
			wantErr: "algorithm",
		},
		{
			name: "token bucket with redis",
			mutate: func(c *Config) {
				c.LoadBalancer.RateLimit.Algorithm = domain.TokenBucketAlgorithm
				c.LoadBalancer.RateLimit.Redis.Enabled = true
			},
			wantErr: "fixed_window",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "loud" },
			wantErr: "log level",
		},
		{
			name: "disabled sections are not checked",
			mutate: func(c *Config) {
				c.LoadBalancer.RateLimit.Enabled = false
				c.LoadBalancer.RateLimit.MaxRequests = 0
				c.LoadBalancer.HealthCheck.Enabled = false
				c.LoadBalancer.HealthCheck.Interval = 0
				c.Admin.Enabled = false
				c.Admin.Port = 0
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSaveToFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := DefaultConfig()
	cfg.Server.Port = 8123

	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 8123, loaded.Server.Port)
	assert.Equal(t, cfg.Backends, loaded.Backends)
}
