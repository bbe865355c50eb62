package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/mir00r/proxy-balancer/internal/domain"
	lberrors "github.com/mir00r/proxy-balancer/internal/errors"
	"github.com/mir00r/proxy-balancer/pkg/logger"
	"gopkg.in/yaml.v2"
)

// Config represents the main configuration structure
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Admin        AdminConfig        `yaml:"admin"`
	LoadBalancer LoadBalancerConfig `yaml:"load_balancer"`
	Backends     []string           `yaml:"backends"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig contains proxy listener configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	H2C             bool          `yaml:"h2c"`
}

// AdminConfig contains admin API configuration. The admin API also serves
// /metrics, /liveness and /readiness.
type AdminConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LoadBalancerConfig contains load balancer specific configuration
type LoadBalancerConfig struct {
	Timeout     time.Duration            `yaml:"timeout"`
	HealthCheck domain.HealthCheckConfig `yaml:"health_check"`
	RateLimit   domain.RateLimitConfig   `yaml:"rate_limit"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	File   string `yaml:"file"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Admin: AdminConfig{
			Enabled: true,
			Port:    9090,
		},
		LoadBalancer: LoadBalancerConfig{
			Timeout: 5 * time.Second,
			HealthCheck: domain.HealthCheckConfig{
				Enabled:  true,
				Interval: 5 * time.Second,
				Timeout:  2 * time.Second,
				Path:     "/health",
			},
			RateLimit: domain.RateLimitConfig{
				Enabled:         true,
				Algorithm:       domain.FixedWindowAlgorithm,
				MaxRequests:     100,
				Window:          60 * time.Second,
				CleanupInterval: 60 * time.Second,
				Redis: domain.RedisConfig{
					Address: "localhost:6379",
					Prefix:  "ratelimit:",
				},
			},
		},
		Backends: []string{
			"http://localhost:3001",
			"http://localhost:3002",
			"http://localhost:3003",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// LoadFromFile loads configuration from a YAML file on top of the defaults
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, lberrors.WrapError(err, lberrors.ErrCodeConfigLoad, "config",
			fmt.Sprintf("failed to read config file %s", filename))
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, lberrors.WrapError(err, lberrors.ErrCodeConfigLoad, "config",
			fmt.Sprintf("failed to parse config file %s", filename))
	}

	return config, nil
}

// LoadConfig loads configuration with priority: env vars > config file > defaults.
// An explicit path must exist; the CONFIG_FILE fallback is optional.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	switch {
	case path != "":
		loaded, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		config = loaded
	default:
		if file := getEnv("CONFIG_FILE", "config.yaml"); file != "" {
			if _, err := os.Stat(file); err == nil {
				loaded, err := LoadFromFile(file)
				if err != nil {
					return nil, err
				}
				config = loaded
			}
		}
	}

	if err := ApplyEnvironment(config); err != nil {
		return nil, err
	}

	return config, nil
}

// AppendBackends adds addresses to the end of the backend list, keeping
// order. Addresses already in the list are skipped and returned, since the
// pool keys backends by address.
func (c *Config) AppendBackends(addresses ...string) (skipped []string) {
	seen := make(map[string]bool, len(c.Backends)+len(addresses))
	for _, address := range c.Backends {
		seen[address] = true
	}
	for _, address := range addresses {
		if seen[address] {
			skipped = append(skipped, address)
			continue
		}
		seen[address] = true
		c.Backends = append(c.Backends, address)
	}
	return skipped
}

// Validate validates the configuration for correctness
func (c *Config) Validate() error {
	if err := validatePort("server.port", c.Server.Port); err != nil {
		return err
	}
	if c.Admin.Enabled {
		if err := validatePort("admin.port", c.Admin.Port); err != nil {
			return err
		}
		if c.Admin.Port == c.Server.Port {
			return fmt.Errorf("admin.port must differ from server.port (%d)", c.Server.Port)
		}
	}

	if c.LoadBalancer.Timeout <= 0 {
		return fmt.Errorf("load_balancer.timeout must be positive: %v", c.LoadBalancer.Timeout)
	}

	// Validate backends
	if len(c.Backends) == 0 {
		return fmt.Errorf("at least one backend must be configured")
	}

	seen := make(map[string]bool, len(c.Backends))
	for i, backend := range c.Backends {
		if backend == "" {
			return fmt.Errorf("backends[%d]: address cannot be empty", i)
		}
		u, err := url.Parse(backend)
		if err != nil {
			return fmt.Errorf("backends[%d]: invalid address %q: %w", i, backend, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("backends[%d]: address %q must be an absolute http(s) URL", i, backend)
		}
		if seen[backend] {
			return fmt.Errorf("backends[%d]: duplicate address %q", i, backend)
		}
		seen[backend] = true
	}

	// Validate health check configuration
	hc := c.LoadBalancer.HealthCheck
	if hc.Enabled {
		if hc.Interval <= 0 {
			return fmt.Errorf("health_check.interval must be positive")
		}
		if hc.Timeout <= 0 {
			return fmt.Errorf("health_check.timeout must be positive")
		}
		if hc.Timeout >= hc.Interval {
			return fmt.Errorf("health_check.timeout (%v) must be shorter than health_check.interval (%v)", hc.Timeout, hc.Interval)
		}
		if hc.Path == "" || hc.Path[0] != '/' {
			return fmt.Errorf("health_check.path must start with '/': %q", hc.Path)
		}
	}

	// Validate rate limiting configuration
	rl := c.LoadBalancer.RateLimit
	if rl.Enabled {
		if rl.MaxRequests <= 0 {
			return fmt.Errorf("rate_limit.max_requests must be positive")
		}
		if rl.Window <= 0 {
			return fmt.Errorf("rate_limit.window must be positive")
		}
		if rl.CleanupInterval < 0 {
			return fmt.Errorf("rate_limit.cleanup_interval cannot be negative")
		}
		switch rl.Algorithm {
		case domain.FixedWindowAlgorithm:
		case domain.TokenBucketAlgorithm:
			if rl.Redis.Enabled {
				return fmt.Errorf("rate_limit.redis requires the fixed_window algorithm")
			}
		default:
			return fmt.Errorf("unsupported rate_limit.algorithm: %s", rl.Algorithm)
		}
		if rl.Redis.Enabled && rl.Redis.Address == "" {
			return fmt.Errorf("rate_limit.redis.address cannot be empty")
		}
	}

	// Validate logging configuration
	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	validOutputs := map[string]bool{"stdout": true, "stderr": true, "file": true}
	if !validOutputs[c.Logging.Output] {
		return fmt.Errorf("invalid log output: %s", c.Logging.Output)
	}

	return nil
}

func validatePort(name string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid %s: %d", name, port)
	}
	return nil
}

// ToLoadBalancerConfig converts to domain LoadBalancerConfig
func (c *Config) ToLoadBalancerConfig() domain.LoadBalancerConfig {
	return domain.LoadBalancerConfig{
		Port:        c.Server.Port,
		Timeout:     c.LoadBalancer.Timeout,
		HealthCheck: c.LoadBalancer.HealthCheck,
		RateLimit:   c.LoadBalancer.RateLimit,
	}
}

// ToLoggerConfig converts to logger.Config
func (c *Config) ToLoggerConfig() logger.Config {
	return logger.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
		File:   c.Logging.File,
	}
}

// SaveToFile saves the configuration to a YAML file
func (c *Config) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", filename, err)
	}

	return nil
}
