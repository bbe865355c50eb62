package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mir00r/proxy-balancer/internal/domain"
)

// ApplyEnvironment overrides config with LB_* environment variables. Unset
// variables leave the current value alone; malformed ones are an error.
func ApplyEnvironment(config *Config) error {
	var err error
	set := func(e error) {
		if err == nil && e != nil {
			err = e
		}
	}

	// Server Configuration
	set(envInt("LB_PORT", &config.Server.Port))
	set(envBool("LB_H2C", &config.Server.H2C))
	set(envBool("LB_ADMIN_ENABLED", &config.Admin.Enabled))
	set(envInt("LB_ADMIN_PORT", &config.Admin.Port))
	set(envDuration("LB_TIMEOUT", &config.LoadBalancer.Timeout))

	// Health Check Configuration
	hc := &config.LoadBalancer.HealthCheck
	set(envBool("LB_HEALTH_CHECK_ENABLED", &hc.Enabled))
	set(envDuration("LB_HEALTH_CHECK_INTERVAL", &hc.Interval))
	set(envDuration("LB_HEALTH_CHECK_TIMEOUT", &hc.Timeout))
	if path := getEnv("LB_HEALTH_CHECK_PATH", ""); path != "" {
		hc.Path = path
	}

	// Rate Limiting Configuration
	rl := &config.LoadBalancer.RateLimit
	set(envBool("LB_RATE_LIMIT_ENABLED", &rl.Enabled))
	if algorithm := getEnv("LB_RATE_LIMIT_ALGORITHM", ""); algorithm != "" {
		rl.Algorithm = domain.RateLimitAlgorithm(algorithm)
	}
	set(envInt("LB_RATE_LIMIT_MAX_REQUESTS", &rl.MaxRequests))
	set(envDuration("LB_RATE_LIMIT_WINDOW", &rl.Window))
	set(envDuration("LB_RATE_LIMIT_CLEANUP_INTERVAL", &rl.CleanupInterval))
	set(envBool("LB_RATE_LIMIT_TRUST_FORWARDED_HEADERS", &rl.TrustForwardedHeaders))

	// Redis Configuration
	set(envBool("LB_REDIS_ENABLED", &rl.Redis.Enabled))
	if addr := getEnv("LB_REDIS_ADDRESS", ""); addr != "" {
		rl.Redis.Address = addr
	}
	if password := getEnv("LB_REDIS_PASSWORD", ""); password != "" {
		rl.Redis.Password = password
	}
	set(envInt("LB_REDIS_DB", &rl.Redis.DB))
	if prefix := getEnv("LB_REDIS_PREFIX", ""); prefix != "" {
		rl.Redis.Prefix = prefix
	}

	// Backends Configuration from Environment, replacing the file's list
	if backends := getEnv("LB_BACKENDS", ""); backends != "" {
		config.Backends = parseBackendsFromEnv(backends)
	}

	// Logging Configuration
	if level := getEnv("LB_LOG_LEVEL", ""); level != "" {
		config.Logging.Level = level
	}
	if format := getEnv("LB_LOG_FORMAT", ""); format != "" {
		config.Logging.Format = format
	}
	if output := getEnv("LB_LOG_OUTPUT", ""); output != "" {
		config.Logging.Output = output
	}
	if file := getEnv("LB_LOG_FILE", ""); file != "" {
		config.Logging.File = file
	}

	return err
}

// getEnv gets environment variable with fallback to default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseBackendsFromEnv parses a comma separated list of backend addresses
// Example: "http://localhost:3001,http://localhost:3002"
func parseBackendsFromEnv(backends string) []string {
	var addresses []string
	for _, entry := range strings.Split(backends, ",") {
		if address := strings.TrimSpace(entry); address != "" {
			addresses = append(addresses, address)
		}
	}
	return addresses
}

func envInt(key string, dst *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	*dst = n
	return nil
}

func envBool(key string, dst *bool) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	*dst = b
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	*dst = d
	return nil
}
