package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	redisclient "github.com/vietddude/faultline/internal/infra/redis"
	"github.com/vietddude/faultline/internal/resilience/breaker"
	"github.com/vietddude/faultline/internal/resilience/retry"
)

const (
	defaultTimeout       = 5 * time.Second
	defaultProbeInterval = 30 * time.Second
)

// Load reads configuration from a YAML file, applies defaults and validates it.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load for in-memory YAML.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *AppConfig {
	var cfg AppConfig
	cfg.applyDefaults()
	return &cfg
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Profile == "" {
		c.Profile = ProfileDevelopment
	}
	if c.Instance == "" {
		if host, err := os.Hostname(); err == nil {
			c.Instance = host
		} else {
			c.Instance = "faultline"
		}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	if c.Retry == (retry.Config{}) {
		c.Retry = retry.DefaultConfig
	} else {
		c.Retry = mergeRetry(c.Retry, retry.DefaultConfig)
	}
	c.Breaker = mergeBreaker(c.Breaker, breaker.DefaultConfig)

	if c.Redis.URL != "" && c.Redis.StatusTTL == 0 {
		c.Redis.StatusTTL = redisclient.DefaultStatusTTL
	}

	for i := range c.Dependencies {
		d := &c.Dependencies[i]
		if d.Timeout == 0 {
			d.Timeout = defaultTimeout
		}
		if d.ProbeInterval == 0 {
			d.ProbeInterval = defaultProbeInterval
		}
		if d.Kind == KindPostgres && d.URL == "" {
			d.URL = c.Database.URL
		}
	}
}
