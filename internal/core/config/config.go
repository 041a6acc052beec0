package config

import (
	"time"

	redisclient "github.com/vietddude/faultline/internal/infra/redis"
	"github.com/vietddude/faultline/internal/infra/storage/postgres"
	"github.com/vietddude/faultline/internal/resilience/breaker"
	"github.com/vietddude/faultline/internal/resilience/retry"
)

// Profiles.
const (
	ProfileProduction  = "production"
	ProfileDevelopment = "development"
)

// Dependency kinds.
const (
	KindHTTP     = "http"
	KindPostgres = "postgres"
	KindRedis    = "redis"
	KindGRPC     = "grpc"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server       ServerConfig       `yaml:"server"`
	Profile      string             `yaml:"profile"`  // production, development
	Instance     string             `yaml:"instance"` // defaults to the hostname
	Logging      LoggingConfig      `yaml:"logging"`
	Retry        retry.Config       `yaml:"retry"`
	Breaker      breaker.Config     `yaml:"breaker"`
	Redis        redisclient.Config `yaml:"redis"`
	Database     postgres.Config    `yaml:"database"`
	Dependencies []DependencyConfig `yaml:"dependencies"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DependencyConfig describes one guarded downstream dependency.
type DependencyConfig struct {
	Name          string          `yaml:"name"`
	Kind          string          `yaml:"kind"` // http, postgres, redis, grpc
	URL           string          `yaml:"url"`
	Service       string          `yaml:"service"` // grpc health service name
	Timeout       time.Duration   `yaml:"timeout"`
	ProbeInterval time.Duration   `yaml:"probe_interval"` // 0 disables probing
	Retry         *retry.Config   `yaml:"retry"`
	Breaker       *breaker.Config `yaml:"breaker"`
}

// Production reports whether errors leaving the process must be sanitized.
func (c *AppConfig) Production() bool {
	return c.Profile == ProfileProduction
}

// RetryFor returns the effective retry policy for the named dependency.
func (c *AppConfig) RetryFor(name string) retry.Config {
	for _, d := range c.Dependencies {
		if d.Name == name && d.Retry != nil {
			return mergeRetry(*d.Retry, c.Retry)
		}
	}
	return c.Retry
}

// BreakerOverrides returns the per-dependency breaker settings that differ
// from the global ones.
func (c *AppConfig) BreakerOverrides() map[string]breaker.Config {
	out := make(map[string]breaker.Config)
	for _, d := range c.Dependencies {
		if d.Breaker != nil {
			out[d.Name] = mergeBreaker(*d.Breaker, c.Breaker)
		}
	}
	return out
}

// mergeRetry fills zero fields of r from base. JitterPercent is taken as given.
func mergeRetry(r, base retry.Config) retry.Config {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = base.MaxAttempts
	}
	if r.BaseDelay == 0 {
		r.BaseDelay = base.BaseDelay
	}
	if r.MaxDelay == 0 {
		r.MaxDelay = base.MaxDelay
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = base.BackoffMultiplier
	}
	return r
}

func mergeBreaker(b, base breaker.Config) breaker.Config {
	if b.FailureThreshold == 0 {
		b.FailureThreshold = base.FailureThreshold
	}
	if b.RecoveryTimeout == 0 {
		b.RecoveryTimeout = base.RecoveryTimeout
	}
	if b.MonitoringWindow == 0 {
		b.MonitoringWindow = base.MonitoringWindow
	}
	if b.MinimumRequests == 0 {
		b.MinimumRequests = base.MinimumRequests
	}
	return b
}
