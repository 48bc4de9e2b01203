// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers defaults, an optional YAML file and environment variables.
// - Validation failures are *FieldError values matching ErrInvalidConfig.
package config

import (
	"regexp"
	"runtime"
	"strings"
	"time"
)

// Supported store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects text or json log lines.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// StoreDriver selects the backing store: memory or postgres.
	StoreDriver string `koanf:"store_driver"`
	// PostgresURL is the pgx connection string used by the postgres driver.
	PostgresURL string `koanf:"postgres_url"`
	// PostgresMaxConns caps the pgx pool.
	PostgresMaxConns int `koanf:"postgres_max_conns"`
	// PostgresConnectAttempts and PostgresConnectDelayMS drive the backoff
	// used while the first connection is established.
	PostgresConnectAttempts int `koanf:"postgres_connect_attempts"`
	PostgresConnectDelayMS  int `koanf:"postgres_connect_delay_ms"`
	// FixturesPath optionally seeds the memory store from a YAML file.
	FixturesPath string `koanf:"fixtures_path"`

	// DefaultLimit is used when a request does not carry a limit.
	DefaultLimit int `koanf:"default_limit"`
	// MaxLimit caps the per-list limit a request may ask for.
	MaxLimit int `koanf:"max_limit"`
	// CandidateCap bounds the engaged-user search regardless of limit.
	CandidateCap int `koanf:"candidate_cap"`

	// WorkerCount sizes the pool that computes candidate deltas.
	WorkerCount int `koanf:"worker_count"`
	// BatchTimeoutMS bounds one comparison's candidate fan-out.
	BatchTimeoutMS int `koanf:"batch_timeout_ms"`
	// RequestTimeoutMS bounds one shared comparison end to end.
	RequestTimeoutMS int `koanf:"request_timeout_ms"`

	// ClusterCacheSize and ClusterCacheTTLSeconds configure the cluster lookup cache.
	// A size of zero disables the cache.
	ClusterCacheSize       int `koanf:"cluster_cache_size"`
	ClusterCacheTTLSeconds int `koanf:"cluster_cache_ttl_s"`

	// MetricsNamespace and MetricsSubsystem prefix every exported metric.
	MetricsNamespace string `koanf:"metrics_namespace"`
	MetricsSubsystem string `koanf:"metrics_subsystem"`
	// MetricsLatencyBucketsMS overrides the latency histogram buckets when set.
	MetricsLatencyBucketsMS []float64 `koanf:"metrics_latency_buckets_ms"`
}

var metricName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:                "info",
		LogFormat:               "text",
		Addr:                    ":9080",
		StoreDriver:             DriverMemory,
		PostgresMaxConns:        20,
		PostgresConnectAttempts: 5,
		PostgresConnectDelayMS:  500,
		DefaultLimit:            20,
		MaxLimit:                50,
		CandidateCap:            100,
		WorkerCount:             runtime.NumCPU() * 4,
		BatchTimeoutMS:          10_000,
		RequestTimeoutMS:        30_000,
		ClusterCacheSize:        10_000,
		ClusterCacheTTLSeconds:  300,
		MetricsNamespace:        "divergence",
		MetricsSubsystem:        "engine",
	}
}

// BatchTimeout returns BatchTimeoutMS as a duration.
func (c *Config) BatchTimeout() time.Duration {
	return time.Duration(c.BatchTimeoutMS) * time.Millisecond
}

// RequestTimeout returns RequestTimeoutMS as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

// PostgresConnectDelay returns PostgresConnectDelayMS as a duration.
func (c *Config) PostgresConnectDelay() time.Duration {
	return time.Duration(c.PostgresConnectDelayMS) * time.Millisecond
}

// ClusterCacheTTL returns ClusterCacheTTLSeconds as a duration.
func (c *Config) ClusterCacheTTL() time.Duration {
	return time.Duration(c.ClusterCacheTTLSeconds) * time.Second
}

// Validate checks cross-field constraints. The first failure is returned
// as a *FieldError.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return invalid("addr", "must not be empty")
	case c.DefaultLimit < 1:
		return invalid("default_limit", "must be positive")
	case c.MaxLimit < 1:
		return invalid("max_limit", "must be positive")
	case c.DefaultLimit > c.MaxLimit:
		return invalid("default_limit", "%d exceeds max_limit %d", c.DefaultLimit, c.MaxLimit)
	case c.CandidateCap < 1:
		return invalid("candidate_cap", "must be positive")
	case c.BatchTimeoutMS < 1:
		return invalid("batch_timeout_ms", "must be positive")
	case c.RequestTimeoutMS < c.BatchTimeoutMS:
		return invalid("request_timeout_ms", "%d is shorter than batch_timeout_ms %d", c.RequestTimeoutMS, c.BatchTimeoutMS)
	case c.ClusterCacheSize < 0:
		return invalid("cluster_cache_size", "must not be negative")
	case !metricName.MatchString(c.MetricsNamespace):
		return invalid("metrics_namespace", "%q is not a valid metric name prefix", c.MetricsNamespace)
	case !metricName.MatchString(c.MetricsSubsystem):
		return invalid("metrics_subsystem", "%q is not a valid metric name prefix", c.MetricsSubsystem)
	}
	for i, b := range c.MetricsLatencyBucketsMS {
		if b <= 0 || (i > 0 && b <= c.MetricsLatencyBucketsMS[i-1]) {
			return invalid("metrics_latency_buckets_ms", "must be positive and strictly increasing")
		}
	}

	switch c.StoreDriver {
	case DriverMemory:
	case DriverPostgres:
		switch {
		case strings.TrimSpace(c.PostgresURL) == "":
			return invalid("postgres_url", "is required for the postgres driver")
		case c.PostgresConnectAttempts < 1:
			return invalid("postgres_connect_attempts", "must be positive")
		case c.PostgresConnectDelayMS < 1:
			return invalid("postgres_connect_delay_ms", "must be positive")
		}
	default:
		return invalid("store_driver", "%q is not %s or %s", c.StoreDriver, DriverMemory, DriverPostgres)
	}
	return nil
}
