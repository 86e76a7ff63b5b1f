package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Catalog        CatalogConfig        `yaml:"catalog"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Cache          CacheConfig          `yaml:"cache"`
	Facilitator    FacilitatorConfig    `yaml:"facilitator"`
	Signer         SignerConfig         `yaml:"signer"`
	Auth           AuthConfig           `yaml:"auth"`
	AdminRateLimit AdminRateLimitConfig `yaml:"admin_rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Mode           string               `yaml:"mode"` // "production" or "test"
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout         Duration `yaml:"read_timeout"`
	WriteTimeout        Duration `yaml:"write_timeout"`
	IdleTimeout         Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins  []string `yaml:"cors_allowed_origins"`
	RoutePrefix         string   `yaml:"route_prefix"`
	AdminMetricsAPIKey  string   `yaml:"admin_metrics_api_key"`
	MaxBodyBytes        int64    `yaml:"max_body_bytes"`
}

// CatalogConfig selects and configures the registered-server/tool/pricing repository.
type CatalogConfig struct {
	Backend       string             `yaml:"backend"` // "memory" or "postgres"
	PostgresURL   string             `yaml:"postgres_url"`
	TablePrefix   string             `yaml:"table_prefix"` // e.g. "mcpay_" -> mcpay_servers, mcpay_tools, mcpay_pricing
	PostgresPool  PostgresPoolConfig `yaml:"postgres_pool"`
	CacheTTL      Duration           `yaml:"cache_ttl"` // 0 disables the read-through cache decorator
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

// RateLimitConfig configures the host-keyed token bucket that paces outbound upstream traffic.
type RateLimitConfig struct {
	Enabled         bool    `yaml:"enabled"`
	Capacity        float64 `yaml:"capacity"`           // max tokens per host bucket (default 30)
	RefillPerSecond float64 `yaml:"refill_per_second"`  // token refill rate (default 0.5)
	MinDelayMs      int64   `yaml:"min_delay_ms"`       // minimum spacing between requests to one host (default 1000)
}

// CacheConfig configures the in-memory response cache.
type CacheConfig struct {
	Enabled     bool             `yaml:"enabled"`
	DefaultTTL  Duration         `yaml:"default_ttl"`  // TTL when no host rule matches (default 45s; 30s if set to zero)
	HostTTLs    map[string]Duration `yaml:"host_ttls"`  // substring-matched host -> TTL override
	MaxBodyBytes int64           `yaml:"max_body_bytes"` // cap on cached body size
	SweepInterval Duration       `yaml:"sweep_interval"` // opportunistic expiry sweep cadence (default 1m)
}

// FacilitatorConfig selects the x402 facilitator base URL per network.
type FacilitatorConfig struct {
	DefaultURL  string            `yaml:"default_url"`
	ByNetwork   map[string]string `yaml:"by_network"` // e.g. "base-sepolia" -> "https://...", "sei-testnet" -> "https://..."
	Timeout     Duration          `yaml:"timeout"`
}

// SignerConfig configures the auto-sign strategy registry.
type SignerConfig struct {
	Enabled          bool     `yaml:"enabled"`
	FallbackBehavior string   `yaml:"fallback_behavior"` // "fail", "continue", "log_only"
	MaxRetries       int      `yaml:"max_retries"`
	TimeoutMs        int64    `yaml:"timeout_ms"`
	TestPrivateKeyHex string  `yaml:"test_private_key_hex"` // only consulted when Mode == "test"
}

// AuthConfig configures request identity resolution. Session cookies are
// issued by an external auth provider; the gateway only verifies them.
type AuthConfig struct {
	SessionSecret string `yaml:"session_secret"` // empty disables session-cookie resolution
}

// AdminRateLimitConfig paces the admin/control-plane registration endpoints (not the proxied pipeline).
type AdminRateLimitConfig struct {
	Enabled bool     `yaml:"enabled"`
	Limit   int      `yaml:"limit"`
	Window  Duration `yaml:"window"`
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	Environment string `yaml:"environment"`
}

// CircuitBreakerConfig holds circuit breaker configuration for external services.
type CircuitBreakerConfig struct {
	Enabled     bool                 `yaml:"enabled"`
	Facilitator BreakerServiceConfig `yaml:"facilitator"`
	Catalog     BreakerServiceConfig `yaml:"catalog"`
	Upstream    BreakerServiceConfig `yaml:"upstream"`
}

// BreakerServiceConfig configures a circuit breaker for a specific external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`
	Interval            Duration `yaml:"interval"`
	Timeout             Duration `yaml:"timeout"`
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"`
	FailureRatio        float64  `yaml:"failure_ratio"`
	MinRequests         uint32   `yaml:"min_requests"`
}
