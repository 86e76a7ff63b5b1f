package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Mode: "production",
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  Duration{Duration: 15 * time.Second},
			WriteTimeout: Duration{Duration: 60 * time.Second},
			IdleTimeout:  Duration{Duration: 60 * time.Second},
			MaxBodyBytes: 1 << 20, // 1 MiB, per the body-reuse cap
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			Environment: "production",
		},
		Catalog: CatalogConfig{
			Backend:     "memory",
			TablePrefix: "mcpay_",
			CacheTTL:    Duration{Duration: 30 * time.Second},
			PostgresPool: PostgresPoolConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: Duration{Duration: 5 * time.Minute},
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:         true,
			Capacity:        30,
			RefillPerSecond: 0.5,
			MinDelayMs:      1000,
		},
		Cache: CacheConfig{
			Enabled:       true,
			DefaultTTL:    Duration{Duration: 45 * time.Second},
			MaxBodyBytes:  1 << 20,
			SweepInterval: Duration{Duration: 1 * time.Minute},
			HostTTLs: map[string]Duration{
				"coingecko": {Duration: 60 * time.Second},
			},
		},
		Facilitator: FacilitatorConfig{
			DefaultURL: "https://x402.org/facilitator",
			ByNetwork:  map[string]string{},
			Timeout:    Duration{Duration: 10 * time.Second},
		},
		Signer: SignerConfig{
			Enabled:          true,
			FallbackBehavior: "continue",
			MaxRetries:       3,
			TimeoutMs:        30000,
		},
		AdminRateLimit: AdminRateLimitConfig{
			Enabled: true,
			Limit:   30,
			Window:  Duration{Duration: 1 * time.Minute},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled: true,
			Facilitator: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
			Catalog: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 15 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
			Upstream: BreakerServiceConfig{
				MaxRequests:         5,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 8,
				FailureRatio:        0.6,
				MinRequests:         20,
			},
		},
	}
}

// parseFile reads and unmarshals a YAML configuration file.
func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}
