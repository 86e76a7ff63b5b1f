package config

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.MaxBodyBytes <= 0 {
		c.Server.MaxBodyBytes = 1 << 20
	}
	if c.Mode == "" {
		c.Mode = "production"
	}

	if c.Catalog.Backend == "" {
		c.Catalog.Backend = "memory"
	}
	if c.Catalog.TablePrefix == "" {
		c.Catalog.TablePrefix = "mcpay_"
	}

	if c.RateLimit.Capacity <= 0 {
		c.RateLimit.Capacity = 30
	}
	if c.RateLimit.RefillPerSecond <= 0 {
		c.RateLimit.RefillPerSecond = 0.5
	}
	if c.RateLimit.MinDelayMs <= 0 {
		c.RateLimit.MinDelayMs = 1000
	}

	if c.Cache.DefaultTTL.Duration <= 0 {
		c.Cache.DefaultTTL = Duration{Duration: 30 * time.Second}
	}
	if c.Cache.MaxBodyBytes <= 0 {
		c.Cache.MaxBodyBytes = 1 << 20
	}
	if c.Cache.SweepInterval.Duration <= 0 {
		c.Cache.SweepInterval = Duration{Duration: 1 * time.Minute}
	}
	if c.Cache.HostTTLs == nil {
		c.Cache.HostTTLs = make(map[string]Duration)
	}

	if c.Facilitator.DefaultURL == "" {
		c.Facilitator.DefaultURL = "https://x402.org/facilitator"
	}
	if c.Facilitator.ByNetwork == nil {
		c.Facilitator.ByNetwork = make(map[string]string)
	}
	if c.Facilitator.Timeout.Duration <= 0 {
		c.Facilitator.Timeout = Duration{Duration: 10 * time.Second}
	}

	if c.Signer.FallbackBehavior == "" {
		c.Signer.FallbackBehavior = "continue"
	}
	if c.Signer.MaxRetries <= 0 {
		c.Signer.MaxRetries = 3
	}
	if c.Signer.TimeoutMs <= 0 {
		c.Signer.TimeoutMs = 30000
	}

	if c.AdminRateLimit.Limit <= 0 {
		c.AdminRateLimit.Limit = 30
	}
	if c.AdminRateLimit.Window.Duration <= 0 {
		c.AdminRateLimit.Window = Duration{Duration: 1 * time.Minute}
	}

	return c.validate()
}

// validate checks that required configuration fields are set correctly.
func (c *Config) validate() error {
	var errs []string

	switch c.Catalog.Backend {
	case "memory", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("catalog.backend %q is not one of memory, postgres", c.Catalog.Backend))
	}
	if c.Catalog.Backend == "postgres" && c.Catalog.PostgresURL == "" {
		errs = append(errs, "catalog.postgres_url is required when catalog.backend is 'postgres'")
	}

	switch c.Signer.FallbackBehavior {
	case "fail", "continue", "log_only":
	default:
		errs = append(errs, fmt.Sprintf("signer.fallback_behavior %q is not one of fail, continue, log_only", c.Signer.FallbackBehavior))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// ApplyPostgresPoolSettings applies connection pool settings to a database connection.
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}
	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}
	maxLifetime := pool.ConnMaxLifetime.Duration
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}
