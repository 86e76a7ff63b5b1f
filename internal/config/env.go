package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
// Gateway-specific env vars use the MCPAY_ prefix; the rate-limit
// (RATE_LIMIT_*), facilitator URL (FACILITATOR_URL, <NETWORK>_FACILITATOR_URL),
// payment-strategy (PAYMENT_STRATEGY_*) and NODE_ENV variables are read
// without it.
func (c *Config) applyEnvOverrides() {
	setIfEnv(&c.Mode, "MCPAY_MODE")

	// Server config
	setIfEnv(&c.Server.Address, "MCPAY_SERVER_ADDRESS")
	setIfEnv(&c.Server.RoutePrefix, "MCPAY_ROUTE_PREFIX")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "MCPAY_ADMIN_METRICS_API_KEY")
	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}

	// Logging config
	setIfEnv(&c.Logging.Level, "MCPAY_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "MCPAY_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "MCPAY_LOG_ENVIRONMENT")

	// Catalog config
	setIfEnv(&c.Catalog.Backend, "MCPAY_CATALOG_BACKEND")
	setIfEnv(&c.Catalog.PostgresURL, "MCPAY_CATALOG_POSTGRES_URL")
	setIfEnv(&c.Catalog.TablePrefix, "MCPAY_CATALOG_TABLE_PREFIX")
	setDurationIfEnv(&c.Catalog.CacheTTL, "MCPAY_CATALOG_CACHE_TTL")

	// Rate limit config (the host-keyed token bucket)
	setBoolIfEnv(&c.RateLimit.Enabled, "MCPAY_RATE_LIMIT_ENABLED")
	setFloatIfEnv(&c.RateLimit.Capacity, "RATE_LIMIT_CAPACITY")
	setFloatIfEnv(&c.RateLimit.RefillPerSecond, "RATE_LIMIT_REFILL_PER_SECOND")
	setInt64IfEnv(&c.RateLimit.MinDelayMs, "RATE_LIMIT_MIN_DELAY_MS")

	// Cache config
	setBoolIfEnv(&c.Cache.Enabled, "MCPAY_CACHE_ENABLED")
	setDurationIfEnv(&c.Cache.DefaultTTL, "MCPAY_CACHE_DEFAULT_TTL")
	setDurationIfEnv(&c.Cache.SweepInterval, "MCPAY_CACHE_SWEEP_INTERVAL")

	// Facilitator config
	setIfEnv(&c.Facilitator.DefaultURL, "FACILITATOR_URL")
	setDurationIfEnv(&c.Facilitator.Timeout, "MCPAY_FACILITATOR_TIMEOUT")
	if v := os.Getenv("BASE_SEPOLIA_FACILITATOR_URL"); v != "" {
		putFacilitatorURL(c, "base-sepolia", v)
	}
	if v := os.Getenv("BASE_FACILITATOR_URL"); v != "" {
		putFacilitatorURL(c, "base", v)
	}
	if v := os.Getenv("SEI_TESTNET_FACILITATOR_URL"); v != "" {
		putFacilitatorURL(c, "sei-testnet", v)
	}

	// Auth config
	setIfEnv(&c.Auth.SessionSecret, "MCPAY_SESSION_SECRET")

	// Signer config
	setBoolIfEnv(&c.Signer.Enabled, "PAYMENT_STRATEGY_ENABLED")
	setIfEnv(&c.Signer.FallbackBehavior, "PAYMENT_STRATEGY_FALLBACK")
	setIntIfEnv(&c.Signer.MaxRetries, "PAYMENT_STRATEGY_MAX_RETRIES")
	setInt64IfEnv(&c.Signer.TimeoutMs, "PAYMENT_STRATEGY_TIMEOUT_MS")
	setIfEnv(&c.Signer.TestPrivateKeyHex, "MCPAY_TEST_SIGNER_PRIVATE_KEY")

	// NODE_ENV-equivalent mode selector, mirrors the ecosystem convention the
	// rest of the pack uses for picking the test signer strategy.
	if v := os.Getenv("NODE_ENV"); v != "" {
		c.Mode = v
	}

	// Admin rate limit
	setBoolIfEnv(&c.AdminRateLimit.Enabled, "MCPAY_ADMIN_RATE_LIMIT_ENABLED")
	setIntIfEnv(&c.AdminRateLimit.Limit, "MCPAY_ADMIN_RATE_LIMIT_LIMIT")
	setDurationIfEnv(&c.AdminRateLimit.Window, "MCPAY_ADMIN_RATE_LIMIT_WINDOW")
}

func putFacilitatorURL(c *Config, network, url string) {
	if c.Facilitator.ByNetwork == nil {
		c.Facilitator.ByNetwork = make(map[string]string)
	}
	c.Facilitator.ByNetwork[network] = url
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
// Accepts "1", "true", "TRUE", "True" as true values.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

// setFloatIfEnv sets a float64 pointer from an environment variable.
func setFloatIfEnv(target *float64, key string) {
	if v := os.Getenv(key); v != "" {
		var f float64
		if _, err := fmt.Sscanf(v, "%f", &f); err == nil {
			*target = f
		}
	}
}

// setIntIfEnv sets an int pointer from an environment variable.
func setIntIfEnv(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			*target = n
		}
	}
}

// setInt64IfEnv sets an int64 pointer from an environment variable.
func setInt64IfEnv(target *int64, key string) {
	if v := os.Getenv(key); v != "" {
		var n int64
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			*target = n
		}
	}
}

// normalizeRoutePrefix ensures the prefix starts with / and doesn't end with /.
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	prefix = strings.TrimSuffix(prefix, "/")
	return prefix
}
