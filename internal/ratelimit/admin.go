// Package ratelimit provides two unrelated limiters: a per-IP sliding-window
// limiter for the admin control-plane endpoints, and a host-keyed token
// bucket that paces outbound requests to upstream MCP servers.
package ratelimit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mcpay/gateway/internal/metrics"
	"github.com/go-chi/httprate"
)

// AdminConfig configures the per-IP limiter guarding admin registration
// endpoints.
type AdminConfig struct {
	Enabled bool
	Limit   int
	Window  time.Duration
	Metrics *metrics.Metrics
}

// DefaultAdminConfig returns a generous per-IP limit: enough for a human
// operator or script registering several servers, not enough for a scraper.
func DefaultAdminConfig() AdminConfig {
	return AdminConfig{
		Enabled: true,
		Limit:   30,
		Window:  time.Minute,
	}
}

type rateLimitResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

// AdminIPLimiter rate-limits the admin API by client IP.
func AdminIPLimiter(cfg AdminConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}

	handler := func(w http.ResponseWriter, r *http.Request) {
		if cfg.Metrics != nil {
			cfg.Metrics.ObserveRateLimitReject("admin_ip")
		}

		windowSeconds := int(cfg.Window.Seconds())
		resp := rateLimitResponse{
			Error:             "rate_limit_exceeded",
			Message:           "Admin API rate limit exceeded. Please try again later.",
			RetryAfterSeconds: windowSeconds,
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", fmt.Sprintf("%d", windowSeconds))
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(resp)
	}

	return httprate.Limit(
		cfg.Limit,
		cfg.Window,
		httprate.WithKeyByIP(),
		httprate.WithLimitHandler(handler),
	)
}
