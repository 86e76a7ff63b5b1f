// Package breaker provides bulkhead circuit breakers for the proxy's three
// external dependencies: the x402 facilitator, the catalog database, and
// upstream MCP servers. Adapted from internal/circuitbreaker, renamed to
// match the three-service shape the rest of the gateway deals with.
package breaker

import (
	"time"

	"github.com/mcpay/gateway/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// Service identifies one of the gateway's external dependencies.
type Service string

const (
	ServiceFacilitator Service = "facilitator"
	ServiceCatalog     Service = "catalog"
	ServiceUpstream    Service = "upstream"
)

// Manager owns one gobreaker.CircuitBreaker per Service, giving each a
// separate failure budget so a flaky upstream MCP server can't trip the
// breaker guarding facilitator calls.
type Manager struct {
	breakers map[Service]*gobreaker.CircuitBreaker
	enabled  bool
}

// BreakerConfig configures a single circuit breaker.
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32
}

// Config holds breaker settings for all three services.
type Config struct {
	Enabled     bool
	Facilitator BreakerConfig
	Catalog     BreakerConfig
	Upstream    BreakerConfig
}

// NewManagerFromConfig builds a Manager from the application config.
func NewManagerFromConfig(cfg config.CircuitBreakerConfig) *Manager {
	return NewManager(Config{
		Enabled:     cfg.Enabled,
		Facilitator: fromServiceConfig(cfg.Facilitator),
		Catalog:     fromServiceConfig(cfg.Catalog),
		Upstream:    fromServiceConfig(cfg.Upstream),
	})
}

func fromServiceConfig(c config.BreakerServiceConfig) BreakerConfig {
	return BreakerConfig{
		MaxRequests:         c.MaxRequests,
		Interval:            c.Interval.Duration,
		Timeout:             c.Timeout.Duration,
		ConsecutiveFailures: c.ConsecutiveFailures,
		FailureRatio:        c.FailureRatio,
		MinRequests:         c.MinRequests,
	}
}

// NewManager creates a circuit breaker manager from explicit config.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		breakers: make(map[Service]*gobreaker.CircuitBreaker),
		enabled:  cfg.Enabled,
	}

	if !cfg.Enabled {
		return m
	}

	m.breakers[ServiceFacilitator] = gobreaker.NewCircuitBreaker(toGobreakerSettings(string(ServiceFacilitator), cfg.Facilitator))
	m.breakers[ServiceCatalog] = gobreaker.NewCircuitBreaker(toGobreakerSettings(string(ServiceCatalog), cfg.Catalog))
	m.breakers[ServiceUpstream] = gobreaker.NewCircuitBreaker(toGobreakerSettings(string(ServiceUpstream), cfg.Upstream))

	return m
}

// Execute wraps fn with circuit breaker protection. If breakers are disabled
// or the service is unknown, fn runs directly.
func (m *Manager) Execute(service Service, fn func() (interface{}, error)) (interface{}, error) {
	if !m.enabled {
		return fn()
	}

	b, ok := m.breakers[service]
	if !ok {
		return fn()
	}

	return b.Execute(fn)
}

// State returns the current state of a circuit breaker, "disabled" if
// breakers are off, or "not_configured" if the service is unknown.
func (m *Manager) State(service Service) string {
	if !m.enabled {
		return "disabled"
	}

	b, ok := m.breakers[service]
	if !ok {
		return "not_configured"
	}

	return b.State().String()
}

// Counts returns the current failure/success counts for a circuit breaker.
func (m *Manager) Counts(service Service) Counts {
	if !m.enabled {
		return Counts{}
	}

	b, ok := m.breakers[service]
	if !ok {
		return Counts{}
	}

	c := b.Counts()
	return Counts{
		Requests:             c.Requests,
		TotalSuccesses:       c.TotalSuccesses,
		TotalFailures:        c.TotalFailures,
		ConsecutiveSuccesses: c.ConsecutiveSuccesses,
		ConsecutiveFailures:  c.ConsecutiveFailures,
	}
}

// Counts mirrors gobreaker.Counts without leaking the dependency type.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func toGobreakerSettings(name string, cfg BreakerConfig) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if cfg.FailureRatio > 0 && cfg.MinRequests > 0 && counts.Requests >= cfg.MinRequests {
				failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
				if failureRate >= cfg.FailureRatio {
					return true
				}
			}
			return false
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	}
}

// DefaultConfig returns sensible defaults for all three breakers.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Facilitator: BreakerConfig{
			MaxRequests:         3,
			Interval:            60 * time.Second,
			Timeout:             30 * time.Second,
			ConsecutiveFailures: 5,
			FailureRatio:        0.5,
			MinRequests:         10,
		},
		Catalog: BreakerConfig{
			MaxRequests:         3,
			Interval:            60 * time.Second,
			Timeout:             15 * time.Second,
			ConsecutiveFailures: 5,
			FailureRatio:        0.5,
			MinRequests:         10,
		},
		Upstream: BreakerConfig{
			MaxRequests:         5,
			Interval:            60 * time.Second,
			Timeout:             30 * time.Second,
			ConsecutiveFailures: 8,
			FailureRatio:        0.6,
			MinRequests:         15,
		},
	}
}
