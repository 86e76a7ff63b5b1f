package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	// Tool call / proxy pipeline metrics
	ToolCallsTotal   *prometheus.CounterVec
	ToolCallDuration *prometheus.HistogramVec

	// Payment gate metrics
	PaymentGateTotal    *prometheus.CounterVec
	PaymentGateDuration *prometheus.HistogramVec
	SettlementDuration  *prometheus.HistogramVec
	SettlementTotal     *prometheus.CounterVec

	// Response cache metrics
	CacheResultTotal *prometheus.CounterVec

	// Rate limiter metrics
	RateLimitWaitSeconds *prometheus.HistogramVec
	RateLimitRejectTotal *prometheus.CounterVec

	// Upstream forwarder metrics
	UpstreamDuration *prometheus.HistogramVec
	UpstreamErrors   *prometheus.CounterVec

	// Signer registry metrics
	SignerAttemptsTotal *prometheus.CounterVec

	// Database metrics
	DBQueryDuration     *prometheus.HistogramVec
	DBConnectionsActive prometheus.Gauge

	// Admin API metrics
	AdminRequestsTotal *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		ToolCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpay_tool_calls_total",
				Help: "Total number of tools/call invocations proxied, by server and tool",
			},
			[]string{"server_id", "tool", "outcome"},
		),
		ToolCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcpay_tool_call_duration_seconds",
				Help:    "End-to-end duration of a proxied tools/call request",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"server_id", "tool"},
		),

		PaymentGateTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpay_payment_gate_total",
				Help: "Total number of payment gate transitions, by resulting state",
			},
			[]string{"server_id", "tool", "state"},
		),
		PaymentGateDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcpay_payment_gate_duration_seconds",
				Help:    "Time spent in the payment gate (challenge through verify)",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"server_id", "tool"},
		),
		SettlementDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcpay_settlement_duration_seconds",
				Help:    "Time taken by the facilitator to settle a payment on-chain",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"network"},
		),
		SettlementTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpay_settlement_total",
				Help: "Total number of settlement attempts, by outcome",
			},
			[]string{"network", "outcome"},
		),

		CacheResultTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpay_cache_result_total",
				Help: "Total response cache lookups, by result",
			},
			[]string{"host", "result"}, // result: hit, miss, bypass, stale
		),

		RateLimitWaitSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcpay_rate_limit_wait_seconds",
				Help:    "Time a request waited on the host token bucket before forwarding",
				Buckets: []float64{0, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"host"},
		),
		RateLimitRejectTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpay_rate_limit_reject_total",
				Help: "Total requests rejected by a rate limiter",
			},
			[]string{"limiter"},
		),

		UpstreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcpay_upstream_duration_seconds",
				Help:    "Duration of the forwarded request to the upstream MCP server",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"server_id"},
		),
		UpstreamErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpay_upstream_errors_total",
				Help: "Total upstream forwarding errors, by class",
			},
			[]string{"server_id", "error_type"},
		),

		SignerAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpay_signer_attempts_total",
				Help: "Total auto-sign strategy attempts, by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcpay_db_query_duration_seconds",
				Help:    "Catalog database query duration",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"operation", "backend"},
		),
		DBConnectionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mcpay_db_connections_active",
				Help: "Number of active catalog database connections",
			},
		),

		AdminRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpay_admin_requests_total",
				Help: "Total admin API requests, by route and status",
			},
			[]string{"route", "status"},
		),
	}
}

// ObserveToolCall records one completed tools/call proxy request.
func (m *Metrics) ObserveToolCall(serverID, tool, outcome string, duration time.Duration) {
	m.ToolCallsTotal.WithLabelValues(serverID, tool, outcome).Inc()
	m.ToolCallDuration.WithLabelValues(serverID, tool).Observe(duration.Seconds())
}

// ObservePaymentGate records the payment gate's terminal state for a request.
func (m *Metrics) ObservePaymentGate(serverID, tool, state string, duration time.Duration) {
	m.PaymentGateTotal.WithLabelValues(serverID, tool, state).Inc()
	m.PaymentGateDuration.WithLabelValues(serverID, tool).Observe(duration.Seconds())
}

// ObserveSettlement records a facilitator settle call.
func (m *Metrics) ObserveSettlement(network, outcome string, duration time.Duration) {
	m.SettlementTotal.WithLabelValues(network, outcome).Inc()
	m.SettlementDuration.WithLabelValues(network).Observe(duration.Seconds())
}

// ObserveCacheResult records one response cache lookup outcome.
func (m *Metrics) ObserveCacheResult(host, result string) {
	m.CacheResultTotal.WithLabelValues(host, result).Inc()
}

// ObserveRateLimitWait records time spent waiting on the host token bucket.
func (m *Metrics) ObserveRateLimitWait(host string, wait time.Duration) {
	m.RateLimitWaitSeconds.WithLabelValues(host).Observe(wait.Seconds())
}

// ObserveRateLimitReject records a rejection by a rate limiter.
func (m *Metrics) ObserveRateLimitReject(limiter string) {
	m.RateLimitRejectTotal.WithLabelValues(limiter).Inc()
}

// ObserveUpstream records a forwarded request to an upstream MCP server.
func (m *Metrics) ObserveUpstream(serverID string, duration time.Duration, err error) {
	m.UpstreamDuration.WithLabelValues(serverID).Observe(duration.Seconds())
	if err != nil {
		m.UpstreamErrors.WithLabelValues(serverID, classifyError(err)).Inc()
	}
}

// ObserveSignerAttempt records one auto-sign strategy attempt.
func (m *Metrics) ObserveSignerAttempt(strategy, outcome string) {
	m.SignerAttemptsTotal.WithLabelValues(strategy, outcome).Inc()
}

// ObserveDBQuery records a catalog database query.
func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	m.DBQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// ObserveAdminRequest records an admin API request.
func (m *Metrics) ObserveAdminRequest(route, status string) {
	m.AdminRequestsTotal.WithLabelValues(route, status).Inc()
}

func classifyError(err error) string {
	if err == nil {
		return "none"
	}
	errStr := err.Error()
	switch {
	case contains(errStr, "timeout"), contains(errStr, "deadline exceeded"):
		return "timeout"
	case contains(errStr, "connection"):
		return "connection"
	case contains(errStr, "not found"):
		return "not_found"
	default:
		return "other"
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
