package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func gatherCount(t *testing.T, registry *prometheus.Registry, name string) int {
	t.Helper()
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() == name {
			return len(family.GetMetric())
		}
	}
	return 0
}

func TestNewRegistersAndObserves(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveToolCall("SRV", "myTool", "ok", 120*time.Millisecond)
	m.ObservePaymentGate("SRV", "myTool", "verified", 40*time.Millisecond)
	m.ObserveSettlement("base-sepolia", "success", time.Second)
	m.ObserveCacheResult("up.example", "hit")
	m.ObserveRateLimitWait("up.example", 250*time.Millisecond)
	m.ObserveRateLimitReject("admin_ip")
	m.ObserveUpstream("up.example", 80*time.Millisecond, nil)
	m.ObserveUpstream("up.example", 80*time.Millisecond, errors.New("dial tcp: timeout"))
	m.ObserveSignerAttempt("test", "success")
	m.ObserveDBQuery("get_server", "postgres", time.Millisecond)
	m.ObserveAdminRequest("/admin/servers", "Created")

	for _, name := range []string{
		"mcpay_tool_calls_total",
		"mcpay_payment_gate_total",
		"mcpay_settlement_total",
		"mcpay_cache_result_total",
		"mcpay_rate_limit_wait_seconds",
		"mcpay_rate_limit_reject_total",
		"mcpay_upstream_duration_seconds",
		"mcpay_upstream_errors_total",
		"mcpay_signer_attempts_total",
		"mcpay_db_query_duration_seconds",
		"mcpay_admin_requests_total",
	} {
		if gatherCount(t, registry, name) == 0 {
			t.Errorf("series %s not recorded", name)
		}
	}
}

func TestMeasureDBQueryNilSafe(t *testing.T) {
	done := MeasureDBQuery(nil, "get_server", "postgres")
	done() // must not panic
}
