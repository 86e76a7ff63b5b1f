// Package analytics records one usage event per proxied request that
// produced an upstream response. Writes are best-effort: a storage failure
// is logged and never fails the request.
package analytics

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mcpay/gateway/internal/catalog"
	"github.com/mcpay/gateway/internal/logger"
	"github.com/mcpay/gateway/internal/metrics"
)

// Event is the request-scoped material the recorder snapshots.
type Event struct {
	ServerID string
	ToolID   string
	ToolName string
	UserID   string

	ResponseStatus int
	Elapsed        time.Duration

	IPAddress string
	UserAgent string

	RequestBody []byte
	// ResponseBody is nil for streaming responses, which are never captured.
	ResponseBody []byte
}

// Recorder writes usage events through the catalog repository.
type Recorder struct {
	repo    catalog.Repository
	metrics *metrics.Metrics
}

// New builds a Recorder.
func New(repo catalog.Repository, m *metrics.Metrics) *Recorder {
	return &Recorder{repo: repo, metrics: m}
}

// Record writes one usage event. Malformed request/response bodies are
// wrapped rather than dropped so the snapshot always documents what was seen.
func (r *Recorder) Record(ctx context.Context, event Event) {
	usage := catalog.UsageEvent{
		ID:              uuid.NewString(),
		ToolID:          event.ToolID,
		ServerID:        event.ServerID,
		UserID:          event.UserID,
		ResponseStatus:  event.ResponseStatus,
		ExecutionTimeMs: event.Elapsed.Milliseconds(),
		IPAddress:       event.IPAddress,
		UserAgent:       event.UserAgent,
		RequestSnapshot: snapshot(event.RequestBody, "request"),
	}
	if event.ResponseBody != nil {
		usage.ResultSnapshot = snapshot(event.ResponseBody, "response")
	}

	if err := r.repo.RecordToolUsage(ctx, usage); err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).
			Str("server_id", event.ServerID).
			Str("tool_id", event.ToolID).
			Msg("usage event write failed")
		return
	}

	if r.metrics != nil {
		outcome := "ok"
		if event.ResponseStatus >= 400 {
			outcome = "error"
		}
		r.metrics.ObserveToolCall(event.ServerID, event.ToolName, outcome, event.Elapsed)
	}
}

// snapshot returns body verbatim when it is valid JSON, otherwise a JSON
// wrapper {"<field>": "<raw text>"}.
func snapshot(body []byte, field string) []byte {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return body
	}
	wrapped, err := json.Marshal(map[string]string{field: string(body)})
	if err != nil {
		return nil
	}
	return wrapped
}
