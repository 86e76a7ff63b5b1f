package httpserver

import (
	"net/http"

	"github.com/mcpay/gateway/internal/pipeline"
)

// proxy hands a /mcp/{serverID} request to the pipeline runner. All routing,
// payment, and caching decisions live in the pipeline steps; the handler
// only builds the per-request context.
func (s *Server) proxy(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		http.Error(w, `{"error":"proxy not configured"}`, http.StatusServiceUnavailable)
		return
	}
	s.runner.Run(pipeline.NewContext(w, r))
}
