package httpserver

import (
	"net/http"
	"time"

	"github.com/mcpay/gateway/pkg/responders"
)

type healthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Mode          string `json:"mode,omitempty"`
}

// health handles GET /mcpay-health.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	responders.JSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(serverStartTime).Seconds()),
		Mode:          s.cfg.Mode,
	})
}
