// Package httpserver wires the chi router: the /mcp/{serverID} proxy
// pipeline, health and discovery endpoints, Prometheus metrics, and the
// admin registration surface.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mcpay/gateway/internal/catalog"
	"github.com/mcpay/gateway/internal/config"
	"github.com/mcpay/gateway/internal/logger"
	"github.com/mcpay/gateway/internal/metrics"
	"github.com/mcpay/gateway/internal/pipeline"
	"github.com/mcpay/gateway/internal/ratelimit"
)

var serverStartTime = time.Now()

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg     *config.Config
	repo    catalog.Repository
	runner  *pipeline.Runner
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New builds the HTTP server with the configured router.
func New(cfg *config.Config, repo catalog.Repository, runner *pipeline.Runner, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: handlers{
			cfg:     cfg,
			repo:    repo,
			runner:  runner,
			metrics: metricsCollector,
			logger:  appLogger,
		},
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	s.configureRouter(router)
	return s
}

func (s *Server) configureRouter(router chi.Router) {
	cfg := s.cfg

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			ExposedHeaders:   []string{"x-mcpay-cache", "X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(securityHeadersMiddleware)
	router.Use(logger.Middleware(s.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	prefix := cfg.Server.RoutePrefix

	// Lightweight endpoints with a short timeout.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get(prefix+"/mcpay-health", s.health)
		r.Get(prefix+"/.well-known/mcpay.json", s.discoveryDocument)
		r.With(adminMetricsAuth(cfg.Server.AdminMetricsAPIKey)).Handle(prefix+"/metrics", promhttp.Handler())
	})

	// Admin control plane, per-IP limited.
	adminLimiter := ratelimit.AdminIPLimiter(ratelimit.AdminConfig{
		Enabled: cfg.AdminRateLimit.Enabled,
		Limit:   cfg.AdminRateLimit.Limit,
		Window:  cfg.AdminRateLimit.Window.Duration,
		Metrics: s.metrics,
	})
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(10 * time.Second))
		r.Use(adminLimiter)
		r.Post(prefix+"/admin/servers", s.registerServer)
		r.Get(prefix+"/admin/servers", s.listServers)
		r.Get(prefix+"/admin/servers/{serverID}/tools", s.listServerTools)
		r.Put(prefix+"/admin/servers/{serverID}/tools/{toolName}", s.upsertServerTool)
	})

	// The proxy itself. No timeout middleware: streaming upstream responses
	// must not be cut off; the pipeline honors request cancellation instead.
	router.Handle(prefix+"/mcp/{serverID}", http.HandlerFunc(s.proxy))
	router.Handle(prefix+"/mcp/{serverID}/*", http.HandlerFunc(s.proxy))
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the configured router, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
