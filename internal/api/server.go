package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/fraudmetrics"
	"github.com/opensource-finance/shrike/internal/lifecycle"
	"github.com/opensource-finance/shrike/internal/scoring"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, analyzer *scoring.Analyzer, lc *lifecycle.Service, metrics *fraudmetrics.Aggregator, version string) *Server {
	handler := NewHandler(repo, cache, bus, analyzer, lc, metrics, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (tenant required)
	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Transaction ingest and synchronous analysis
		r.Post("/transactions", handler.IngestTransaction)
		r.Get("/transactions/{id}", handler.GetTransaction)
		r.Post("/analyze", handler.Analyze)

		// Alerts
		r.Get("/alerts", handler.ListAlerts)
		r.Get("/alerts/dashboard", handler.AlertDashboard)
		r.Get("/alerts/{id}", handler.GetAlert)
		r.Post("/alerts/{id}/resolve", handler.ResolveAlert)
		r.Post("/alerts/{id}/escalate", handler.EscalateAlert)

		// Investigations
		r.Get("/investigations", handler.ListInvestigations)
		r.Get("/investigations/{id}", handler.GetInvestigation)
		r.Post("/investigations/{id}/assign", handler.AssignInvestigation)
		r.Post("/investigations/{id}/notes", handler.AddInvestigationNote)
		r.Post("/investigations/{id}/close", handler.CloseInvestigation)

		// Rule management
		r.Get("/rules", handler.ListRules)
		r.Get("/rules/{id}", handler.GetRule)
		r.Post("/rules", handler.CreateRule)
		r.Put("/rules/{id}", handler.UpdateRule)
		r.Delete("/rules/{id}", handler.DeactivateRule)
		r.Post("/rules/validate", handler.ValidateRule)
		r.Post("/rules/{id}/test", handler.TestRule)
		r.Get("/rules/templates", handler.RuleTemplates)

		// Whitelist
		r.Get("/whitelist", handler.ListWhitelist)
		r.Post("/whitelist", handler.CreateWhitelistEntry)
		r.Delete("/whitelist/{id}", handler.DeleteWhitelistEntry)

		// Metrics
		r.Get("/metrics/summary", handler.MetricsSummary)
		r.Get("/metrics/trends", handler.MetricsTrends)
		r.Post("/metrics/compute", handler.ComputeMetrics)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
