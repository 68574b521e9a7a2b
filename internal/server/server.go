// Package server provides the HTTP server and routing for Coffer.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/coffer/internal/access"
	"github.com/aristath/coffer/internal/config"
	"github.com/aristath/coffer/internal/database"
	"github.com/aristath/coffer/internal/decision"
	decisionhandlers "github.com/aristath/coffer/internal/decision/handlers"
	"github.com/aristath/coffer/internal/feed"
	feedhandlers "github.com/aristath/coffer/internal/feed/handlers"
	"github.com/aristath/coffer/internal/ledger"
	ledgerhandlers "github.com/aristath/coffer/internal/ledger/handlers"
	"github.com/aristath/coffer/internal/rebalancing"
	rebalancinghandlers "github.com/aristath/coffer/internal/rebalancing/handlers"
	"github.com/aristath/coffer/internal/reliability"
	reliabilityhandlers "github.com/aristath/coffer/internal/reliability/handlers"
	"github.com/aristath/coffer/internal/strategy"
	strategyhandlers "github.com/aristath/coffer/internal/strategy/handlers"
)

// Config holds server configuration
type Config struct {
	Log      zerolog.Logger
	Config   *config.Config
	LedgerDB *database.DB
	MarketDB *database.DB
	CacheDB  *database.DB

	Ledger           *ledger.Ledger
	LedgerRepo       *ledger.Repository
	Registry         *strategy.Registry
	Roles            *access.Roles
	Coordinator      *rebalancing.Coordinator
	RebalanceHistory *rebalancing.HistoryRepository
	DecisionRepo     *decision.Repository
	Evaluator        decisionhandlers.Evaluator
	FeedService      *feed.Service

	// Backup services are nil when off-site backups are disabled.
	BackupService  *reliability.BackupService
	RestoreService *reliability.RestoreService
}

// Server represents the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	cfg            Config
	systemHandlers *SystemHandlers
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	databases := map[string]*database.DB{
		"ledger": cfg.LedgerDB,
		"market": cfg.MarketDB,
		"cache":  cfg.CacheDB,
	}

	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		cfg:    cfg,
		systemHandlers: NewSystemHandlers(
			cfg.Log,
			cfg.Config.DataDir,
			databases,
			cfg.Ledger,
			cfg.FeedService,
		),
	}

	s.setupMiddleware(cfg.Config.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	// Timeout
	s.router.Use(middleware.Timeout(60 * time.Second))

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Compress responses
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.Get("/health", s.handleHealth)

	// API routes
	s.router.Route("/api", func(r chi.Router) {
		// Vault module
		vaultHandler := ledgerhandlers.NewVaultHandlers(s.cfg.Ledger, s.cfg.LedgerRepo, s.cfg.Registry, s.log)
		vaultHandler.RegisterRoutes(r)

		// Venues module
		venueHandler := strategyhandlers.NewVenueHandlers(s.cfg.Registry, s.log)
		venueHandler.RegisterRoutes(r)

		// Rebalancing module
		rebalancingHandler := rebalancinghandlers.NewRebalancingHandlers(s.cfg.Coordinator, s.cfg.RebalanceHistory, s.log)
		rebalancingHandler.RegisterRoutes(r)

		// Decision module
		decisionHandler := decisionhandlers.NewDecisionHandlers(s.cfg.DecisionRepo, s.cfg.Evaluator, s.log)
		decisionHandler.RegisterRoutes(r)

		// Feed module
		feedHandler := feedhandlers.NewFeedHandlers(s.cfg.FeedService, s.log)
		feedHandler.RegisterRoutes(r)

		// Backup module (handlers answer 501 when services are nil)
		backupHandler := reliabilityhandlers.NewBackupHandlers(s.cfg.BackupService, s.cfg.RestoreService, s.cfg.Roles, s.log)
		backupHandler.RegisterRoutes(r)

		// System monitoring
		r.Route("/system", func(r chi.Router) {
			r.Get("/status", s.systemHandlers.HandleSystemStatus)
			r.Get("/jobs", s.systemHandlers.HandleJobsStatus)
			r.Get("/database/stats", s.systemHandlers.HandleDatabaseStats)
		})
	})
}

// handleHealth responds to liveness probes
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(`{"status":"ok"}`)); err != nil {
		s.log.Error().Err(err).Msg("Failed to write health response")
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Config.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
