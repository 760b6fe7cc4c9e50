package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	apihandler "github.com/newthinker/keywatch/internal/api/handler/api"
	"github.com/newthinker/keywatch/internal/api/job"
	"github.com/newthinker/keywatch/internal/api/middleware"
	"github.com/newthinker/keywatch/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server represents the HTTP server for keywatch
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	mux        *http.ServeMux
}

// Config holds server configuration
type Config struct {
	Host        string
	Port        int
	APIKey      string
	MetricsPath string
}

// App is everything the REST handlers need from app.App.
type App interface {
	apihandler.SeriesApp
	apihandler.ExportApp
	apihandler.WatchlistApp
}

// Dependencies holds the services the routes are wired to.
type Dependencies struct {
	App App
	// Metrics is optional. When set, requests are instrumented and the
	// registry is served on Config.MetricsPath.
	Metrics *metrics.Registry
	// Jobs is optional; a fresh store is created when nil.
	Jobs *job.Store
}

// NewServer creates a new HTTP server
func NewServer(cfg Config, deps Dependencies, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.App == nil {
		return nil, fmt.Errorf("server requires an app")
	}
	if deps.Jobs == nil {
		deps.Jobs = job.NewStore(100, time.Hour)
	}

	mux := http.NewServeMux()
	s := &Server{logger: logger, mux: mux}
	s.setupRoutes(cfg, deps)

	var handler http.Handler = mux
	if deps.Metrics != nil {
		handler = metrics.HTTPMiddleware(deps.Metrics)(handler)
	}
	handler = metrics.LoggingMiddleware(logger)(handler)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(cfg Config, deps Dependencies) {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	if deps.Metrics != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.mux.Handle("GET "+path, promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{}))
	}

	seriesHandler := apihandler.NewSeriesHandler(deps.App)
	watchlistHandler := apihandler.NewWatchlistHandler(deps.App)
	exportHandler := apihandler.NewExportHandler(deps.App, deps.Jobs, s.logger)

	v1 := http.NewServeMux()
	v1.HandleFunc("GET /api/v1/collectors", seriesHandler.Collectors)
	v1.HandleFunc("GET /api/v1/series", seriesHandler.Series)
	v1.HandleFunc("GET /api/v1/coverage", seriesHandler.Coverage)
	v1.HandleFunc("GET /api/v1/watchlist", watchlistHandler.List)
	v1.HandleFunc("POST /api/v1/watchlist", watchlistHandler.Add)
	v1.HandleFunc("DELETE /api/v1/watchlist/{keyword}", watchlistHandler.Remove)
	v1.HandleFunc("POST /api/v1/exports", exportHandler.Create)
	v1.HandleFunc("GET /api/v1/jobs/{id}", exportHandler.GetStatus)

	s.mux.Handle("/api/v1/", middleware.APIKeyAuth(cfg.APIKey)(v1))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
