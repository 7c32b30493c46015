package api

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/FairForge/loadlab/internal/catalog"
	"github.com/FairForge/loadlab/internal/config"
	"github.com/FairForge/loadlab/internal/metrics"
)

const version = "0.1.0"

type Server struct {
	config     config.ServerConfig
	logger     *zap.Logger
	router     *mux.Router
	httpServer *http.Server
	service    *catalog.Service
	metrics    *metrics.Metrics

	requestCount int64
	errorCount   int64
	startTime    time.Time
}

// NewServer wires the movie search routes. A nil Metrics disables /metrics
// and request instrumentation.
func NewServer(cfg config.ServerConfig, svc *catalog.Service, m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		config:    cfg,
		logger:    logger,
		router:    mux.NewRouter(),
		service:   svc,
		metrics:   m,
		startTime: time.Now(),
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/", s.handleRoot).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/version", s.handleVersion).Methods("GET")

	s.router.HandleFunc("/search/{query}", s.handleSearch).Methods("GET")
	s.router.HandleFunc("/movie/{id}", s.handleMovie).Methods("GET")
	s.router.HandleFunc("/popular", s.handlePopular).Methods("GET")

	s.router.HandleFunc("/cache/stats", s.handleCacheStats).Methods("GET")
	s.router.HandleFunc("/cache/movie/{id}", s.handleInvalidate).Methods("DELETE")
	s.router.HandleFunc("/pool/stats", s.handlePoolStats).Methods("GET")

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	s.router.Use(s.loggingMiddleware)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Movie search API"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":   "healthy",
		"version":  version,
		"uptime":   time.Since(s.startTime).Seconds(),
		"requests": atomic.LoadInt64(&s.requestCount),
		"errors":   atomic.LoadInt64(&s.errorCount),
	}
	if c := s.service.Cache(); c != nil {
		health["cache_size"] = c.Len()
	}
	writeJSON(w, http.StatusOK, health)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": version,
		"go":      runtime.Version(),
	})
}

func (s *Server) Start() error {
	s.logger.Info("Starting server", zap.String("addr", s.config.Addr))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
