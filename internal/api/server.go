// Package api exposes the case management HTTP surface: uploads, analysis,
// document viewing, grounded chat and exports.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/settlementops/internal/analysis"
	"github.com/dharsanguruparan/settlementops/internal/config"
	"github.com/dharsanguruparan/settlementops/internal/export"
	"github.com/dharsanguruparan/settlementops/internal/llm"
	"github.com/dharsanguruparan/settlementops/internal/processing"
	"github.com/dharsanguruparan/settlementops/internal/queue"
	"github.com/dharsanguruparan/settlementops/internal/repository"
	"github.com/dharsanguruparan/settlementops/internal/storage"
)

// AnalysisPool is satisfied by *processing.Processor.
type AnalysisPool interface {
	Analyze(ctx context.Context, id int64) (*analysis.Result, error)
	Submit(id int64) (<-chan processing.Outcome, error)
}

// Deps are the collaborators a Server needs. Queue is optional; without it
// asynchronous analyses go to the in-process pool.
type Deps struct {
	Config   *config.Config
	Repo     repository.CaseRepository
	Store    storage.DocumentStore
	Pool     AnalysisPool
	Queue    queue.Enqueuer
	Provider llm.Provider
	Exporter *export.Service
	Logger   *zap.Logger
}

// Server exposes HTTP endpoints for case management.
type Server struct {
	cfg      *config.Config
	repo     repository.CaseRepository
	store    storage.DocumentStore
	pool     AnalysisPool
	queue    queue.Enqueuer
	provider llm.Provider
	exporter *export.Service
	logger   *zap.Logger
}

// New constructs a Server.
func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	exporter := deps.Exporter
	if exporter == nil {
		exporter = export.NewService(logger)
	}
	return &Server{
		cfg:      deps.Config,
		repo:     deps.Repo,
		store:    deps.Store,
		pool:     deps.Pool,
		queue:    deps.Queue,
		provider: deps.Provider,
		exporter: exporter,
		logger:   logger,
	}
}

// Routes builds the router. Static segments such as /cases/upload win over
// the {id} parameter.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", s.handleHealth)
		api.Get("/cases", s.handleListCases)
		api.Post("/cases/upload", s.handleUpload)
		api.Get("/cases/{id}", s.handleGetCase)
		api.Delete("/cases/{id}", s.handleDeleteCase)
		api.Post("/cases/{id}/analyze", s.handleAnalyze)
		api.Get("/cases/{id}/pdf/{docType}", s.handleDocument)
		api.Post("/cases/{id}/chat", s.handleChat)
		api.Get("/cases/{id}/export.xlsx", s.handleExport)
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Run starts the HTTP server and blocks until the context is cancelled.
// There is no write timeout: analyses and chat streams are long-lived.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	s.logger.Info("api.listening", zap.String("address", s.cfg.Address))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
