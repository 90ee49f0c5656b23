package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgallion1/filingsum/internal/config"
	"github.com/dgallion1/filingsum/internal/llm"
	"github.com/dgallion1/filingsum/internal/pipeline"
)

// Server is the HTTP API server for filingsum.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	llm          llm.Client
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server. client may be nil, in
// which case /api/stats/llm reports unavailable.
func NewServer(orch *pipeline.Orchestrator, client llm.Client, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		llm:          client,
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Post("/api/analyze", s.handleAnalyze)
		r.Post("/api/analyze/batch", s.handleBatchAnalyze)
		r.Get("/api/analyze/{jobID}/status", s.handleAnalyzeStatus)
		r.Get("/api/analyze/{jobID}/result", s.handleAnalyzeResult)
		r.Post("/api/sections", s.handleSections)

		r.Get("/api/analyses", s.handleListAnalyses)
		r.Get("/api/analyses/{hash}", s.handleGetAnalysis)
		r.Delete("/api/analyses/{hash}", s.handleDeleteAnalysis)

		r.Get("/api/forms", s.handleListForms)
		r.Get("/api/stats/llm", s.handleLLMStats)
		r.Get("/api/stats/ratelimit", s.handleRateLimitStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"queue_depth": s.orchestrator.QueueDepth(),
	})
}
