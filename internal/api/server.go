package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"pspec/app"
	"pspec/internal"
)

// Server exposes the evaluation service over HTTP so out-of-process
// samplers can drive the likelihood.
type Server struct {
	router  *chi.Mux
	service *app.EvaluationService
	logger  *internal.Logger
}

// Config holds HTTP server configuration
type Config struct {
	Port string
}

// NewServer creates a new API server around an evaluation service.
func NewServer(service *app.EvaluationService, logger *internal.Logger) *Server {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	s := &Server{
		router:  chi.NewRouter(),
		service: service,
		logger:  logger,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/evaluate", s.handleEvaluate)
		r.Get("/evaluations", s.handleListEvaluations)
		r.Get("/evaluations/{id}", s.handleGetEvaluation)
		r.Get("/evaluations/{id}/report", s.handleEvaluationReport)
		r.Get("/measurements", s.handleListMeasurements)
		r.Get("/measurements/{window}/profile", s.handleMeasurementProfile)
	})
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe starts the server on the configured port.
func (s *Server) ListenAndServe(cfg Config) error {
	addr := ":" + cfg.Port
	s.logger.Info("likelihood API listening on %s", addr)
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"strategy": string(s.service.Container().Strategy()),
		"method":   string(s.service.Container().Method()),
		"windows":  fmt.Sprintf("%d", len(s.service.Container().Windows())),
	})
}
