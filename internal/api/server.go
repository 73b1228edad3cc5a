// Package api exposes the HTTP interface for the SEO pipeline service.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/seo-automation/internal/config"
	"github.com/JakeFAU/seo-automation/internal/lifecycle"
	"github.com/JakeFAU/seo-automation/internal/metrics"
	"github.com/JakeFAU/seo-automation/internal/middleware"
	"github.com/JakeFAU/seo-automation/internal/pipeline"
	"github.com/JakeFAU/seo-automation/internal/stats"
)

// requestTimeout covers a full crawl plus a provider call.
const requestTimeout = 120 * time.Second

// Onboarder creates and re-runs website analyses.
type Onboarder interface {
	CreateAndAnalyze(ctx context.Context, url string, ownerID int64, name string) (pipeline.Project, error)
	Reanalyze(ctx context.Context, projectID string) (pipeline.Project, error)
}

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the services behind the handlers. Ready may be nil.
type Dependencies struct {
	Onboarder Onboarder
	Lifecycle *lifecycle.Service
	Stats     *stats.Aggregator
	Ready     Pinger
	Logger    *zap.Logger
}

// Server wires HTTP handlers to the pipeline services.
type Server struct {
	router    chi.Router
	onboarder Onboarder
	lifecycle *lifecycle.Service
	stats     *stats.Aggregator
	ready     Pinger
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Dependencies, auth config.AuthConfig) (*Server, error) {
	switch {
	case deps.Onboarder == nil:
		return nil, errors.New("onboarder is required")
	case deps.Lifecycle == nil:
		return nil, errors.New("lifecycle service is required")
	case deps.Stats == nil:
		return nil, errors.New("statistics aggregator is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		onboarder: deps.Onboarder,
		lifecycle: deps.Lifecycle,
		stats:     deps.Stats,
		ready:     deps.Ready,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Metrics)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Recover(logger))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if auth.Enabled {
			r.Use(middleware.APIKey(auth.APIKey))
		}
		r.Use(timeout(requestTimeout))

		r.Route("/projects", func(r chi.Router) {
			r.Post("/", s.createProject)
			r.Get("/", s.listProjects)
			r.Route("/{project_id}", func(r chi.Router) {
				r.Get("/", s.getProject)
				r.Delete("/", s.deleteProject)
				r.Post("/restore", s.restoreProject)
				r.Post("/reanalyze", s.reanalyzeProject)
				r.Post("/transition", s.transitionProject)
				r.Post("/statistics/recompute", s.recomputeStatistics)
				r.Get("/stats", s.projectStats)
				r.Get("/keywords", s.listKeywords)
				r.Post("/keywords", s.addKeyword)
				r.Get("/pages", s.listPages)
				r.Get("/visibility", s.visibility)
				r.Post("/visibility", s.recordVisibility)
			})
		})
		r.Route("/keywords/{keyword_id}", func(r chi.Router) {
			r.Post("/transition", s.transitionKeyword)
			r.Post("/pages", s.addPage)
		})
		r.Route("/pages/{page_id}", func(r chi.Router) {
			r.Get("/", s.getPage)
			r.Post("/transition", s.transitionPage)
			r.Post("/publish", s.publishPage)
			r.Post("/indexing/submit", s.markSubmitted)
			r.Post("/indexing/check", s.recordIndexingCheck)
		})
		r.Get("/owners/{owner_id}/dashboard", s.dashboard)
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}
