package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/seo-automation/internal/lifecycle"
	"github.com/JakeFAU/seo-automation/internal/pipeline"
)

type createProjectRequest struct {
	URL     string `json:"url"`
	OwnerID int64  `json:"owner_id"`
	Name    string `json:"name"`
}

type transitionRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	project, err := s.onboarder.CreateAndAnalyze(r.Context(), req.URL, req.OwnerID, req.Name)
	if err != nil {
		if errors.Is(err, pipeline.ErrCrawlFailed) && project.ID != "" {
			writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "project": project})
			return
		}
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ownerID, err := strconv.ParseInt(q.Get("owner_id"), 10, 64)
	if err != nil {
		s.fail(w, r, pipeline.Invalid("owner_id", "must be an integer"))
		return
	}
	limit, err := intParam(q.Get("limit"), 20)
	if err != nil {
		s.fail(w, r, pipeline.Invalid("limit", "must be a non-negative integer"))
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil {
		s.fail(w, r, pipeline.Invalid("offset", "must be a non-negative integer"))
		return
	}
	projects, err := s.lifecycle.ListProjects(r.Context(), ownerID, limit, offset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects, "limit": limit, "offset": offset})
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	detail, err := s.lifecycle.ProjectDetail(r.Context(), chi.URLParam(r, "project_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) deleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.lifecycle.SoftDeleteProject(r.Context(), chi.URLParam(r, "project_id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) restoreProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.lifecycle.RestoreProject(r.Context(), chi.URLParam(r, "project_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) reanalyzeProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.onboarder.Reanalyze(r.Context(), chi.URLParam(r, "project_id"))
	if err != nil {
		if errors.Is(err, pipeline.ErrCrawlFailed) && project.ID != "" {
			writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "project": project})
			return
		}
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) transitionProject(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	project, err := s.lifecycle.TransitionProject(r.Context(), chi.URLParam(r, "project_id"),
		pipeline.ProjectStatus(req.From), pipeline.ProjectStatus(req.To))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) recomputeStatistics(w http.ResponseWriter, r *http.Request) {
	counters, err := s.stats.Recompute(r.Context(), chi.URLParam(r, "project_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counters)
}

func (s *Server) projectStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.stats.ProjectStats(r.Context(), chi.URLParam(r, "project_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) listKeywords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := lifecycle.KeywordFilter{
		Status:       pipeline.KeywordStatus(q.Get("status")),
		SearchIntent: pipeline.SearchIntent(q.Get("intent")),
	}
	if raw := q.Get("high_priority"); raw != "" {
		high, err := strconv.ParseBool(raw)
		if err != nil {
			s.fail(w, r, pipeline.Invalid("high_priority", "must be a boolean"))
			return
		}
		filter.HighPriority = high
	}
	keywords, err := s.lifecycle.ListKeywords(r.Context(), chi.URLParam(r, "project_id"), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keywords": keywords})
}

func (s *Server) addKeyword(w http.ResponseWriter, r *http.Request) {
	var in lifecycle.KeywordInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	kw, err := s.lifecycle.AddKeyword(r.Context(), chi.URLParam(r, "project_id"), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, kw)
}

func (s *Server) listPages(w http.ResponseWriter, r *http.Request) {
	pages, err := s.lifecycle.ListPages(r.Context(), chi.URLParam(r, "project_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": pages})
}

func (s *Server) visibility(w http.ResponseWriter, r *http.Request) {
	summary, err := s.lifecycle.Visibility(r.Context(), chi.URLParam(r, "project_id"), r.URL.Query().Get("platform"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) recordVisibility(w http.ResponseWriter, r *http.Request) {
	var rec pipeline.LlmVisibility
	if err := decodeJSON(w, r, &rec); err != nil {
		s.fail(w, r, err)
		return
	}
	saved, err := s.lifecycle.RecordVisibility(r.Context(), chi.URLParam(r, "project_id"), rec)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	ownerID, err := strconv.ParseInt(chi.URLParam(r, "owner_id"), 10, 64)
	if err != nil || ownerID <= 0 {
		s.fail(w, r, pipeline.Invalid("owner_id", "must be a positive integer"))
		return
	}
	dash, err := s.stats.OwnerDashboard(r.Context(), ownerID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dash)
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, pipeline.Invalid("query", "not a non-negative integer")
	}
	return v, nil
}
