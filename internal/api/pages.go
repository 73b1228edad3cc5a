package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/seo-automation/internal/lifecycle"
	"github.com/JakeFAU/seo-automation/internal/pipeline"
)

func (s *Server) transitionKeyword(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	kw, err := s.lifecycle.TransitionKeyword(r.Context(), chi.URLParam(r, "keyword_id"),
		pipeline.KeywordStatus(req.From), pipeline.KeywordStatus(req.To))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, kw)
}

func (s *Server) addPage(w http.ResponseWriter, r *http.Request) {
	var in lifecycle.PageInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := s.lifecycle.AddPage(r.Context(), chi.URLParam(r, "keyword_id"), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, page)
}

func (s *Server) getPage(w http.ResponseWriter, r *http.Request) {
	view, err := s.lifecycle.Page(r.Context(), chi.URLParam(r, "page_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) transitionPage(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := s.lifecycle.TransitionPage(r.Context(), chi.URLParam(r, "page_id"),
		pipeline.PageStatus(req.From), pipeline.PageStatus(req.To))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) publishPage(w http.ResponseWriter, r *http.Request) {
	var in lifecycle.PublishInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := s.lifecycle.PublishPage(r.Context(), chi.URLParam(r, "page_id"), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) markSubmitted(w http.ResponseWriter, r *http.Request) {
	st, err := s.lifecycle.MarkSubmitted(r.Context(), chi.URLParam(r, "page_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) recordIndexingCheck(w http.ResponseWriter, r *http.Request) {
	var check pipeline.IndexingCheck
	if err := decodeJSON(w, r, &check); err != nil {
		s.fail(w, r, err)
		return
	}
	st, err := s.lifecycle.RecordIndexingCheck(r.Context(), chi.URLParam(r, "page_id"), check)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
