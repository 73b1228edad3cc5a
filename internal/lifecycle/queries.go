package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/seo-automation/internal/pipeline"
)

// KeywordFilter narrows ListKeywords. Zero values match everything.
type KeywordFilter struct {
	Status       pipeline.KeywordStatus
	SearchIntent pipeline.SearchIntent
	HighPriority bool
}

func (f KeywordFilter) match(k pipeline.Keyword) bool {
	if f.Status != "" && k.Status != f.Status {
		return false
	}
	if f.SearchIntent != "" && k.SearchIntent != f.SearchIntent {
		return false
	}
	return !f.HighPriority || k.HighPriority()
}

// ListKeywords returns the project's keywords by descending priority.
func (s *Service) ListKeywords(ctx context.Context, projectID string, filter KeywordFilter) ([]pipeline.Keyword, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	all, err := s.store.ListKeywords(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list keywords: %w", err)
	}
	out := make([]pipeline.Keyword, 0, len(all))
	for _, k := range all {
		if filter.match(k) {
			out = append(out, k)
		}
	}
	return out, nil
}

// ListProjects pages through an owner's projects, newest first.
func (s *Service) ListProjects(ctx context.Context, ownerID int64, limit, offset int) ([]pipeline.Project, error) {
	if ownerID <= 0 {
		return nil, pipeline.Invalid("owner_id", "must be positive")
	}
	return s.store.ListProjects(ctx, ownerID, limit, offset)
}

// ProjectDetail loads a project with its keywords and pages.
func (s *Service) ProjectDetail(ctx context.Context, projectID string) (pipeline.ProjectDetail, error) {
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return pipeline.ProjectDetail{}, err
	}
	keywords, err := s.store.ListKeywords(ctx, projectID)
	if err != nil {
		return pipeline.ProjectDetail{}, fmt.Errorf("list keywords: %w", err)
	}
	pages, err := s.store.ListPages(ctx, projectID)
	if err != nil {
		return pipeline.ProjectDetail{}, fmt.Errorf("list pages: %w", err)
	}
	return pipeline.ProjectDetail{Project: p, Keywords: keywords, Pages: pages, Progress: p.Progress()}, nil
}

// ListPages returns the project's pages, newest first.
func (s *Service) ListPages(ctx context.Context, projectID string) ([]pipeline.GeneratedPage, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	pages, err := s.store.ListPages(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	return pages, nil
}

// PageView is a page with its indexing state, for read paths.
type PageView struct {
	pipeline.GeneratedPage
	Excerpt  string                   `json:"excerpt"`
	Indexed  bool                     `json:"indexed"`
	Indexing *pipeline.IndexingStatus `json:"indexing,omitempty"`
}

// Page loads one page with its indexing row, if any.
func (s *Service) Page(ctx context.Context, pageID string) (PageView, error) {
	page, err := s.store.GetPage(ctx, pageID)
	if err != nil {
		return PageView{}, err
	}
	view := PageView{GeneratedPage: page, Excerpt: page.Excerpt()}
	st, err := s.store.GetIndexing(ctx, pageID)
	switch {
	case err == nil:
		view.Indexing = &st
		view.Indexed = st.GoogleIndexed
	case !isNotFound(err):
		return PageView{}, fmt.Errorf("get indexing: %w", err)
	}
	return view, nil
}

// VisibilitySummary is a project's visibility history with its average.
type VisibilitySummary struct {
	Platform string                   `json:"platform,omitempty"`
	Average  float64                  `json:"average_score"`
	Records  []pipeline.LlmVisibility `json:"records"`
}

// Visibility returns the project's records, newest first, and their average score.
func (s *Service) Visibility(ctx context.Context, projectID, platform string) (VisibilitySummary, error) {
	platform = strings.ToLower(strings.TrimSpace(platform))
	records, err := s.store.ListVisibility(ctx, projectID, platform)
	if err != nil {
		return VisibilitySummary{}, err
	}
	avg, err := s.store.AverageVisibility(ctx, projectID, platform)
	if err != nil {
		return VisibilitySummary{}, err
	}
	return VisibilitySummary{Platform: platform, Average: avg, Records: records}, nil
}
