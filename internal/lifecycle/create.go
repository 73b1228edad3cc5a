package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JakeFAU/seo-automation/internal/pipeline"
)

// KeywordInput is a keyword produced by research.
type KeywordInput struct {
	SeedKeyword   string                `json:"seed_keyword"`
	Variations    []string              `json:"variations"`
	SearchIntent  pipeline.SearchIntent `json:"search_intent"`
	PriorityScore float64               `json:"priority_score"`
	SearchVolume  *int                  `json:"search_volume"`
	Difficulty    string                `json:"difficulty"`
	Notes         string                `json:"notes"`
}

func (in KeywordInput) validate() error {
	switch {
	case strings.TrimSpace(in.SeedKeyword) == "":
		return pipeline.Invalid("seed_keyword", "is required")
	case in.PriorityScore < 0 || in.PriorityScore > 1:
		return pipeline.Invalid("priority_score", "must be between 0 and 1")
	case !in.SearchIntent.Valid():
		return pipeline.Invalid("search_intent", fmt.Sprintf("unknown intent %q", in.SearchIntent))
	case in.SearchVolume != nil && *in.SearchVolume < 0:
		return pipeline.Invalid("search_volume", "must not be negative")
	}
	return nil
}

// AddKeyword creates a pending keyword under the project. The project must have been
// analyzed; while it is analyzing, failed, or paused the call is rejected.
func (s *Service) AddKeyword(ctx context.Context, projectID string, in KeywordInput) (pipeline.Keyword, error) {
	if err := in.validate(); err != nil {
		return pipeline.Keyword{}, err
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return pipeline.Keyword{}, err
	}
	if !pipeline.KeywordWorkAllowed(project.Status) {
		s.reject(pipeline.EntityKeyword, string(pipeline.KeywordPending))
		return pipeline.Keyword{}, blocked(pipeline.EntityKeyword, "new", "none", string(pipeline.KeywordPending),
			fmt.Sprintf("project is %s", project.Status))
	}
	id, err := s.ids.NewID()
	if err != nil {
		return pipeline.Keyword{}, fmt.Errorf("new keyword id: %w", err)
	}
	variations := make([]string, 0, len(in.Variations))
	for _, v := range in.Variations {
		if v = strings.TrimSpace(v); v != "" {
			variations = append(variations, v)
		}
	}
	kw := pipeline.Keyword{
		ID:            id,
		ProjectID:     projectID,
		SeedKeyword:   strings.TrimSpace(in.SeedKeyword),
		Variations:    variations,
		SearchIntent:  in.SearchIntent,
		PriorityScore: in.PriorityScore,
		SearchVolume:  in.SearchVolume,
		Difficulty:    in.Difficulty,
		Notes:         in.Notes,
		Status:        pipeline.KeywordPending,
		CreatedAt:     s.clock.Now(),
	}
	if err := s.store.CreateKeyword(ctx, kw); err != nil {
		return pipeline.Keyword{}, fmt.Errorf("create keyword: %w", err)
	}
	s.committed(ctx, pipeline.EntityKeyword, projectID, id, string(pipeline.KeywordPending))
	s.recompute(ctx, projectID)
	return s.store.GetKeyword(ctx, id)
}

// PageInput is generated content for one keyword.
type PageInput struct {
	Title           string          `json:"title"`
	Slug            string          `json:"slug"`
	MetaDescription string          `json:"meta_description"`
	ContentHTML     string          `json:"content_html"`
	ContentMarkdown string          `json:"content_markdown"`
	SchemaMarkup    json.RawMessage `json:"schema_markup"`
	InternalLinks   []string        `json:"internal_links"`
}

// AddPage creates the draft page for a keyword that is generating or has generated content.
// An empty slug is derived from the title.
func (s *Service) AddPage(ctx context.Context, keywordID string, in PageInput) (pipeline.GeneratedPage, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return pipeline.GeneratedPage{}, pipeline.Invalid("title", "is required")
	}
	slug := strings.TrimSpace(in.Slug)
	if slug == "" {
		slug = pipeline.Slugify(title)
	}
	if !pipeline.ValidSlug(slug) {
		return pipeline.GeneratedPage{}, pipeline.Invalid("slug", "must be lowercase letters, digits and hyphens")
	}

	k, err := s.store.GetKeyword(ctx, keywordID)
	if err != nil {
		return pipeline.GeneratedPage{}, err
	}
	if k.Status != pipeline.KeywordGenerating && k.Status != pipeline.KeywordGenerated {
		return pipeline.GeneratedPage{}, blocked(pipeline.EntityPage, "", string(k.Status), string(pipeline.PageDraft),
			fmt.Sprintf("keyword is %s", k.Status))
	}

	id, err := s.ids.NewID()
	if err != nil {
		return pipeline.GeneratedPage{}, fmt.Errorf("new page id: %w", err)
	}
	page := pipeline.GeneratedPage{
		ID:              id,
		KeywordID:       k.ID,
		ProjectID:       k.ProjectID,
		Title:           title,
		Slug:            slug,
		MetaDescription: pipeline.Truncate(strings.TrimSpace(in.MetaDescription), 160),
		ContentHTML:     in.ContentHTML,
		ContentMarkdown: in.ContentMarkdown,
		SchemaMarkup:    in.SchemaMarkup,
		InternalLinks:   append([]string{}, in.InternalLinks...),
		WordCount:       len(strings.Fields(pipeline.StripTags(in.ContentHTML))),
		Status:          pipeline.PageDraft,
		CreatedAt:       s.clock.Now(),
	}
	if err := s.store.CreatePage(ctx, page); err != nil {
		return pipeline.GeneratedPage{}, fmt.Errorf("create page: %w", err)
	}
	s.committed(ctx, pipeline.EntityPage, k.ProjectID, id, string(pipeline.PageDraft))
	s.recompute(ctx, k.ProjectID)
	return s.store.GetPage(ctx, id)
}

// RecordVisibility appends an answer-engine probe result. A page-scoped record also
// becomes that page's current llm_visibility_score.
func (s *Service) RecordVisibility(ctx context.Context, projectID string, r pipeline.LlmVisibility) (pipeline.LlmVisibility, error) {
	r.Platform = strings.ToLower(strings.TrimSpace(r.Platform))
	switch {
	case r.Platform == "":
		return pipeline.LlmVisibility{}, pipeline.Invalid("platform", "is required")
	case strings.TrimSpace(r.TestPrompt) == "":
		return pipeline.LlmVisibility{}, pipeline.Invalid("test_prompt", "is required")
	case !r.Sentiment.Valid():
		return pipeline.LlmVisibility{}, pipeline.Invalid("sentiment", fmt.Sprintf("unknown sentiment %q", r.Sentiment))
	case r.VisibilityScore < 0 || r.VisibilityScore > 100:
		return pipeline.LlmVisibility{}, pipeline.Invalid("visibility_score", "must be between 0 and 100")
	}
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return pipeline.LlmVisibility{}, err
	}
	if r.PageID != "" {
		page, err := s.store.GetPage(ctx, r.PageID)
		if err != nil {
			return pipeline.LlmVisibility{}, err
		}
		if page.ProjectID != projectID {
			return pipeline.LlmVisibility{}, pipeline.Invalid("page_id", "belongs to another project")
		}
	}

	id, err := s.ids.NewID()
	if err != nil {
		return pipeline.LlmVisibility{}, fmt.Errorf("new visibility id: %w", err)
	}
	now := s.clock.Now()
	r.ID = id
	r.ProjectID = projectID
	r.CreatedAt = now
	if r.CheckedAt.IsZero() {
		r.CheckedAt = now
	}
	if err := s.store.AppendVisibility(ctx, r); err != nil {
		return pipeline.LlmVisibility{}, fmt.Errorf("append visibility: %w", err)
	}
	if r.PageID != "" {
		if err := s.store.SetPageVisibilityScore(ctx, r.PageID, r.VisibilityScore); err != nil {
			return pipeline.LlmVisibility{}, fmt.Errorf("update page visibility: %w", err)
		}
	}
	s.announce(ctx, pipeline.Event{
		Kind:      "visibility.recorded",
		ProjectID: projectID,
		EntityID:  id,
		Status:    r.Platform,
		At:        now,
	})
	return r, nil
}
