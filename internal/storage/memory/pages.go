package memory

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/JakeFAU/seo-automation/internal/pipeline"
)

// CreatePage stores a page, enforcing global slug uniqueness and one page per keyword.
func (s *Store) CreatePage(_ context.Context, page pipeline.GeneratedPage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.liveKeyword(page.KeywordID); !ok {
		return pipeline.ErrNotFound
	}
	if _, exists := s.pages[page.ID]; exists {
		return errors.New("page already exists")
	}
	for _, existing := range s.pages {
		if existing.Slug == page.Slug {
			return pipeline.ErrDuplicateSlug
		}
		if existing.KeywordID == page.KeywordID {
			return pipeline.ErrPageExists
		}
	}
	if page.CreatedAt.IsZero() {
		page.CreatedAt = s.now()
	}
	page.UpdatedAt = page.CreatedAt
	s.pages[page.ID] = clonePage(page)
	return nil
}

// GetPage fetches a page by ID.
func (s *Store) GetPage(_ context.Context, id string) (pipeline.GeneratedPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.livePage(id)
	if !ok {
		return pipeline.GeneratedPage{}, pipeline.ErrNotFound
	}
	return clonePage(p), nil
}

// GetPageByKeyword fetches the page generated for a keyword.
func (s *Store) GetPageByKeyword(_ context.Context, keywordID string) (pipeline.GeneratedPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, p := range s.pages {
		if p.KeywordID == keywordID {
			if live, ok := s.livePage(id); ok {
				return clonePage(live), nil
			}
		}
	}
	return pipeline.GeneratedPage{}, pipeline.ErrNotFound
}

// ListPages returns the project's pages, newest first.
func (s *Store) ListPages(_ context.Context, projectID string) ([]pipeline.GeneratedPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.liveProject(projectID); !ok {
		return nil, pipeline.ErrNotFound
	}
	out := make([]pipeline.GeneratedPage, 0)
	for _, p := range s.pages {
		if p.ProjectID == projectID {
			out = append(out, clonePage(p))
		}
	}
	slices.SortFunc(out, func(a, b pipeline.GeneratedPage) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	return out, nil
}

// CompareAndSetPageStatus moves the page from -> to, or returns ErrStaleState.
func (s *Store) CompareAndSetPageStatus(_ context.Context, id string, from, to pipeline.PageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.livePage(id)
	if !ok {
		return pipeline.ErrNotFound
	}
	if p.Status != from {
		return pipeline.ErrStaleState
	}
	p.Status = to
	p.UpdatedAt = s.now()
	s.pages[id] = p
	return nil
}

// PublishPage moves the page publishing -> published and its keyword keywordFrom -> published
// in one step. published_at is stamped only on the first publish.
func (s *Store) PublishPage(_ context.Context, id string, keywordFrom pipeline.KeywordStatus, pub pipeline.Publication) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.livePage(id)
	if !ok {
		return pipeline.ErrNotFound
	}
	k, ok := s.liveKeyword(p.KeywordID)
	if !ok {
		return pipeline.ErrNotFound
	}
	if p.Status != pipeline.PagePublishing || k.Status != keywordFrom {
		return pipeline.ErrStaleState
	}

	now := s.now()
	p.Status = pipeline.PagePublished
	p.PublishedURL = pub.URL
	if pub.CMSPostID != nil {
		v := *pub.CMSPostID
		p.CMSPostID = &v
	}
	if p.PublishedAt == nil {
		p.PublishedAt = pointerTime(pub.At)
	}
	p.UpdatedAt = now
	k.Status = pipeline.KeywordPublished
	k.UpdatedAt = now

	s.pages[id] = p
	s.keywords[k.ID] = k
	return nil
}

// SetPageVisibilityScore records the latest visibility score on the page.
func (s *Store) SetPageVisibilityScore(_ context.Context, id string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.livePage(id)
	if !ok {
		return pipeline.ErrNotFound
	}
	p.LLMVisibilityScore = score
	p.UpdatedAt = s.now()
	s.pages[id] = p
	return nil
}

// CountPages counts the project's pages, optionally only those in status.
func (s *Store) CountPages(_ context.Context, projectID string, status pipeline.PageStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.pages {
		if p.ProjectID == projectID && (status == "" || p.Status == status) {
			n++
		}
	}
	return n, nil
}
