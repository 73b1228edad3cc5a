package memory

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/JakeFAU/seo-automation/internal/pipeline"
)

// CreateKeyword stores a keyword under a live project.
func (s *Store) CreateKeyword(_ context.Context, keyword pipeline.Keyword) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.liveProject(keyword.ProjectID); !ok {
		return pipeline.ErrNotFound
	}
	if _, exists := s.keywords[keyword.ID]; exists {
		return errors.New("keyword already exists")
	}
	if keyword.CreatedAt.IsZero() {
		keyword.CreatedAt = s.now()
	}
	keyword.UpdatedAt = keyword.CreatedAt
	s.keywords[keyword.ID] = cloneKeyword(keyword)
	return nil
}

// GetKeyword fetches a keyword by ID.
func (s *Store) GetKeyword(_ context.Context, id string) (pipeline.Keyword, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.liveKeyword(id)
	if !ok {
		return pipeline.Keyword{}, pipeline.ErrNotFound
	}
	return cloneKeyword(k), nil
}

// ListKeywords returns the project's keywords by priority, highest first.
func (s *Store) ListKeywords(_ context.Context, projectID string) ([]pipeline.Keyword, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.liveProject(projectID); !ok {
		return nil, pipeline.ErrNotFound
	}
	out := make([]pipeline.Keyword, 0)
	for _, k := range s.keywords {
		if k.ProjectID == projectID {
			out = append(out, cloneKeyword(k))
		}
	}
	slices.SortFunc(out, func(a, b pipeline.Keyword) int {
		switch {
		case a.PriorityScore > b.PriorityScore:
			return -1
		case a.PriorityScore < b.PriorityScore:
			return 1
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

// CompareAndSetKeywordStatus moves the keyword from -> to, or returns ErrStaleState.
func (s *Store) CompareAndSetKeywordStatus(_ context.Context, id string, from, to pipeline.KeywordStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.liveKeyword(id)
	if !ok {
		return pipeline.ErrNotFound
	}
	if k.Status != from {
		return pipeline.ErrStaleState
	}
	k.Status = to
	k.UpdatedAt = s.now()
	s.keywords[id] = k
	return nil
}

// CountKeywords counts every keyword of the project.
func (s *Store) CountKeywords(_ context.Context, projectID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, k := range s.keywords {
		if k.ProjectID == projectID {
			n++
		}
	}
	return n, nil
}
