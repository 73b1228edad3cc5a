package memory

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/JakeFAU/seo-automation/internal/pipeline"
)

// CreateProject stores a new project.
func (s *Store) CreateProject(_ context.Context, project pipeline.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.projects[project.ID]; exists {
		return errors.New("project already exists")
	}
	now := s.now()
	if project.CreatedAt.IsZero() {
		project.CreatedAt = now
	}
	project.UpdatedAt = project.CreatedAt
	s.projects[project.ID] = cloneProject(project)
	return nil
}

// GetProject fetches a live project by ID.
func (s *Store) GetProject(_ context.Context, id string) (pipeline.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.liveProject(id)
	if !ok {
		return pipeline.Project{}, pipeline.ErrNotFound
	}
	return cloneProject(p), nil
}

// ListProjects returns the owner's live projects, newest first.
func (s *Store) ListProjects(_ context.Context, ownerID int64, limit, offset int) ([]pipeline.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]pipeline.Project, 0)
	for _, p := range s.projects {
		if p.OwnerID == ownerID && p.DeletedAt == nil {
			out = append(out, cloneProject(p))
		}
	}
	slices.SortFunc(out, func(a, b pipeline.Project) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	return paginate(out, limit, offset), nil
}

// UpdateProjectAnalysis writes the analysis-owned attributes.
func (s *Store) UpdateProjectAnalysis(_ context.Context, id string, fields pipeline.AnalysisFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.liveProject(id)
	if !ok {
		return pipeline.ErrNotFound
	}
	p.BusinessType = fields.BusinessType
	p.Industry = fields.Industry
	p.TargetAudience = fields.TargetAudience
	p.BrandVoice = fields.BrandVoice
	p.ContentQualityScore = fields.ContentQualityScore
	p.AnalysisData = slices.Clone(fields.AnalysisData)
	p.UpdatedAt = s.now()
	s.projects[id] = p
	return nil
}

// CompareAndSetProjectStatus moves the project from -> to, or returns ErrStaleState.
func (s *Store) CompareAndSetProjectStatus(_ context.Context, id string, from, to pipeline.ProjectStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.liveProject(id)
	if !ok {
		return pipeline.ErrNotFound
	}
	if p.Status != from {
		return pipeline.ErrStaleState
	}
	p.Status = to
	p.UpdatedAt = s.now()
	s.projects[id] = p
	return nil
}

// UpdateProjectCounters overwrites all four cached counters at once.
func (s *Store) UpdateProjectCounters(_ context.Context, id string, counters pipeline.ProjectCounters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.liveProject(id)
	if !ok {
		return pipeline.ErrNotFound
	}
	p.ProjectCounters = counters
	p.UpdatedAt = s.now()
	s.projects[id] = p
	return nil
}

// SoftDeleteProject hides the project and its descendants.
func (s *Store) SoftDeleteProject(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.liveProject(id)
	if !ok {
		return pipeline.ErrNotFound
	}
	p.DeletedAt = pointerTime(at)
	p.UpdatedAt = at
	s.projects[id] = p
	return nil
}

// RestoreProject undoes a soft delete.
func (s *Store) RestoreProject(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok || p.DeletedAt == nil {
		return pipeline.ErrNotFound
	}
	p.DeletedAt = nil
	p.UpdatedAt = s.now()
	s.projects[id] = p
	return nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
