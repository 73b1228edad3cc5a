package memory

import (
	"context"
	"errors"
	"slices"

	"github.com/JakeFAU/seo-automation/internal/pipeline"
)

// GetIndexing returns the page's indexing row, or ErrNotFound before the first check.
func (s *Store) GetIndexing(_ context.Context, pageID string) (pipeline.IndexingStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.livePage(pageID); !ok {
		return pipeline.IndexingStatus{}, pipeline.ErrNotFound
	}
	st, ok := s.indexing[pageID]
	if !ok {
		return pipeline.IndexingStatus{}, pipeline.ErrNotFound
	}
	return cloneIndexing(st), nil
}

// MarkIndexingSubmitted flags the page as submitted, keeping the first submitted_at.
func (s *Store) MarkIndexingSubmitted(_ context.Context, seed pipeline.IndexingStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.livePage(seed.PageID); !ok {
		return false, pipeline.ErrNotFound
	}
	st, ok := s.indexing[seed.PageID]
	if !ok {
		st = s.newIndexing(seed)
	}
	if st.SubmittedToGoogle {
		return false, nil
	}
	st.SubmittedToGoogle = true
	if st.SubmittedAt == nil {
		st.SubmittedAt = seed.SubmittedAt
	}
	st.UpdatedAt = s.now()
	s.indexing[seed.PageID] = cloneIndexing(st)
	return true, nil
}

// RecordIndexingResult stores a check result while google_indexed still equals observed.
func (s *Store) RecordIndexingResult(_ context.Context, result pipeline.IndexingStatus, observed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.livePage(result.PageID); !ok {
		return pipeline.ErrNotFound
	}
	st, ok := s.indexing[result.PageID]
	if !ok {
		st = s.newIndexing(result)
	}
	if st.GoogleIndexed != observed {
		return pipeline.ErrStaleState
	}
	st.GoogleIndexed = result.GoogleIndexed
	st.IndexingIssues = result.IndexingIssues
	st.RankingPosition = result.RankingPosition
	if result.LastCrawled != nil {
		st.LastCrawled = result.LastCrawled
	}
	st.CheckedAt = result.CheckedAt
	st.UpdatedAt = s.now()
	s.indexing[result.PageID] = cloneIndexing(st)
	return nil
}

// newIndexing starts an unsubmitted, unindexed row carrying seed's id.
func (s *Store) newIndexing(seed pipeline.IndexingStatus) pipeline.IndexingStatus {
	return pipeline.IndexingStatus{ID: seed.ID, PageID: seed.PageID, IndexingIssues: []string{}, CreatedAt: s.now()}
}

// CountIndexedPages counts the project's pages whose latest check found them indexed.
func (s *Store) CountIndexedPages(_ context.Context, projectID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for pageID, st := range s.indexing {
		if p, ok := s.pages[pageID]; ok && p.ProjectID == projectID && st.GoogleIndexed {
			n++
		}
	}
	return n, nil
}

// AppendVisibility adds a record to the history.
func (s *Store) AppendVisibility(_ context.Context, record pipeline.LlmVisibility) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.liveProject(record.ProjectID); !ok {
		return pipeline.ErrNotFound
	}
	if record.PageID != "" {
		p, ok := s.livePage(record.PageID)
		if !ok {
			return pipeline.ErrNotFound
		}
		if p.ProjectID != record.ProjectID {
			return errors.New("page belongs to another project")
		}
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now()
	}
	s.visibility = append(s.visibility, record)
	return nil
}

// ListVisibility returns matching records, most recent check first.
func (s *Store) ListVisibility(_ context.Context, projectID, platform string) ([]pipeline.LlmVisibility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.liveProject(projectID); !ok {
		return nil, pipeline.ErrNotFound
	}
	out := s.matchVisibility(projectID, platform)
	slices.SortStableFunc(out, func(a, b pipeline.LlmVisibility) int {
		return b.CheckedAt.Compare(a.CheckedAt)
	})
	return out, nil
}

// AverageVisibility averages visibility_score over matching records.
func (s *Store) AverageVisibility(_ context.Context, projectID, platform string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.liveProject(projectID); !ok {
		return 0, pipeline.ErrNotFound
	}
	records := s.matchVisibility(projectID, platform)
	if len(records) == 0 {
		return 0, nil
	}
	var sum float64
	for _, r := range records {
		sum += r.VisibilityScore
	}
	return sum / float64(len(records)), nil
}

func (s *Store) matchVisibility(projectID, platform string) []pipeline.LlmVisibility {
	out := make([]pipeline.LlmVisibility, 0)
	for _, r := range s.visibility {
		if r.ProjectID == projectID && (platform == "" || r.Platform == platform) {
			out = append(out, r)
		}
	}
	return out
}
