package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/seo-automation/internal/pipeline"
)

// Store is an in-memory pipeline.Store for development and tests.
// Conditional updates are serialized by a single lock, which gives the same
// compare-and-swap behavior the SQL store gets from guarded UPDATEs.
type Store struct {
	mu         sync.RWMutex
	projects   map[string]pipeline.Project
	keywords   map[string]pipeline.Keyword
	pages      map[string]pipeline.GeneratedPage
	indexing   map[string]pipeline.IndexingStatus
	visibility []pipeline.LlmVisibility
	now        func() time.Time
}

var _ pipeline.Store = (*Store)(nil)

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		projects: make(map[string]pipeline.Project),
		keywords: make(map[string]pipeline.Keyword),
		pages:    make(map[string]pipeline.GeneratedPage),
		indexing: make(map[string]pipeline.IndexingStatus),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() {}

// liveProject returns the project unless it is missing or soft-deleted. Callers hold mu.
func (s *Store) liveProject(id string) (pipeline.Project, bool) {
	p, ok := s.projects[id]
	if !ok || p.DeletedAt != nil {
		return pipeline.Project{}, false
	}
	return p, true
}

func (s *Store) liveKeyword(id string) (pipeline.Keyword, bool) {
	k, ok := s.keywords[id]
	if !ok {
		return pipeline.Keyword{}, false
	}
	if _, ok := s.liveProject(k.ProjectID); !ok {
		return pipeline.Keyword{}, false
	}
	return k, true
}

func (s *Store) livePage(id string) (pipeline.GeneratedPage, bool) {
	p, ok := s.pages[id]
	if !ok {
		return pipeline.GeneratedPage{}, false
	}
	if _, ok := s.liveProject(p.ProjectID); !ok {
		return pipeline.GeneratedPage{}, false
	}
	return p, true
}

func cloneProject(p pipeline.Project) pipeline.Project {
	p.AnalysisData = slices.Clone(p.AnalysisData)
	if p.DeletedAt != nil {
		p.DeletedAt = pointerTime(*p.DeletedAt)
	}
	return p
}

func cloneKeyword(k pipeline.Keyword) pipeline.Keyword {
	k.Variations = slices.Clone(k.Variations)
	if k.Variations == nil {
		k.Variations = []string{}
	}
	if k.SearchVolume != nil {
		v := *k.SearchVolume
		k.SearchVolume = &v
	}
	return k
}

func clonePage(p pipeline.GeneratedPage) pipeline.GeneratedPage {
	p.SchemaMarkup = slices.Clone(p.SchemaMarkup)
	p.InternalLinks = slices.Clone(p.InternalLinks)
	if p.InternalLinks == nil {
		p.InternalLinks = []string{}
	}
	if p.CMSPostID != nil {
		v := *p.CMSPostID
		p.CMSPostID = &v
	}
	if p.PublishedAt != nil {
		p.PublishedAt = pointerTime(*p.PublishedAt)
	}
	return p
}

func cloneIndexing(st pipeline.IndexingStatus) pipeline.IndexingStatus {
	st.IndexingIssues = slices.Clone(st.IndexingIssues)
	if st.IndexingIssues == nil {
		st.IndexingIssues = []string{}
	}
	for _, ts := range []**time.Time{&st.LastCrawled, &st.SubmittedAt, &st.CheckedAt} {
		if *ts != nil {
			*ts = pointerTime(**ts)
		}
	}
	if st.RankingPosition != nil {
		v := *st.RankingPosition
		st.RankingPosition = &v
	}
	return st
}

func pointerTime(t time.Time) *time.Time {
	return &t
}
