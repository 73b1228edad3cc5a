// Package lifecycle applies state transitions to projects, keywords, pages, and
// indexing rows. Every transition is checked against the tables in package pipeline
// and the upstream preconditions, then committed with a conditional update so that
// concurrent callers cannot both win.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/seo-automation/internal/metrics"
	"github.com/JakeFAU/seo-automation/internal/pipeline"
)

// Recomputer refreshes a project's cached counters.
type Recomputer interface {
	Recompute(ctx context.Context, projectID string) (pipeline.ProjectCounters, error)
}

// Dependencies are the collaborators a Service needs. Events may be nil.
type Dependencies struct {
	Store  pipeline.Store
	Stats  Recomputer
	Events pipeline.Publisher
	Clock  pipeline.Clock
	IDs    pipeline.IDGenerator
	Logger *zap.Logger
}

// Service applies transitions and their side effects.
type Service struct {
	store  pipeline.Store
	stats  Recomputer
	events pipeline.Publisher
	clock  pipeline.Clock
	ids    pipeline.IDGenerator
	logger *zap.Logger
}

// New builds a Service.
func New(deps Dependencies) (*Service, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Stats == nil {
		return nil, fmt.Errorf("statistics aggregator is required")
	}
	if deps.Clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if deps.IDs == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  deps.Store,
		stats:  deps.Stats,
		events: deps.Events,
		clock:  deps.Clock,
		ids:    deps.IDs,
		logger: logger,
	}, nil
}

// TransitionProject moves a project to `to`. A non-empty from is the state the caller
// last observed; if the project has moved on since, the call fails with ErrStaleState.
func (s *Service) TransitionProject(ctx context.Context, id string, from, to pipeline.ProjectStatus) (pipeline.Project, error) {
	p, err := s.store.GetProject(ctx, id)
	if err != nil {
		return pipeline.Project{}, err
	}
	if err := observed(from, p.Status); err != nil {
		return pipeline.Project{}, s.conflict(pipeline.EntityProject, string(to), err)
	}
	if err := pipeline.ProjectMachine.Check(id, p.Status, to); err != nil {
		s.reject(pipeline.EntityProject, string(to))
		return pipeline.Project{}, err
	}
	if err := s.store.CompareAndSetProjectStatus(ctx, id, p.Status, to); err != nil {
		return pipeline.Project{}, s.conflict(pipeline.EntityProject, string(to), err)
	}
	s.committed(ctx, pipeline.EntityProject, p.ID, p.ID, string(to))
	return s.store.GetProject(ctx, id)
}

// TransitionKeyword moves a keyword to `to`. A keyword leaves pending only once its
// project has been analyzed, and reaches published only alongside its page.
func (s *Service) TransitionKeyword(ctx context.Context, id string, from, to pipeline.KeywordStatus) (pipeline.Keyword, error) {
	k, err := s.store.GetKeyword(ctx, id)
	if err != nil {
		return pipeline.Keyword{}, err
	}
	if err := observed(from, k.Status); err != nil {
		return pipeline.Keyword{}, s.conflict(pipeline.EntityKeyword, string(to), err)
	}
	if err := pipeline.KeywordMachine.Check(id, k.Status, to); err != nil {
		s.reject(pipeline.EntityKeyword, string(to))
		return pipeline.Keyword{}, err
	}
	if k.Status == pipeline.KeywordPending && to != pipeline.KeywordFailed {
		project, err := s.store.GetProject(ctx, k.ProjectID)
		if err != nil {
			return pipeline.Keyword{}, err
		}
		if !pipeline.KeywordWorkAllowed(project.Status) {
			s.reject(pipeline.EntityKeyword, string(to))
			return pipeline.Keyword{}, blocked(pipeline.EntityKeyword, id, string(k.Status), string(to),
				fmt.Sprintf("project is %s", project.Status))
		}
	}
	if to == pipeline.KeywordPublished {
		page, err := s.store.GetPageByKeyword(ctx, id)
		if err != nil || page.Status != pipeline.PagePublished {
			s.reject(pipeline.EntityKeyword, string(to))
			return pipeline.Keyword{}, blocked(pipeline.EntityKeyword, id, string(k.Status), string(to),
				"page is not published")
		}
	}
	if err := s.store.CompareAndSetKeywordStatus(ctx, id, k.Status, to); err != nil {
		return pipeline.Keyword{}, s.conflict(pipeline.EntityKeyword, string(to), err)
	}
	s.committed(ctx, pipeline.EntityKeyword, k.ProjectID, id, string(to))
	return s.store.GetKeyword(ctx, id)
}

// TransitionPage moves a page to `to`. A page leaves draft only once its keyword has
// generated content. Publishing goes through PublishPage, which records the publication.
func (s *Service) TransitionPage(ctx context.Context, id string, from, to pipeline.PageStatus) (pipeline.GeneratedPage, error) {
	g, err := s.store.GetPage(ctx, id)
	if err != nil {
		return pipeline.GeneratedPage{}, err
	}
	if err := observed(from, g.Status); err != nil {
		return pipeline.GeneratedPage{}, s.conflict(pipeline.EntityPage, string(to), err)
	}
	if err := pipeline.PageMachine.Check(id, g.Status, to); err != nil {
		s.reject(pipeline.EntityPage, string(to))
		return pipeline.GeneratedPage{}, err
	}
	if to == pipeline.PagePublished {
		s.reject(pipeline.EntityPage, string(to))
		return pipeline.GeneratedPage{}, blocked(pipeline.EntityPage, id, string(g.Status), string(to),
			"publish requires a published url")
	}
	if g.Status == pipeline.PageDraft && to != pipeline.PageFailed {
		k, err := s.store.GetKeyword(ctx, g.KeywordID)
		if err != nil {
			return pipeline.GeneratedPage{}, err
		}
		if !pipeline.PageWorkAllowed(k.Status) {
			s.reject(pipeline.EntityPage, string(to))
			return pipeline.GeneratedPage{}, blocked(pipeline.EntityPage, id, string(g.Status), string(to),
				fmt.Sprintf("keyword is %s", k.Status))
		}
	}
	if err := s.store.CompareAndSetPageStatus(ctx, id, g.Status, to); err != nil {
		return pipeline.GeneratedPage{}, s.conflict(pipeline.EntityPage, string(to), err)
	}
	s.committed(ctx, pipeline.EntityPage, g.ProjectID, id, string(to))
	if g.Status == pipeline.PagePublished {
		// A page leaving published lowers pages_published.
		s.recompute(ctx, g.ProjectID)
	}
	return s.store.GetPage(ctx, id)
}

// PublishInput is the data recorded when a page goes live.
type PublishInput struct {
	URL       string `json:"published_url"`
	CMSPostID *int64 `json:"cms_post_id,omitempty"`
}

// PublishPage moves a page publishing -> published, records the publication, moves the
// keyword to published in the same commit, and then recomputes the project counters.
func (s *Service) PublishPage(ctx context.Context, id string, in PublishInput) (pipeline.GeneratedPage, error) {
	if _, err := pipeline.ValidateURL(in.URL); err != nil {
		return pipeline.GeneratedPage{}, pipeline.Invalid("published_url", "must be a url")
	}
	g, err := s.store.GetPage(ctx, id)
	if err != nil {
		return pipeline.GeneratedPage{}, err
	}
	if err := pipeline.PageMachine.Check(id, g.Status, pipeline.PagePublished); err != nil {
		s.reject(pipeline.EntityPage, string(pipeline.PagePublished))
		return pipeline.GeneratedPage{}, err
	}
	k, err := s.store.GetKeyword(ctx, g.KeywordID)
	if err != nil {
		return pipeline.GeneratedPage{}, err
	}
	if k.Status != pipeline.KeywordGenerated && k.Status != pipeline.KeywordPublishing {
		s.reject(pipeline.EntityPage, string(pipeline.PagePublished))
		return pipeline.GeneratedPage{}, blocked(pipeline.EntityPage, id, string(g.Status), string(pipeline.PagePublished),
			fmt.Sprintf("keyword is %s", k.Status))
	}

	pub := pipeline.Publication{URL: pipeline.NormalizeURL(in.URL), CMSPostID: in.CMSPostID, At: s.clock.Now()}
	if err := s.store.PublishPage(ctx, id, k.Status, pub); err != nil {
		return pipeline.GeneratedPage{}, s.conflict(pipeline.EntityPage, string(pipeline.PagePublished), err)
	}
	s.committed(ctx, pipeline.EntityPage, g.ProjectID, id, string(pipeline.PagePublished))
	s.committed(ctx, pipeline.EntityKeyword, g.ProjectID, k.ID, string(pipeline.KeywordPublished))
	s.recompute(ctx, g.ProjectID)
	return s.store.GetPage(ctx, id)
}

// MarkSubmitted records that a published page was submitted to the search engine.
// Repeated calls keep the first submitted_at.
func (s *Service) MarkSubmitted(ctx context.Context, pageID string) (pipeline.IndexingStatus, error) {
	st, err := s.indexingFor(ctx, pageID)
	if err != nil {
		return pipeline.IndexingStatus{}, err
	}
	if st.SubmittedToGoogle {
		return st, nil
	}
	now := s.clock.Now()
	st.SubmittedAt = &now
	first, err := s.store.MarkIndexingSubmitted(ctx, st)
	if err != nil {
		return pipeline.IndexingStatus{}, fmt.Errorf("mark submitted: %w", err)
	}
	if first {
		page, err := s.store.GetPage(ctx, pageID)
		if err == nil {
			s.committed(ctx, pipeline.EntityIndexing, page.ProjectID, pageID, "submitted")
		}
	}
	return s.store.GetIndexing(ctx, pageID)
}

// RecordIndexingCheck stores the result of an indexing probe. The write only lands if
// google_indexed is still what was read; a concurrent check that got there first makes
// this one fail with ErrStaleState. Counters are recomputed only when google_indexed changed.
func (s *Service) RecordIndexingCheck(ctx context.Context, pageID string, check pipeline.IndexingCheck) (pipeline.IndexingStatus, error) {
	if check.RankingPosition != nil && *check.RankingPosition < 1 {
		return pipeline.IndexingStatus{}, pipeline.Invalid("ranking_position", "must be at least 1")
	}
	st, err := s.indexingFor(ctx, pageID)
	if err != nil {
		return pipeline.IndexingStatus{}, err
	}
	wasIndexed := st.GoogleIndexed
	changed := wasIndexed != check.Indexed
	status := "deindexed"
	if check.Indexed {
		status = "indexed"
	}

	now := s.clock.Now()
	st.GoogleIndexed = check.Indexed
	st.IndexingIssues = append([]string{}, check.Issues...)
	st.RankingPosition = check.RankingPosition
	if check.LastCrawled != nil {
		st.LastCrawled = check.LastCrawled
	}
	st.CheckedAt = &now
	if err := s.store.RecordIndexingResult(ctx, st, wasIndexed); err != nil {
		return pipeline.IndexingStatus{}, fmt.Errorf("record indexing check: %w",
			s.conflict(pipeline.EntityIndexing, status, err))
	}

	if changed {
		page, err := s.store.GetPage(ctx, pageID)
		if err != nil {
			return pipeline.IndexingStatus{}, err
		}
		s.committed(ctx, pipeline.EntityIndexing, page.ProjectID, pageID, status)
		s.recompute(ctx, page.ProjectID)
	}
	return s.store.GetIndexing(ctx, pageID)
}

// indexingFor loads the page's indexing row, or a fresh unsubmitted one. The page must be published.
func (s *Service) indexingFor(ctx context.Context, pageID string) (pipeline.IndexingStatus, error) {
	page, err := s.store.GetPage(ctx, pageID)
	if err != nil {
		return pipeline.IndexingStatus{}, err
	}
	if page.Status != pipeline.PagePublished {
		return pipeline.IndexingStatus{}, blocked(pipeline.EntityIndexing, pageID, string(page.Status), "tracked",
			"page is not published")
	}
	st, err := s.store.GetIndexing(ctx, pageID)
	if err == nil {
		return st, nil
	}
	if !isNotFound(err) {
		return pipeline.IndexingStatus{}, err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return pipeline.IndexingStatus{}, fmt.Errorf("new indexing id: %w", err)
	}
	return pipeline.IndexingStatus{ID: id, PageID: pageID, IndexingIssues: []string{}}, nil
}

// SoftDeleteProject hides the project and everything under it.
func (s *Service) SoftDeleteProject(ctx context.Context, id string) error {
	if err := s.store.SoftDeleteProject(ctx, id, s.clock.Now()); err != nil {
		return err
	}
	s.committed(ctx, pipeline.EntityProject, id, id, "deleted")
	return nil
}

// RestoreProject makes a soft-deleted project visible again.
func (s *Service) RestoreProject(ctx context.Context, id string) (pipeline.Project, error) {
	if err := s.store.RestoreProject(ctx, id); err != nil {
		return pipeline.Project{}, err
	}
	s.committed(ctx, pipeline.EntityProject, id, id, "restored")
	return s.store.GetProject(ctx, id)
}

func (s *Service) reject(entity, to string) {
	metrics.ObserveTransition(entity, to, "rejected")
}

// conflict records a failed conditional write and passes the error through.
func (s *Service) conflict(entity, to string, err error) error {
	result := "error"
	if isStale(err) {
		result = "stale"
	}
	metrics.ObserveTransition(entity, to, result)
	return err
}

// committed records the metric and announces the change. Publish failures are logged only.
func (s *Service) committed(ctx context.Context, entity, projectID, entityID, status string) {
	metrics.ObserveTransition(entity, status, "ok")
	s.announce(ctx, pipeline.Event{
		Kind:      entity + "." + status,
		ProjectID: projectID,
		EntityID:  entityID,
		Status:    status,
		At:        s.clock.Now(),
	})
}

func (s *Service) announce(ctx context.Context, event pipeline.Event) {
	if s.events == nil {
		return
	}
	if _, err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("event publish failed",
			zap.String("kind", event.Kind),
			zap.String("project_id", event.ProjectID),
			zap.String("entity_id", event.EntityID),
			zap.Error(err),
		)
	}
}

// recompute runs after the triggering write committed. A failure leaves the counters
// stale until the next recompute, so it is logged rather than returned.
func (s *Service) recompute(ctx context.Context, projectID string) {
	if _, err := s.stats.Recompute(ctx, projectID); err != nil {
		s.logger.Warn("statistics recompute failed",
			zap.String("project_id", projectID),
			zap.Error(err),
		)
	}
}

func blocked(entity, id, from, to, reason string) error {
	return &pipeline.TransitionError{Entity: entity, ID: id, From: from, To: to, Reason: reason}
}

// observed returns ErrStaleState when the caller's view of the state is out of date.
func observed[S ~string](from, current S) error {
	if from != "" && from != current {
		return pipeline.ErrStaleState
	}
	return nil
}

func isNotFound(err error) bool { return errors.Is(err, pipeline.ErrNotFound) }

func isStale(err error) bool { return errors.Is(err, pipeline.ErrStaleState) }
