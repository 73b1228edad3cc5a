// Package stats recounts project counters from child records and serves the
// read-side rollups built on them.
package stats

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/seo-automation/internal/metrics"
	"github.com/JakeFAU/seo-automation/internal/pipeline"
)

// Aggregator owns the four cached counters on a Project. Nothing else writes them.
type Aggregator struct {
	store  pipeline.Store
	logger *zap.Logger
}

// New builds an Aggregator over store.
func New(store pipeline.Store, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{store: store, logger: logger}
}

// Recompute counts the project's children and writes all four counters in one update.
// Callers invoke it after their triggering write has committed.
func (a *Aggregator) Recompute(ctx context.Context, projectID string) (pipeline.ProjectCounters, error) {
	counters, err := a.count(ctx, projectID)
	if err != nil {
		return pipeline.ProjectCounters{}, err
	}
	if err := a.store.UpdateProjectCounters(ctx, projectID, counters); err != nil {
		return pipeline.ProjectCounters{}, fmt.Errorf("write counters: %w", err)
	}
	metrics.ObserveStatisticsRecompute()
	a.logger.Debug("project counters recomputed",
		zap.String("project_id", projectID),
		zap.Int("keywords_count", counters.KeywordsCount),
		zap.Int("pages_generated", counters.PagesGenerated),
		zap.Int("pages_published", counters.PagesPublished),
		zap.Int("pages_indexed", counters.PagesIndexed),
	)
	return counters, nil
}

func (a *Aggregator) count(ctx context.Context, projectID string) (pipeline.ProjectCounters, error) {
	var (
		c   pipeline.ProjectCounters
		err error
	)
	if c.KeywordsCount, err = a.store.CountKeywords(ctx, projectID); err != nil {
		return c, fmt.Errorf("count keywords: %w", err)
	}
	if c.PagesGenerated, err = a.store.CountPages(ctx, projectID, ""); err != nil {
		return c, fmt.Errorf("count pages: %w", err)
	}
	if c.PagesPublished, err = a.store.CountPages(ctx, projectID, pipeline.PagePublished); err != nil {
		return c, fmt.Errorf("count published pages: %w", err)
	}
	if c.PagesIndexed, err = a.store.CountIndexedPages(ctx, projectID); err != nil {
		return c, fmt.Errorf("count indexed pages: %w", err)
	}
	return c, nil
}

// ProjectStats is the per-project rollup shown on a project page.
type ProjectStats struct {
	ProjectID string `json:"project_id"`
	pipeline.ProjectCounters
	Progress             int     `json:"progress"`
	HighPriorityKeywords int     `json:"high_priority_keywords"`
	PendingKeywords      int     `json:"pending_keywords"`
	PendingPages         int     `json:"pending_pages"`
	VisibilityChecks     int     `json:"visibility_checks"`
	BrandMentions        int     `json:"brand_mentions"`
	URLCitations         int     `json:"url_citations"`
	AverageVisibility    float64 `json:"average_visibility"`
}

// ProjectStats builds the rollup from authoritative child records.
func (a *Aggregator) ProjectStats(ctx context.Context, projectID string) (ProjectStats, error) {
	if _, err := a.store.GetProject(ctx, projectID); err != nil {
		return ProjectStats{}, err
	}
	counters, err := a.count(ctx, projectID)
	if err != nil {
		return ProjectStats{}, err
	}
	out := ProjectStats{
		ProjectID:       projectID,
		ProjectCounters: counters,
		Progress:        pipeline.Project{ProjectCounters: counters}.Progress(),
		PendingPages:    counters.PagesGenerated - counters.PagesIndexed,
	}

	keywords, err := a.store.ListKeywords(ctx, projectID)
	if err != nil {
		return ProjectStats{}, fmt.Errorf("list keywords: %w", err)
	}
	for _, k := range keywords {
		if k.HighPriority() {
			out.HighPriorityKeywords++
		}
		if k.Status == pipeline.KeywordPending {
			out.PendingKeywords++
		}
	}

	records, err := a.store.ListVisibility(ctx, projectID, "")
	if err != nil {
		return ProjectStats{}, fmt.Errorf("list visibility: %w", err)
	}
	out.VisibilityChecks = len(records)
	for _, r := range records {
		if r.BrandMentioned {
			out.BrandMentions++
		}
		if r.URLCited {
			out.URLCitations++
		}
	}
	if out.AverageVisibility, err = a.store.AverageVisibility(ctx, projectID, ""); err != nil {
		return ProjectStats{}, fmt.Errorf("average visibility: %w", err)
	}
	return out, nil
}

// Dashboard sums an owner's live projects.
type Dashboard struct {
	OwnerID        int64 `json:"owner_id"`
	TotalProjects  int   `json:"total_projects"`
	ActiveProjects int   `json:"active_projects"`
	TotalKeywords  int   `json:"total_keywords"`
	TotalPages     int   `json:"total_pages"`
	PagesPublished int   `json:"pages_published"`
	IndexedPages   int   `json:"indexed_pages"`
	PendingPages   int   `json:"pending_pages"`
}

// OwnerDashboard counts children live rather than trusting cached counters.
func (a *Aggregator) OwnerDashboard(ctx context.Context, ownerID int64) (Dashboard, error) {
	projects, err := a.store.ListProjects(ctx, ownerID, 0, 0)
	if err != nil {
		return Dashboard{}, fmt.Errorf("list projects: %w", err)
	}
	out := Dashboard{OwnerID: ownerID, TotalProjects: len(projects)}
	for _, p := range projects {
		if p.Status == pipeline.ProjectActive {
			out.ActiveProjects++
		}
		c, err := a.count(ctx, p.ID)
		if err != nil {
			return Dashboard{}, err
		}
		out.TotalKeywords += c.KeywordsCount
		out.TotalPages += c.PagesGenerated
		out.PagesPublished += c.PagesPublished
		out.IndexedPages += c.PagesIndexed
	}
	out.PendingPages = out.TotalPages - out.IndexedPages
	return out, nil
}
