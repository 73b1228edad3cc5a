package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/seo-automation/internal/pipeline"
)

const indexingColumns = `i.id, i.page_id, i.google_indexed, i.submitted_to_google, i.last_crawled,
	i.submitted_at, i.checked_at, i.indexing_issues, i.ranking_position, i.created_at, i.updated_at`

const visibilityColumns = `id, project_id, page_id, platform, test_prompt, brand_mentioned, url_cited,
	citation_context, sentiment, visibility_score, checked_at, created_at`

// GetIndexing returns the page's indexing row, or ErrNotFound before the first check.
func (s *Store) GetIndexing(ctx context.Context, pageID string) (pipeline.IndexingStatus, error) {
	var (
		st     pipeline.IndexingStatus
		issues []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT `+indexingColumns+`
		FROM seo_indexing_status i
		JOIN `+livePageFrom+` ON g.id = i.page_id
		WHERE i.page_id = $1`, pageID,
	).Scan(
		&st.ID, &st.PageID, &st.GoogleIndexed, &st.SubmittedToGoogle, &st.LastCrawled,
		&st.SubmittedAt, &st.CheckedAt, &issues, &st.RankingPosition, &st.CreatedAt, &st.UpdatedAt,
	)
	if err != nil {
		return pipeline.IndexingStatus{}, notFound(err)
	}
	st.IndexingIssues = []string{}
	if len(issues) > 0 {
		if err := json.Unmarshal(issues, &st.IndexingIssues); err != nil {
			return pipeline.IndexingStatus{}, fmt.Errorf("decode indexing issues: %w", err)
		}
	}
	return st, nil
}

// MarkIndexingSubmitted sets the submission flag in one statement so a concurrent check
// result is never overwritten. The first submitted_at wins.
func (s *Store) MarkIndexingSubmitted(ctx context.Context, seed pipeline.IndexingStatus) (bool, error) {
	now := s.now()
	submittedAt := now
	if seed.SubmittedAt != nil {
		submittedAt = *seed.SubmittedAt
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO seo_indexing_status (id, page_id, submitted_to_google, submitted_at, created_at, updated_at)
		SELECT $1, $2, TRUE, $3, $4, $4
		WHERE EXISTS (SELECT 1 FROM `+livePageFrom+` WHERE g.id = $2)
		ON CONFLICT (page_id) DO UPDATE SET
			submitted_to_google = TRUE,
			submitted_at = COALESCE(seo_indexing_status.submitted_at, EXCLUDED.submitted_at),
			updated_at = EXCLUDED.updated_at
		WHERE NOT seo_indexing_status.submitted_to_google`,
		seed.ID, seed.PageID, submittedAt, now,
	)
	err = s.guarded(ctx, tag, err, pageExistsSQL, seed.PageID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, pipeline.ErrStaleState):
		// Already submitted by an earlier call.
		return false, nil
	default:
		return false, fmt.Errorf("mark indexing submitted: %w", err)
	}
}

// RecordIndexingResult writes a check result guarded on the google_indexed value the
// caller read. Submission columns are not part of the statement.
func (s *Store) RecordIndexingResult(ctx context.Context, st pipeline.IndexingStatus, observed bool) error {
	issues, err := jsonList(st.IndexingIssues)
	if err != nil {
		return fmt.Errorf("encode indexing issues: %w", err)
	}
	now := s.now()
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO seo_indexing_status (id, page_id, google_indexed, last_crawled, checked_at,
			indexing_issues, ranking_position, created_at, updated_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $8
		WHERE EXISTS (SELECT 1 FROM `+livePageFrom+` WHERE g.id = $2)
		ON CONFLICT (page_id) DO UPDATE SET
			google_indexed = EXCLUDED.google_indexed,
			last_crawled = COALESCE(EXCLUDED.last_crawled, seo_indexing_status.last_crawled),
			checked_at = EXCLUDED.checked_at,
			indexing_issues = EXCLUDED.indexing_issues,
			ranking_position = EXCLUDED.ranking_position,
			updated_at = EXCLUDED.updated_at
		WHERE seo_indexing_status.google_indexed = $9::boolean`,
		st.ID, st.PageID, st.GoogleIndexed, st.LastCrawled, st.CheckedAt, issues, st.RankingPosition, now, observed,
	)
	if err := s.guarded(ctx, tag, err, pageExistsSQL, st.PageID); err != nil {
		return fmt.Errorf("record indexing result: %w", err)
	}
	return nil
}

// CountIndexedPages counts the project's pages whose latest check found them indexed.
func (s *Store) CountIndexedPages(ctx context.Context, projectID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM seo_indexing_status i
		JOIN seo_generated_pages g ON g.id = i.page_id
		WHERE g.project_id = $1 AND i.google_indexed`, projectID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count indexed pages: %w", err)
	}
	return n, nil
}

// AppendVisibility inserts a record. A page, when given, must belong to the same live project.
func (s *Store) AppendVisibility(ctx context.Context, r pipeline.LlmVisibility) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO seo_llm_visibility (`+visibilityColumns+`)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		WHERE EXISTS (SELECT 1 FROM seo_projects WHERE id = $2 AND deleted_at IS NULL)
			AND ($3::text IS NULL OR EXISTS (
				SELECT 1 FROM seo_generated_pages WHERE id = $3 AND project_id = $2))`,
		r.ID, r.ProjectID, nullString(r.PageID), r.Platform, r.TestPrompt, r.BrandMentioned,
		r.URLCited, nullString(r.CitationContext), nullString(string(r.Sentiment)),
		r.VisibilityScore, r.CheckedAt, orNow(r.CreatedAt, s.now),
	)
	if err := requireRows(tag, err); err != nil {
		return fmt.Errorf("append visibility: %w", err)
	}
	return nil
}

func scanVisibility(row pgx.Row) (pipeline.LlmVisibility, error) {
	var (
		r                           pipeline.LlmVisibility
		pageID, citation, sentiment *string
	)
	err := row.Scan(
		&r.ID, &r.ProjectID, &pageID, &r.Platform, &r.TestPrompt, &r.BrandMentioned, &r.URLCited,
		&citation, &sentiment, &r.VisibilityScore, &r.CheckedAt, &r.CreatedAt,
	)
	if err != nil {
		return pipeline.LlmVisibility{}, err
	}
	r.PageID = deref(pageID)
	r.CitationContext = deref(citation)
	r.Sentiment = pipeline.Sentiment(deref(sentiment))
	return r, nil
}

// ListVisibility returns matching records, most recent check first.
func (s *Store) ListVisibility(ctx context.Context, projectID, platform string) ([]pipeline.LlmVisibility, error) {
	if err := s.requireLiveProject(ctx, projectID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+visibilityColumns+`
		FROM seo_llm_visibility
		WHERE project_id = $1 AND ($2 = '' OR platform = $2)
		ORDER BY checked_at DESC, created_at DESC`, projectID, platform)
	if err != nil {
		return nil, fmt.Errorf("list visibility: %w", err)
	}
	defer rows.Close()

	out := make([]pipeline.LlmVisibility, 0)
	for rows.Next() {
		r, err := scanVisibility(rows)
		if err != nil {
			return nil, fmt.Errorf("scan visibility: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate visibility: %w", err)
	}
	return out, nil
}

// AverageVisibility averages visibility_score over matching records, 0 when none match.
func (s *Store) AverageVisibility(ctx context.Context, projectID, platform string) (float64, error) {
	if err := s.requireLiveProject(ctx, projectID); err != nil {
		return 0, err
	}
	var avg float64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(AVG(visibility_score), 0)
		FROM seo_llm_visibility
		WHERE project_id = $1 AND ($2 = '' OR platform = $2)`, projectID, platform).Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("average visibility: %w", err)
	}
	return avg, nil
}

func (s *Store) requireLiveProject(ctx context.Context, id string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, projectExistsSQL, id).Scan(&exists); err != nil {
		return fmt.Errorf("check project: %w", err)
	}
	if !exists {
		return pipeline.ErrNotFound
	}
	return nil
}
