package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/seo-automation/internal/pipeline"
)

const pageColumns = `g.id, g.keyword_id, g.project_id, g.title, g.slug, g.meta_description, g.content_html,
	g.content_markdown, g.schema_markup, g.internal_links, g.word_count, g.published_url, g.cms_post_id,
	g.llm_visibility_score, g.status, g.published_at, g.created_at, g.updated_at`

const livePageFrom = `seo_generated_pages g JOIN seo_projects p ON p.id = g.project_id AND p.deleted_at IS NULL`

const pageExistsSQL = `SELECT EXISTS (SELECT 1 FROM ` + livePageFrom + ` WHERE g.id = $1)`

func scanPage(row pgx.Row) (pipeline.GeneratedPage, error) {
	var (
		g                pipeline.GeneratedPage
		markdown, pubURL *string
		schema, links    []byte
		status           string
	)
	err := row.Scan(
		&g.ID, &g.KeywordID, &g.ProjectID, &g.Title, &g.Slug, &g.MetaDescription, &g.ContentHTML,
		&markdown, &schema, &links, &g.WordCount, &pubURL, &g.CMSPostID,
		&g.LLMVisibilityScore, &status, &g.PublishedAt, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return pipeline.GeneratedPage{}, err
	}
	g.InternalLinks = []string{}
	if len(links) > 0 {
		if err := json.Unmarshal(links, &g.InternalLinks); err != nil {
			return pipeline.GeneratedPage{}, fmt.Errorf("decode internal links: %w", err)
		}
	}
	if len(schema) > 0 {
		g.SchemaMarkup = schema
	}
	g.ContentMarkdown = deref(markdown)
	g.PublishedURL = deref(pubURL)
	g.Status = pipeline.PageStatus(status)
	return g, nil
}

// CreatePage inserts a page, mapping unique violations to ErrDuplicateSlug or ErrPageExists.
func (s *Store) CreatePage(ctx context.Context, page pipeline.GeneratedPage) error {
	links, err := jsonList(page.InternalLinks)
	if err != nil {
		return fmt.Errorf("encode internal links: %w", err)
	}
	var schema []byte
	if len(page.SchemaMarkup) > 0 {
		schema = page.SchemaMarkup
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO seo_generated_pages (id, keyword_id, project_id, title, slug, meta_description,
			content_html, content_markdown, schema_markup, internal_links, word_count, status,
			created_at, updated_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13
		WHERE EXISTS (SELECT 1 FROM `+liveKeywordFrom+` WHERE k.id = $2 AND k.project_id = $3)`,
		page.ID, page.KeywordID, page.ProjectID, page.Title, page.Slug, page.MetaDescription,
		page.ContentHTML, nullString(page.ContentMarkdown), schema, links, page.WordCount,
		string(page.Status), orNow(page.CreatedAt, s.now),
	)
	switch uniqueConstraint(err) {
	case "seo_generated_pages_slug_key":
		return pipeline.ErrDuplicateSlug
	case "seo_generated_pages_keyword_id_key":
		return pipeline.ErrPageExists
	}
	if err := requireRows(tag, err); err != nil {
		return fmt.Errorf("insert page: %w", err)
	}
	return nil
}

// GetPage fetches a page by ID.
func (s *Store) GetPage(ctx context.Context, id string) (pipeline.GeneratedPage, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pageColumns+` FROM `+livePageFrom+` WHERE g.id = $1`, id)
	g, err := scanPage(row)
	if err != nil {
		return pipeline.GeneratedPage{}, notFound(err)
	}
	return g, nil
}

// GetPageByKeyword fetches the page generated for a keyword.
func (s *Store) GetPageByKeyword(ctx context.Context, keywordID string) (pipeline.GeneratedPage, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pageColumns+` FROM `+livePageFrom+` WHERE g.keyword_id = $1`, keywordID)
	g, err := scanPage(row)
	if err != nil {
		return pipeline.GeneratedPage{}, notFound(err)
	}
	return g, nil
}

// ListPages returns the project's pages, newest first.
func (s *Store) ListPages(ctx context.Context, projectID string) ([]pipeline.GeneratedPage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pageColumns+`
		FROM `+livePageFrom+`
		WHERE g.project_id = $1
		ORDER BY g.created_at DESC, g.id DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	out := make([]pipeline.GeneratedPage, 0)
	for rows.Next() {
		g, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return out, nil
}

// CompareAndSetPageStatus moves the page from -> to, or returns ErrStaleState.
func (s *Store) CompareAndSetPageStatus(ctx context.Context, id string, from, to pipeline.PageStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE seo_generated_pages g SET status = $3, updated_at = $4
		FROM seo_projects p
		WHERE g.id = $1 AND g.status = $2 AND p.id = g.project_id AND p.deleted_at IS NULL`,
		id, string(from), string(to), s.now())
	if err := s.guarded(ctx, tag, err, pageExistsSQL, id); err != nil {
		return fmt.Errorf("set page status: %w", err)
	}
	return nil
}

// PublishPage moves the page and its keyword to published inside one transaction.
// published_at keeps its first value on re-publish.
func (s *Store) PublishPage(ctx context.Context, id string, keywordFrom pipeline.KeywordStatus, pub pipeline.Publication) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin publish: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	now := s.now()
	var keywordID string
	err = tx.QueryRow(ctx, `
		UPDATE seo_generated_pages g
		SET status = 'published', published_url = $2, cms_post_id = COALESCE($3, g.cms_post_id),
			published_at = COALESCE(g.published_at, $4), updated_at = $5
		FROM seo_projects p
		WHERE g.id = $1 AND g.status = 'publishing' AND p.id = g.project_id AND p.deleted_at IS NULL
		RETURNING g.keyword_id`,
		id, nullString(pub.URL), pub.CMSPostID, orNow(pub.At, s.now), now,
	).Scan(&keywordID)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if qerr := tx.QueryRow(ctx, pageExistsSQL, id).Scan(&exists); qerr != nil {
			err = fmt.Errorf("check page existence: %w", qerr)
			return err
		}
		err = pipeline.ErrStaleState
		if !exists {
			err = pipeline.ErrNotFound
		}
		return err
	}
	if err != nil {
		return fmt.Errorf("publish page: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE seo_keywords SET status = 'published', updated_at = $3
		WHERE id = $1 AND status = $2`, keywordID, string(keywordFrom), now)
	if err != nil {
		return fmt.Errorf("publish keyword: %w", err)
	}
	if tag.RowsAffected() == 0 {
		err = pipeline.ErrStaleState
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit publish: %w", err)
	}
	return nil
}

// SetPageVisibilityScore records the latest visibility score on the page.
func (s *Store) SetPageVisibilityScore(ctx context.Context, id string, score float64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE seo_generated_pages g SET llm_visibility_score = $2, updated_at = $3
		FROM seo_projects p
		WHERE g.id = $1 AND p.id = g.project_id AND p.deleted_at IS NULL`, id, score, s.now())
	if err := requireRows(tag, err); err != nil {
		return fmt.Errorf("set visibility score: %w", err)
	}
	return nil
}

// CountPages counts the project's pages, optionally only those in status.
func (s *Store) CountPages(ctx context.Context, projectID string, status pipeline.PageStatus) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM seo_generated_pages
		WHERE project_id = $1 AND ($2 = '' OR status = $2)`, projectID, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pages: %w", err)
	}
	return n, nil
}
