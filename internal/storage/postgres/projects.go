package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/seo-automation/internal/pipeline"
)

const projectColumns = `id, user_id, name, url, business_type, industry, target_audience, brand_voice,
	analysis_data, content_quality_score, keywords_count, pages_generated, pages_published,
	pages_indexed, status, created_at, updated_at, deleted_at`

const projectExistsSQL = `SELECT EXISTS (SELECT 1 FROM seo_projects WHERE id = $1 AND deleted_at IS NULL)`

func scanProject(row pgx.Row) (pipeline.Project, error) {
	var (
		p                                   pipeline.Project
		business, industry, audience, voice *string
		status                              string
		data                                []byte
	)
	err := row.Scan(
		&p.ID, &p.OwnerID, &p.Name, &p.URL, &business, &industry, &audience, &voice,
		&data, &p.ContentQualityScore, &p.KeywordsCount, &p.PagesGenerated, &p.PagesPublished,
		&p.PagesIndexed, &status, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt,
	)
	if err != nil {
		return pipeline.Project{}, err
	}
	p.BusinessType = deref(business)
	p.Industry = deref(industry)
	p.TargetAudience = deref(audience)
	p.BrandVoice = deref(voice)
	p.AnalysisData = data
	p.Status = pipeline.ProjectStatus(status)
	return p, nil
}

// CreateProject inserts a new project row.
func (s *Store) CreateProject(ctx context.Context, project pipeline.Project) error {
	created := orNow(project.CreatedAt, s.now)
	var data []byte
	if len(project.AnalysisData) > 0 {
		data = project.AnalysisData
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO seo_projects (id, user_id, name, url, business_type, industry, target_audience,
			brand_voice, analysis_data, content_quality_score, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)`,
		project.ID, project.OwnerID, project.Name, project.URL,
		nullString(project.BusinessType), nullString(project.Industry),
		nullString(project.TargetAudience), nullString(project.BrandVoice),
		data, project.ContentQualityScore, string(project.Status), created,
	)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

// GetProject fetches a live project by ID.
func (s *Store) GetProject(ctx context.Context, id string) (pipeline.Project, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+projectColumns+` FROM seo_projects WHERE id = $1 AND deleted_at IS NULL`, id)
	p, err := scanProject(row)
	if err != nil {
		return pipeline.Project{}, notFound(err)
	}
	return p, nil
}

// ListProjects returns the owner's live projects, newest first.
func (s *Store) ListProjects(ctx context.Context, ownerID int64, limit, offset int) ([]pipeline.Project, error) {
	if offset < 0 {
		offset = 0
	}
	var limitArg *int
	if limit > 0 {
		limitArg = &limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+projectColumns+`
		FROM seo_projects
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, ownerID, limitArg, offset)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	out := make([]pipeline.Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return out, nil
}

// UpdateProjectAnalysis writes the analysis-owned attributes.
func (s *Store) UpdateProjectAnalysis(ctx context.Context, id string, fields pipeline.AnalysisFields) error {
	var data []byte
	if len(fields.AnalysisData) > 0 {
		data = fields.AnalysisData
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE seo_projects
		SET business_type = $2, industry = $3, target_audience = $4, brand_voice = $5,
			content_quality_score = $6, analysis_data = $7, updated_at = $8
		WHERE id = $1 AND deleted_at IS NULL`,
		id, nullString(fields.BusinessType), nullString(fields.Industry),
		nullString(fields.TargetAudience), nullString(fields.BrandVoice),
		fields.ContentQualityScore, data, s.now(),
	)
	if err := requireRows(tag, err); err != nil {
		return fmt.Errorf("update project analysis: %w", err)
	}
	return nil
}

// CompareAndSetProjectStatus moves the project from -> to, or returns ErrStaleState.
func (s *Store) CompareAndSetProjectStatus(ctx context.Context, id string, from, to pipeline.ProjectStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE seo_projects SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2 AND deleted_at IS NULL`,
		id, string(from), string(to), s.now())
	if err := s.guarded(ctx, tag, err, projectExistsSQL, id); err != nil {
		return fmt.Errorf("set project status: %w", err)
	}
	return nil
}

// UpdateProjectCounters overwrites all four cached counters in one statement.
func (s *Store) UpdateProjectCounters(ctx context.Context, id string, c pipeline.ProjectCounters) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE seo_projects
		SET keywords_count = $2, pages_generated = $3, pages_published = $4, pages_indexed = $5, updated_at = $6
		WHERE id = $1 AND deleted_at IS NULL`,
		id, c.KeywordsCount, c.PagesGenerated, c.PagesPublished, c.PagesIndexed, s.now())
	if err := requireRows(tag, err); err != nil {
		return fmt.Errorf("update project counters: %w", err)
	}
	return nil
}

// SoftDeleteProject stamps deleted_at; descendants are hidden by the joins in their queries.
func (s *Store) SoftDeleteProject(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE seo_projects SET deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL`, id, at)
	if err := requireRows(tag, err); err != nil {
		return fmt.Errorf("soft delete project: %w", err)
	}
	return nil
}

// RestoreProject clears deleted_at.
func (s *Store) RestoreProject(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE seo_projects SET deleted_at = NULL, updated_at = $2
		WHERE id = $1 AND deleted_at IS NOT NULL`, id, s.now())
	if err := requireRows(tag, err); err != nil {
		return fmt.Errorf("restore project: %w", err)
	}
	return nil
}
