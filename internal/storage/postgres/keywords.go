package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/seo-automation/internal/pipeline"
)

const keywordColumns = `k.id, k.project_id, k.seed_keyword, k.variations, k.search_intent, k.priority_score,
	k.search_volume, k.difficulty, k.status, k.notes, k.created_at, k.updated_at`

// liveKeywordFrom hides keywords whose project is soft-deleted.
const liveKeywordFrom = `seo_keywords k JOIN seo_projects p ON p.id = k.project_id AND p.deleted_at IS NULL`

const keywordExistsSQL = `SELECT EXISTS (SELECT 1 FROM ` + liveKeywordFrom + ` WHERE k.id = $1)`

func scanKeyword(row pgx.Row) (pipeline.Keyword, error) {
	var (
		k                        pipeline.Keyword
		variations               []byte
		intent, difficulty, note *string
		status                   string
	)
	err := row.Scan(
		&k.ID, &k.ProjectID, &k.SeedKeyword, &variations, &intent, &k.PriorityScore,
		&k.SearchVolume, &difficulty, &status, &note, &k.CreatedAt, &k.UpdatedAt,
	)
	if err != nil {
		return pipeline.Keyword{}, err
	}
	k.Variations = []string{}
	if len(variations) > 0 {
		if err := json.Unmarshal(variations, &k.Variations); err != nil {
			return pipeline.Keyword{}, fmt.Errorf("decode variations: %w", err)
		}
	}
	k.SearchIntent = pipeline.SearchIntent(deref(intent))
	k.Difficulty = deref(difficulty)
	k.Notes = deref(note)
	k.Status = pipeline.KeywordStatus(status)
	return k, nil
}

func jsonList(values []string) ([]byte, error) {
	if values == nil {
		values = []string{}
	}
	return json.Marshal(values)
}

// CreateKeyword inserts a keyword under a live project.
func (s *Store) CreateKeyword(ctx context.Context, keyword pipeline.Keyword) error {
	variations, err := jsonList(keyword.Variations)
	if err != nil {
		return fmt.Errorf("encode variations: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO seo_keywords (id, project_id, seed_keyword, variations, search_intent, priority_score,
			search_volume, difficulty, status, notes, created_at, updated_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11
		WHERE EXISTS (SELECT 1 FROM seo_projects WHERE id = $2 AND deleted_at IS NULL)`,
		keyword.ID, keyword.ProjectID, keyword.SeedKeyword, variations,
		nullString(string(keyword.SearchIntent)), keyword.PriorityScore, keyword.SearchVolume,
		nullString(keyword.Difficulty), string(keyword.Status), nullString(keyword.Notes),
		orNow(keyword.CreatedAt, s.now),
	)
	if err := requireRows(tag, err); err != nil {
		return fmt.Errorf("insert keyword: %w", err)
	}
	return nil
}

// GetKeyword fetches a keyword by ID.
func (s *Store) GetKeyword(ctx context.Context, id string) (pipeline.Keyword, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+keywordColumns+` FROM `+liveKeywordFrom+` WHERE k.id = $1`, id)
	k, err := scanKeyword(row)
	if err != nil {
		return pipeline.Keyword{}, notFound(err)
	}
	return k, nil
}

// ListKeywords returns the project's keywords by descending priority.
func (s *Store) ListKeywords(ctx context.Context, projectID string) ([]pipeline.Keyword, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+keywordColumns+`
		FROM `+liveKeywordFrom+`
		WHERE k.project_id = $1
		ORDER BY k.priority_score DESC, k.created_at ASC, k.id ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list keywords: %w", err)
	}
	defer rows.Close()

	out := make([]pipeline.Keyword, 0)
	for rows.Next() {
		k, err := scanKeyword(rows)
		if err != nil {
			return nil, fmt.Errorf("scan keyword: %w", err)
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keywords: %w", err)
	}
	return out, nil
}

// CompareAndSetKeywordStatus moves the keyword from -> to, or returns ErrStaleState.
func (s *Store) CompareAndSetKeywordStatus(ctx context.Context, id string, from, to pipeline.KeywordStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE seo_keywords k SET status = $3, updated_at = $4
		FROM seo_projects p
		WHERE k.id = $1 AND k.status = $2 AND p.id = k.project_id AND p.deleted_at IS NULL`,
		id, string(from), string(to), s.now())
	if err := s.guarded(ctx, tag, err, keywordExistsSQL, id); err != nil {
		return fmt.Errorf("set keyword status: %w", err)
	}
	return nil
}

// CountKeywords counts the project's keywords.
func (s *Store) CountKeywords(ctx context.Context, projectID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM seo_keywords WHERE project_id = $1`, projectID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count keywords: %w", err)
	}
	return n, nil
}
