package pipeline

import (
	"context"
	"io"
	"time"
)

// ProjectRepository persists projects. Reads never return soft-deleted rows.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project Project) error
	GetProject(ctx context.Context, id string) (Project, error)
	ListProjects(ctx context.Context, ownerID int64, limit, offset int) ([]Project, error)
	UpdateProjectAnalysis(ctx context.Context, id string, fields AnalysisFields) error
	// CompareAndSetProjectStatus moves the project to `to` only while it is in `from`,
	// returning ErrStaleState otherwise.
	CompareAndSetProjectStatus(ctx context.Context, id string, from, to ProjectStatus) error
	UpdateProjectCounters(ctx context.Context, id string, counters ProjectCounters) error
	SoftDeleteProject(ctx context.Context, id string, at time.Time) error
	RestoreProject(ctx context.Context, id string) error
}

// KeywordRepository persists keywords.
type KeywordRepository interface {
	CreateKeyword(ctx context.Context, keyword Keyword) error
	GetKeyword(ctx context.Context, id string) (Keyword, error)
	// ListKeywords orders by priority_score descending.
	ListKeywords(ctx context.Context, projectID string) ([]Keyword, error)
	CompareAndSetKeywordStatus(ctx context.Context, id string, from, to KeywordStatus) error
	CountKeywords(ctx context.Context, projectID string) (int, error)
}

// PageRepository persists generated pages.
type PageRepository interface {
	// CreatePage returns ErrDuplicateSlug or ErrPageExists on uniqueness violations.
	CreatePage(ctx context.Context, page GeneratedPage) error
	GetPage(ctx context.Context, id string) (GeneratedPage, error)
	GetPageByKeyword(ctx context.Context, keywordID string) (GeneratedPage, error)
	// ListPages orders by created_at descending.
	ListPages(ctx context.Context, projectID string) ([]GeneratedPage, error)
	CompareAndSetPageStatus(ctx context.Context, id string, from, to PageStatus) error
	// PublishPage atomically moves the page publishing -> published with the
	// publication data and the owning keyword from keywordFrom -> published.
	PublishPage(ctx context.Context, id string, keywordFrom KeywordStatus, pub Publication) error
	SetPageVisibilityScore(ctx context.Context, id string, score float64) error
	// CountPages counts all pages of the project, or only those in status when non-empty.
	CountPages(ctx context.Context, projectID string, status PageStatus) (int, error)
}

// IndexingRepository persists indexing state, one row per page.
type IndexingRepository interface {
	GetIndexing(ctx context.Context, pageID string) (IndexingStatus, error)
	// MarkIndexingSubmitted sets submitted_to_google, creating the row from seed when
	// absent. The first submitted_at is kept and check results are left untouched. It
	// reports whether this call was the one that flipped the flag.
	MarkIndexingSubmitted(ctx context.Context, seed IndexingStatus) (bool, error)
	// RecordIndexingResult writes the check columns of st (google_indexed, issues, rank,
	// last_crawled when set, checked_at) only while google_indexed still equals observed;
	// otherwise it fails with ErrStaleState. Submission columns are left untouched.
	RecordIndexingResult(ctx context.Context, st IndexingStatus, observed bool) error
	CountIndexedPages(ctx context.Context, projectID string) (int, error)
}

// VisibilityRepository stores the append-only visibility history.
type VisibilityRepository interface {
	AppendVisibility(ctx context.Context, record LlmVisibility) error
	// ListVisibility returns records newest first; an empty platform means all.
	ListVisibility(ctx context.Context, projectID, platform string) ([]LlmVisibility, error)
	// AverageVisibility returns 0 when no records match.
	AverageVisibility(ctx context.Context, projectID, platform string) (float64, error)
}

// Store bundles every repository behind one persistence engine.
type Store interface {
	ProjectRepository
	KeywordRepository
	PageRepository
	IndexingRepository
	VisibilityRepository
	Ping(ctx context.Context) error
	Close()
}

// FetchRequest describes one crawl.
type FetchRequest struct {
	URL string
}

// FetchResponse carries the fetched document.
type FetchResponse struct {
	URL        string
	StatusCode int
	Body       []byte
	Headers    map[string][]string
	Duration   time.Duration
}

// Fetcher retrieves raw HTML. Failures are *CrawlError.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error)
}

// Generator is an opaque text-generation capability.
type Generator interface {
	Generate(ctx context.Context, prompt, model string, maxTokens int) (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher fans pipeline events out to job runners.
type Publisher interface {
	Publish(ctx context.Context, event Event) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces entity ids.
type IDGenerator interface {
	NewID() (string, error)
}

// Event announces a committed state change.
type Event struct {
	Kind      string    `json:"kind"`
	ProjectID string    `json:"project_id"`
	EntityID  string    `json:"entity_id"`
	Status    string    `json:"status"`
	At        time.Time `json:"at"`
}
