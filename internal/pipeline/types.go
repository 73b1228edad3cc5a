// Package pipeline defines the entities, states, and collaborator contracts shared by
// every stage of the SEO content pipeline.
package pipeline

import (
	"encoding/json"
	"time"
)

// SearchIntent classifies the searcher's goal behind a keyword.
type SearchIntent string

// Supported search intents. The empty value means unset.
const (
	IntentInformational SearchIntent = "informational"
	IntentCommercial    SearchIntent = "commercial"
	IntentTransactional SearchIntent = "transactional"
	IntentNavigational  SearchIntent = "navigational"
)

// Valid reports whether the intent is unset or one of the known values.
func (i SearchIntent) Valid() bool {
	switch i {
	case "", IntentInformational, IntentCommercial, IntentTransactional, IntentNavigational:
		return true
	default:
		return false
	}
}

// Sentiment is the tone an answer engine used when mentioning the brand.
type Sentiment string

// Supported sentiment values. The empty value means unset.
const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Valid reports whether the sentiment is unset or one of the known values.
func (s Sentiment) Valid() bool {
	switch s {
	case "", SentimentPositive, SentimentNeutral, SentimentNegative:
		return true
	default:
		return false
	}
}

// HighPriorityThreshold is the priority score at or above which a keyword counts as high priority.
const HighPriorityThreshold = 0.7

// ProjectCounters are the cached child counts kept on a Project.
// Only the statistics aggregator writes them.
type ProjectCounters struct {
	KeywordsCount  int `json:"keywords_count"`
	PagesGenerated int `json:"pages_generated"`
	PagesPublished int `json:"pages_published"`
	PagesIndexed   int `json:"pages_indexed"`
}

// Project is a tracked website undergoing automated content operations.
type Project struct {
	ID                  string          `json:"id"`
	OwnerID             int64           `json:"owner_id"`
	Name                string          `json:"name"`
	URL                 string          `json:"url"`
	BusinessType        string          `json:"business_type,omitempty"`
	Industry            string          `json:"industry,omitempty"`
	TargetAudience      string          `json:"target_audience,omitempty"`
	BrandVoice          string          `json:"brand_voice,omitempty"`
	AnalysisData        json.RawMessage `json:"analysis_data,omitempty"`
	ContentQualityScore float64         `json:"content_quality_score"`
	ProjectCounters
	Status    ProjectStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	DeletedAt *time.Time    `json:"deleted_at,omitempty"`
}

// Progress is the share of keywords that already have a published page, 0-100.
func (p Project) Progress() int {
	if p.KeywordsCount == 0 {
		return 0
	}
	return p.PagesPublished * 100 / p.KeywordsCount
}

// AnalysisFields are the project attributes owned by the orchestrator.
type AnalysisFields struct {
	BusinessType        string
	Industry            string
	TargetAudience      string
	BrandVoice          string
	ContentQualityScore float64
	AnalysisData        json.RawMessage
}

// Keyword is a target search phrase belonging to a project.
type Keyword struct {
	ID            string        `json:"id"`
	ProjectID     string        `json:"project_id"`
	SeedKeyword   string        `json:"seed_keyword"`
	Variations    []string      `json:"variations"`
	SearchIntent  SearchIntent  `json:"search_intent,omitempty"`
	PriorityScore float64       `json:"priority_score"`
	SearchVolume  *int          `json:"search_volume,omitempty"`
	Difficulty    string        `json:"difficulty,omitempty"`
	Status        KeywordStatus `json:"status"`
	Notes         string        `json:"notes,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// HighPriority reports whether the keyword meets HighPriorityThreshold.
func (k Keyword) HighPriority() bool {
	return k.PriorityScore >= HighPriorityThreshold
}

// GeneratedPage is the content artifact produced for exactly one keyword.
type GeneratedPage struct {
	ID                 string          `json:"id"`
	KeywordID          string          `json:"keyword_id"`
	ProjectID          string          `json:"project_id"`
	Title              string          `json:"title"`
	Slug               string          `json:"slug"`
	MetaDescription    string          `json:"meta_description"`
	ContentHTML        string          `json:"content_html"`
	ContentMarkdown    string          `json:"content_markdown,omitempty"`
	SchemaMarkup       json.RawMessage `json:"schema_markup,omitempty"`
	InternalLinks      []string        `json:"internal_links"`
	WordCount          int             `json:"word_count"`
	PublishedURL       string          `json:"published_url,omitempty"`
	CMSPostID          *int64          `json:"cms_post_id,omitempty"`
	LLMVisibilityScore float64         `json:"llm_visibility_score"`
	Status             PageStatus      `json:"status"`
	PublishedAt        *time.Time      `json:"published_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Excerpt returns up to 150 characters of the page's tag-stripped HTML.
func (p GeneratedPage) Excerpt() string {
	return Excerpt(p.ContentHTML, 150)
}

// Publication carries the side data recorded when a page is published.
type Publication struct {
	URL       string
	CMSPostID *int64
	At        time.Time
}

// IndexingStatus is the search-engine crawl/index state of one generated page.
type IndexingStatus struct {
	ID                string     `json:"id"`
	PageID            string     `json:"page_id"`
	GoogleIndexed     bool       `json:"google_indexed"`
	SubmittedToGoogle bool       `json:"submitted_to_google"`
	LastCrawled       *time.Time `json:"last_crawled,omitempty"`
	SubmittedAt       *time.Time `json:"submitted_at,omitempty"`
	CheckedAt         *time.Time `json:"checked_at,omitempty"`
	IndexingIssues    []string   `json:"indexing_issues"`
	RankingPosition   *int       `json:"ranking_position,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// IndexingCheck is the result of one indexing probe for a page.
type IndexingCheck struct {
	Indexed         bool       `json:"google_indexed"`
	Issues          []string   `json:"indexing_issues"`
	RankingPosition *int       `json:"ranking_position,omitempty"`
	LastCrawled     *time.Time `json:"last_crawled,omitempty"`
}

// LlmVisibility is one point-in-time answer-engine probe result.
type LlmVisibility struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"project_id"`
	PageID          string    `json:"page_id,omitempty"`
	Platform        string    `json:"platform"`
	TestPrompt      string    `json:"test_prompt"`
	BrandMentioned  bool      `json:"brand_mentioned"`
	URLCited        bool      `json:"url_cited"`
	CitationContext string    `json:"citation_context,omitempty"`
	Sentiment       Sentiment `json:"sentiment,omitempty"`
	VisibilityScore float64   `json:"visibility_score"`
	CheckedAt       time.Time `json:"checked_at"`
	CreatedAt       time.Time `json:"created_at"`
}

// ProjectDetail is a project together with its children, for read paths.
type ProjectDetail struct {
	Project  Project         `json:"project"`
	Keywords []Keyword       `json:"keywords"`
	Pages    []GeneratedPage `json:"pages"`
	Progress int             `json:"progress"`
}
