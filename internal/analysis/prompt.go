package analysis

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/seo-automation/internal/extractor"
	"github.com/JakeFAU/seo-automation/internal/pipeline"
)

const (
	maxPromptHeadings = 20
	maxPromptBody     = 5000
)

const responseSchema = `{
    "business_type": "string (e.g., SaaS, E-commerce, Blog, Service Business, Directory, etc.)",
    "industry": "string (specific industry vertical)",
    "target_audience": "string (detailed audience description)",
    "brand_voice": "string (tone: professional, casual, technical, friendly, etc.)",
    "content_quality_score": float (0-10 rating),
    "existing_keywords": ["array", "of", "obvious", "keywords", "found"],
    "existing_content_types": ["array", "of", "content", "types"],
    "recommended_pseo_strategies": [
        "specific strategy 1",
        "specific strategy 2",
        "specific strategy 3"
    ],
    "competitive_advantages": ["advantage 1", "advantage 2"],
    "content_gaps": ["gap 1", "gap 2", "gap 3"]
}`

// BuildPrompt renders the analysis request for one crawled page.
func BuildPrompt(sig extractor.Signal, sourceURL string) string {
	headings := sig.Headings
	if len(headings) > maxPromptHeadings {
		headings = headings[:maxPromptHeadings]
	}

	var b strings.Builder
	b.WriteString("Analyze this website and return a JSON object with detailed SEO insights.\n\n")
	fmt.Fprintf(&b, "Website URL: %s\n", sourceURL)
	fmt.Fprintf(&b, "Title: %s\n", sig.Title)
	fmt.Fprintf(&b, "Meta Description: %s\n\n", sig.MetaDescription)
	fmt.Fprintf(&b, "Headings:\n%s\n\n", strings.Join(headings, "\n"))
	fmt.Fprintf(&b, "Content Sample:\n%s\n\n", pipeline.Truncate(sig.BodyText, maxPromptBody))
	fmt.Fprintf(&b, "Word Count: %d\n\n", sig.WordCount)
	b.WriteString("Return a JSON object with these exact keys:\n")
	b.WriteString(responseSchema)
	b.WriteString("\n\nReturn ONLY valid JSON, no markdown formatting or explanations.")
	return b.String()
}
