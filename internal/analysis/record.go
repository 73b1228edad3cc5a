// Package analysis turns extracted website signal into a business analysis record by
// asking a text-generation provider, and degrades to a fixed default record whenever
// the provider fails or answers with something unparseable.
package analysis

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DefaultScore is the content quality score used when none is available.
const DefaultScore = 5.0

// Record is the typed analysis of one website.
type Record struct {
	BusinessType              string   `json:"business_type"`
	Industry                  string   `json:"industry"`
	TargetAudience            string   `json:"target_audience"`
	BrandVoice                string   `json:"brand_voice"`
	ContentQualityScore       float64  `json:"content_quality_score"`
	ExistingKeywords          []string `json:"existing_keywords"`
	ExistingContentTypes      []string `json:"existing_content_types"`
	RecommendedPSEOStrategies []string `json:"recommended_pseo_strategies"`
	CompetitiveAdvantages     []string `json:"competitive_advantages"`
	ContentGaps               []string `json:"content_gaps"`
}

// DefaultRecord is returned whenever the provider cannot produce a usable analysis.
func DefaultRecord() Record {
	return Record{
		BusinessType:              "Unknown",
		Industry:                  "General",
		TargetAudience:            "General audience",
		BrandVoice:                "Professional",
		ContentQualityScore:       DefaultScore,
		ExistingKeywords:          []string{},
		ExistingContentTypes:      []string{},
		RecommendedPSEOStrategies: []string{},
		CompetitiveAdvantages:     []string{},
		ContentGaps:               []string{},
	}
}

var errEmptyObject = errors.New("response is an empty object")

// cleanJSONResponse strips code fences and surrounding prose from a provider answer.
func cleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		content = content[start : end+1]
	}
	return content
}

// ParseResponse decodes a provider answer into a Record plus the compacted JSON object
// it came from. Individual fields are read leniently: a field of the wrong type is left
// empty, a missing or malformed score becomes DefaultScore, and scores are clamped to 0-10.
// Anything that is not a non-empty JSON object is an error.
func ParseResponse(text string) (Record, json.RawMessage, error) {
	cleaned := cleanJSONResponse(text)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &fields); err != nil {
		return Record{}, nil, fmt.Errorf("decode analysis json: %w", err)
	}
	if len(fields) == 0 {
		return Record{}, nil, errEmptyObject
	}

	rec := Record{
		BusinessType:              stringField(fields, "business_type"),
		Industry:                  stringField(fields, "industry"),
		TargetAudience:            stringField(fields, "target_audience"),
		BrandVoice:                stringField(fields, "brand_voice"),
		ContentQualityScore:       scoreField(fields, "content_quality_score"),
		ExistingKeywords:          listField(fields, "existing_keywords"),
		ExistingContentTypes:      listField(fields, "existing_content_types"),
		RecommendedPSEOStrategies: listField(fields, "recommended_pseo_strategies"),
		CompetitiveAdvantages:     listField(fields, "competitive_advantages"),
		ContentGaps:               listField(fields, "content_gaps"),
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, []byte(cleaned)); err != nil {
		return Record{}, nil, fmt.Errorf("compact analysis json: %w", err)
	}
	return rec, json.RawMessage(compact.Bytes()), nil
}

func stringField(fields map[string]json.RawMessage, key string) string {
	var s string
	if raw, ok := fields[key]; ok {
		_ = json.Unmarshal(raw, &s)
	}
	return strings.TrimSpace(s)
}

func listField(fields map[string]json.RawMessage, key string) []string {
	var items []string
	if raw, ok := fields[key]; ok {
		if err := json.Unmarshal(raw, &items); err != nil {
			items = nil
		}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func scoreField(fields map[string]json.RawMessage, key string) float64 {
	raw, ok := fields[key]
	if !ok {
		return DefaultScore
	}
	var score float64
	if err := json.Unmarshal(raw, &score); err != nil {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return DefaultScore
		}
		parsed, perr := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if perr != nil {
			return DefaultScore
		}
		score = parsed
	}
	return ClampScore(score)
}

// ClampScore bounds a quality score to the 0-10 scale.
func ClampScore(score float64) float64 {
	switch {
	case score < 0:
		return 0
	case score > 10:
		return 10
	default:
		return score
	}
}
