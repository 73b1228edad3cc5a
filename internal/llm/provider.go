package llm

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/seo-automation/internal/pipeline"
)

// Provider names accepted by New.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderNone      = "none"
)

// New returns the generator for provider, or nil for ProviderNone.
func New(provider, apiKey string) (pipeline.Generator, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey), nil
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey), nil
	case ProviderNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown analysis provider %q", provider)
	}
}
