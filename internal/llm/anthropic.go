// Package llm adapts hosted text-generation APIs to pipeline.Generator.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient generates text with the Anthropic Messages API.
type AnthropicClient struct {
	client *anthropic.Client
}

// NewAnthropicClient builds a client. Extra options (base URL, HTTP client) are mainly for tests.
func NewAnthropicClient(apiKey string, opts ...option.RequestOption) *AnthropicClient {
	client := anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &AnthropicClient{client: &client}
}

// Generate sends prompt as a single user message and returns the concatenated text blocks.
func (c *AnthropicClient) Generate(ctx context.Context, prompt, model string, maxTokens int) (string, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API error: %w", err)
	}
	if len(resp.Content) == 0 {
		return "", errors.New("no response from anthropic")
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}
