package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIClient generates text with the OpenAI Chat Completions API.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient builds a client. Extra options are mainly for tests.
func NewOpenAIClient(apiKey string, opts ...option.RequestOption) *OpenAIClient {
	client := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &OpenAIClient{client: &client}
}

// Generate sends prompt as a single user message and returns the first choice.
func (c *OpenAIClient) Generate(ctx context.Context, prompt, model string, maxTokens int) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
	})
	if err != nil {
		return "", fmt.Errorf("openai API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no response from openai")
	}
	return resp.Choices[0].Message.Content, nil
}
