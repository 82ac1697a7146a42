package generative

import (
	"context"
	"errors"

	"github.com/tjfontaine/carelog/internal/api/anthropic"
	"github.com/tjfontaine/carelog/internal/api/openai"
)

// Backend sends one system+user exchange to a language model and returns
// the raw text of its reply.
type Backend interface {
	Name() string
	Complete(ctx context.Context, system, user string) (string, error)
}

var errEmptyReply = errors.New("model returned no content")

// AnthropicBackend talks to the Anthropic Messages API.
type AnthropicBackend struct {
	client    *anthropic.Client
	model     string
	maxTokens int
}

// NewAnthropicBackend creates a backend for the given model.
func NewAnthropicBackend(client *anthropic.Client, model string, maxTokens int) *AnthropicBackend {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxOutputTokens
	}
	return &AnthropicBackend{client: client, model: model, maxTokens: maxTokens}
}

func (b *AnthropicBackend) Name() string { return "anthropic" }

func (b *AnthropicBackend) Complete(ctx context.Context, system, user string) (string, error) {
	var temperature float32
	resp, err := b.client.CreateMessage(ctx, &anthropic.MessagesRequest{
		Model:       b.model,
		System:      system,
		MaxTokens:   b.maxTokens,
		Temperature: &temperature,
		Messages: []anthropic.Message{
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", err
	}
	text := resp.Text()
	if text == "" {
		return "", errEmptyReply
	}
	return text, nil
}

// OpenAIBackend talks to the OpenAI Chat Completions API in JSON mode.
type OpenAIBackend struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAIBackend creates a backend for the given model.
func NewOpenAIBackend(client *openai.Client, model string, maxTokens int) *OpenAIBackend {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxOutputTokens
	}
	return &OpenAIBackend{client: client, model: model, maxTokens: maxTokens}
}

func (b *OpenAIBackend) Name() string { return "openai" }

func (b *OpenAIBackend) Complete(ctx context.Context, system, user string) (string, error) {
	var temperature float32
	resp, err := b.client.CreateChatCompletion(ctx, &openai.ChatCompletionRequest{
		Model:               b.model,
		MaxCompletionTokens: b.maxTokens,
		Temperature:         &temperature,
		ResponseFormat:      &openai.ResponseFormat{Type: "json_object"},
		Messages: []openai.ChatCompletionMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", errEmptyReply
	}
	return resp.Choices[0].Message.Content, nil
}
