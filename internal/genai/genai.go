// Package genai generates auto-reply drafts for inbound contact messages
// using the OpenAI API.
package genai

import (
	"context"
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultSystemPrompt frames the model as a personal assistant drafting
// short, warm replies to friends.
const DefaultSystemPrompt = "You are a friendly personal assistant. Draft a short, " +
	"warm WhatsApp reply to the following message from a friend. Keep it casual and under two sentences."

// chatService defines the minimal interface for chat completions.
type chatService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey       string
	Model        string
	SystemPrompt string
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithSystemPrompt overrides the default reply-drafting system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(o *Opts) { o.SystemPrompt = prompt }
}

// Client wraps the OpenAI chat completion service for drafting replies.
type Client struct {
	chat         chatService
	model        string
	systemPrompt string
}

// NewClient initializes a GenAI client, falling back to the OPENAI_API_KEY
// environment variable when no key option is given.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Model:        openai.ChatModelGPT4oMini,
		SystemPrompt: DefaultSystemPrompt,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}

	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Client{
		chat:         &cli.Chat.Completions,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
	}, nil
}

// GenerateReply drafts a reply to an inbound message from a contact.
func (c *Client) GenerateReply(ctx context.Context, inbound string) (string, error) {
	if inbound == "" {
		return "", fmt.Errorf("inbound message cannot be empty")
	}

	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(c.systemPrompt),
			openai.UserMessage(inbound),
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}
