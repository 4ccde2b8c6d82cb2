// Package escalate converts pending items the rule engine could not handle,
// using an OpenAI-compatible chat model, and falls back to annotated
// placeholders when no model is available or a call fails.
package escalate

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Client is a single-turn chat completion.
type Client interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// ErrNoClient is reported for every item when escalation runs without a
// model.
var ErrNoClient = errors.New("AI escalation disabled")

// OpenAIConfig configures NewOpenAI.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	Timeout     time.Duration
}

type openAIClient struct {
	api     *openai.Client
	model   string
	temp    float32
	timeout time.Duration
}

// NewOpenAI returns a Client backed by go-openai. BaseURL may point at any
// OpenAI-compatible endpoint.
func NewOpenAI(cfg OpenAIConfig) Client {
	c := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &openAIClient{
		api:     openai.NewClientWithConfig(c),
		model:   model,
		temp:    cfg.Temperature,
		timeout: cfg.Timeout,
	}
}

func (c *openAIClient) Complete(ctx context.Context, system, user string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temp,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("chat completion: status %d: %w", apiErr.HTTPStatusCode, err)
		}
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion: no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
