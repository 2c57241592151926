package provider

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIClient talks to the OpenAI chat completions API, or to any
// compatible endpoint (OpenRouter) when a base URL is given.
// The SDK client is created on first use.
type OpenAIClient struct {
	name    string
	apiKey  string
	baseURL string
	opts    []option.RequestOption

	mu     sync.Mutex
	client *openai.Client
}

// NewOpenAIClient creates an OpenAI client.
func NewOpenAIClient(apiKey string, opts ...option.RequestOption) *OpenAIClient {
	return &OpenAIClient{name: OpenAI, apiKey: apiKey, opts: opts}
}

// NewOpenRouterClient creates a client for the OpenRouter compatible API.
func NewOpenRouterClient(apiKey, baseURL string, opts ...option.RequestOption) *OpenAIClient {
	return &OpenAIClient{name: OpenRouter, apiKey: apiKey, baseURL: baseURL, opts: opts}
}

// ProviderName returns the provider this client serves.
func (c *OpenAIClient) ProviderName() string {
	return c.name
}

// IsConfigured reports whether an API key is set.
func (c *OpenAIClient) IsConfigured() bool {
	return c.apiKey != ""
}

func (c *OpenAIClient) sdk() (*openai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}
	if c.apiKey == "" {
		return nil, fmt.Errorf("%s: %w", c.name, ErrProviderNotConfigured)
	}

	options := []option.RequestOption{option.WithAPIKey(c.apiKey)}
	if c.baseURL != "" {
		options = append(options, option.WithBaseURL(c.baseURL))
	}
	options = append(options, c.opts...)

	client := openai.NewClient(options...)
	c.client = &client
	slog.Debug("LLM client initialized", "provider", c.name)
	return c.client, nil
}

func (c *OpenAIClient) params(req Request) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.User))

	return openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(req.Model.Name),
		Messages:  messages,
		MaxTokens: openai.Int(maxTokens(req)),
	}
}

// Stream yields content deltas from a streaming chat completion.
func (c *OpenAIClient) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	client, err := c.sdk()
	if err != nil {
		return fail(err)
	}

	return func(yield func(string, error) bool) {
		stream := client.Chat.Completions.NewStreaming(ctx, c.params(req))
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			text := chunk.Choices[0].Delta.Content
			if text == "" {
				continue
			}
			if !yield(text, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield("", fmt.Errorf("%s stream: %w", c.name, err))
		}
	}
}

// Complete returns the first choice of a chat completion.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	client, err := c.sdk()
	if err != nil {
		return "", err
	}

	resp, err := client.Chat.Completions.New(ctx, c.params(req))
	if err != nil {
		return "", fmt.Errorf("%s request failed: %w", c.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: %w", c.name, ErrEmptyResponse)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("%s: %w", c.name, ErrEmptyResponse)
	}
	return content, nil
}

var _ Client = (*OpenAIClient)(nil)
