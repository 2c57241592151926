package provider

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient talks to the Anthropic messages API.
// The SDK client is created on first use.
type AnthropicClient struct {
	apiKey string
	opts   []option.RequestOption

	mu     sync.Mutex
	client *anthropic.Client
}

// NewAnthropicClient creates an Anthropic client.
func NewAnthropicClient(apiKey string, opts ...option.RequestOption) *AnthropicClient {
	return &AnthropicClient{apiKey: apiKey, opts: opts}
}

// ProviderName returns "anthropic".
func (c *AnthropicClient) ProviderName() string {
	return Anthropic
}

// IsConfigured reports whether an API key is set.
func (c *AnthropicClient) IsConfigured() bool {
	return c.apiKey != ""
}

func (c *AnthropicClient) sdk() (*anthropic.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}
	if c.apiKey == "" {
		return nil, fmt.Errorf("%s: %w", Anthropic, ErrProviderNotConfigured)
	}

	options := append([]option.RequestOption{option.WithAPIKey(c.apiKey)}, c.opts...)
	client := anthropic.NewClient(options...)
	c.client = &client
	slog.Debug("LLM client initialized", "provider", Anthropic)
	return c.client, nil
}

func (c *AnthropicClient) params(req Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model.Name),
		MaxTokens: maxTokens(req),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.User)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	return params
}

// Stream yields text deltas from a streaming message.
func (c *AnthropicClient) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	client, err := c.sdk()
	if err != nil {
		return fail(err)
	}

	return func(yield func(string, error) bool) {
		stream := client.Messages.NewStreaming(ctx, c.params(req))
		defer stream.Close()

		for stream.Next() {
			event := stream.Current()
			delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			text, ok := delta.Delta.AsAny().(anthropic.TextDelta)
			if !ok || text.Text == "" {
				continue
			}
			if !yield(text.Text, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield("", fmt.Errorf("%s stream: %w", Anthropic, err))
		}
	}
}

// Complete concatenates the text blocks of a message.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (string, error) {
	client, err := c.sdk()
	if err != nil {
		return "", err
	}

	message, err := client.Messages.New(ctx, c.params(req))
	if err != nil {
		return "", fmt.Errorf("%s request failed: %w", Anthropic, err)
	}

	var b strings.Builder
	for _, block := range message.Content {
		b.WriteString(block.Text)
	}
	content := strings.TrimSpace(b.String())
	if content == "" {
		return "", fmt.Errorf("%s: %w", Anthropic, ErrEmptyResponse)
	}
	return content, nil
}

var _ Client = (*AnthropicClient)(nil)
