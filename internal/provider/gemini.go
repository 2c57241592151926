package provider

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/genai"
)

// GeminiClient talks to the Gemini API.
// The SDK client is created on first use.
type GeminiClient struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string

	mu     sync.Mutex
	client *genai.Client
}

// GeminiOption configures a GeminiClient.
type GeminiOption func(*GeminiClient)

// WithGeminiHTTPClient sets the HTTP client used by the SDK.
func WithGeminiHTTPClient(hc *http.Client) GeminiOption {
	return func(c *GeminiClient) { c.httpClient = hc }
}

// WithGeminiBaseURL overrides the API endpoint.
func WithGeminiBaseURL(u string) GeminiOption {
	return func(c *GeminiClient) { c.baseURL = u }
}

// NewGeminiClient creates a Gemini client.
func NewGeminiClient(apiKey string, opts ...GeminiOption) *GeminiClient {
	c := &GeminiClient{apiKey: apiKey}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ProviderName returns "gemini".
func (c *GeminiClient) ProviderName() string {
	return Gemini
}

// IsConfigured reports whether an API key is set.
func (c *GeminiClient) IsConfigured() bool {
	return c.apiKey != ""
}

func (c *GeminiClient) sdk(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}
	if c.apiKey == "" {
		return nil, fmt.Errorf("%s: %w", Gemini, ErrProviderNotConfigured)
	}

	cfg := &genai.ClientConfig{
		APIKey:     c.apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: c.httpClient,
	}
	if c.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: c.baseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	c.client = client
	slog.Debug("LLM client initialized", "provider", Gemini)
	return c.client, nil
}

func (c *GeminiClient) config(req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens(req)),
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	return cfg
}

// responseText joins the non-thought text parts of a response.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.Text == "" || part.Thought {
				continue
			}
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

// Stream yields text from each streamed response chunk.
func (c *GeminiClient) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	client, err := c.sdk(ctx)
	if err != nil {
		return fail(err)
	}

	return func(yield func(string, error) bool) {
		chunks := client.Models.GenerateContentStream(ctx, req.Model.Name, genai.Text(req.User), c.config(req))
		for resp, err := range chunks {
			if err != nil {
				yield("", fmt.Errorf("%s stream: %w", Gemini, err))
				return
			}
			text := responseText(resp)
			if text == "" {
				continue
			}
			if !yield(text, nil) {
				return
			}
		}
	}
}

// Complete returns the text of a single generate call.
func (c *GeminiClient) Complete(ctx context.Context, req Request) (string, error) {
	client, err := c.sdk(ctx)
	if err != nil {
		return "", err
	}

	resp, err := client.Models.GenerateContent(ctx, req.Model.Name, genai.Text(req.User), c.config(req))
	if err != nil {
		return "", fmt.Errorf("%s request failed: %w", Gemini, err)
	}
	content := strings.TrimSpace(responseText(resp))
	if content == "" {
		return "", fmt.Errorf("%s: %w", Gemini, ErrEmptyResponse)
	}
	return content, nil
}

var _ Client = (*GeminiClient)(nil)
