// Package provider adapts third-party LLM APIs to a streaming text gateway.
package provider

import (
	"context"
	"errors"
	"iter"

	"github.com/ashureev/tripsitter/internal/domain"
)

// Provider names as they appear in model references.
const (
	OpenAI     = "openai"
	Anthropic  = "anthropic"
	Gemini     = "gemini"
	OpenRouter = "openrouter"
)

var (
	// ErrProviderNotConfigured is returned when no credential is set for a provider.
	ErrProviderNotConfigured = errors.New("provider not configured")
	// ErrEmptyResponse is returned when a completion carries no text.
	ErrEmptyResponse = errors.New("empty response")
)

// Request is a single-turn prompt.
type Request struct {
	System    string
	User      string
	Model     domain.Model
	MaxTokens int
}

// Gateway issues prompts against an LLM API.
type Gateway interface {
	// Stream yields text fragments as they arrive. The sequence ends after
	// the last fragment, or after yielding a single non-nil error.
	Stream(ctx context.Context, req Request) iter.Seq2[string, error]

	// Complete returns the full response text.
	Complete(ctx context.Context, req Request) (string, error)
}

// Client is a Gateway bound to one provider.
type Client interface {
	Gateway
	ProviderName() string
	IsConfigured() bool
}

// fail returns a sequence that yields only err.
func fail(err error) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		yield("", err)
	}
}

func maxTokens(req Request) int64 {
	if req.MaxTokens <= 0 {
		return 1024
	}
	return int64(req.MaxTokens)
}
