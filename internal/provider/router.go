package provider

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sort"

	"github.com/ashureev/tripsitter/internal/config"
)

// Router dispatches requests to the client registered for the model's provider.
type Router struct {
	clients map[string]Client
}

// NewRouter creates a router over clients, keyed by their ProviderName.
func NewRouter(clients ...Client) *Router {
	r := &Router{clients: make(map[string]Client, len(clients))}
	for _, c := range clients {
		r.clients[c.ProviderName()] = c
	}
	return r
}

// NewRouterFromConfig wires one client per supported provider.
func NewRouterFromConfig(cfg config.ProviderConfig) *Router {
	return NewRouter(
		NewOpenAIClient(cfg.OpenAIAPIKey),
		NewAnthropicClient(cfg.AnthropicAPIKey),
		NewGeminiClient(cfg.GeminiAPIKey),
		NewOpenRouterClient(cfg.OpenRouterAPIKey, cfg.OpenRouterURL),
	)
}

// Configured returns the sorted names of providers with credentials.
func (r *Router) Configured() []string {
	var names []string
	for name, c := range r.clients {
		if c.IsConfigured() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// IsConfigured reports whether provider has a client with credentials.
func (r *Router) IsConfigured(provider string) bool {
	return slices.Contains(r.Configured(), provider)
}

func (r *Router) client(provider string) (Client, error) {
	c, ok := r.clients[provider]
	if !ok || !c.IsConfigured() {
		return nil, fmt.Errorf("%s: %w", provider, ErrProviderNotConfigured)
	}
	return c, nil
}

// Stream forwards to the provider's client.
func (r *Router) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	c, err := r.client(req.Model.Provider)
	if err != nil {
		return fail(err)
	}
	return c.Stream(ctx, req)
}

// Complete forwards to the provider's client.
func (r *Router) Complete(ctx context.Context, req Request) (string, error) {
	c, err := r.client(req.Model.Provider)
	if err != nil {
		return "", err
	}
	return c.Complete(ctx, req)
}

var _ Gateway = (*Router)(nil)
