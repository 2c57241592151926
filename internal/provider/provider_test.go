package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ashureev/tripsitter/internal/domain"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, seq func(func(string, error) bool)) ([]string, error) {
	t.Helper()
	var out []string
	for text, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, text)
	}
	return out, nil
}

func sseServer(t *testing.T, path string, frames []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, path) {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range frames {
			fmt.Fprint(w, f)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIStream(t *testing.T) {
	chunk := func(s string) string {
		return fmt.Sprintf("data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"gpt-4o-mini\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q},\"finish_reason\":null}]}\n\n", s)
	}
	srv := sseServer(t, "/chat/completions", []string{chunk("Hel"), chunk(""), chunk("lo"), "data: [DONE]\n\n"})

	c := NewOpenAIClient("sk-test", option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
	req := Request{System: "sys", User: "hi", Model: domain.Model{Provider: OpenAI, Name: "gpt-4o-mini"}}

	got, err := collect(t, c.Stream(context.Background(), req))
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, got)
}

func TestOpenAIComplete(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c","object":"chat.completion","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":" rated "},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	c := NewOpenRouterClient("sk-or", srv.URL+"/", option.WithMaxRetries(0))
	assert.Equal(t, OpenRouter, c.ProviderName())

	got, err := c.Complete(context.Background(), Request{
		System:    "sys",
		User:      "rate it",
		Model:     domain.Model{Provider: OpenRouter, Name: "mistralai/mistral-large"},
		MaxTokens: 50,
	})
	require.NoError(t, err)
	assert.Equal(t, "rated", got)
	assert.Contains(t, body, `"mistralai/mistral-large"`)
	assert.Contains(t, body, `"max_tokens":50`)
}

func TestOpenAIStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"boom","type":"server_error"}}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient("sk-test", option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
	_, err := collect(t, c.Stream(context.Background(), Request{User: "hi", Model: domain.Model{Provider: OpenAI, Name: "gpt-4o"}}))
	require.Error(t, err)
}

func TestAnthropicStream(t *testing.T) {
	delta := func(s string) string {
		return fmt.Sprintf("event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":%q}}\n\n", s)
	}
	srv := sseServer(t, "/v1/messages", []string{
		"event: ping\ndata: {\"type\":\"ping\"}\n\n",
		delta("The room "),
		delta("breathes."),
		"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n",
	})

	c := NewAnthropicClient("sk-ant", anthropicoption.WithBaseURL(srv.URL), anthropicoption.WithMaxRetries(0))
	got, err := collect(t, c.Stream(context.Background(), Request{
		System: "sys",
		User:   "go",
		Model:  domain.Model{Provider: Anthropic, Name: "claude-3-5-haiku-latest"},
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"The room ", "breathes."}, got)
}

func TestAnthropicComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-haiku-latest","content":[{"type":"text","text":"{\"rating\":3}"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`)
	}))
	defer srv.Close()

	c := NewAnthropicClient("sk-ant", anthropicoption.WithBaseURL(srv.URL), anthropicoption.WithMaxRetries(0))
	got, err := c.Complete(context.Background(), Request{User: "rate", Model: domain.Model{Provider: Anthropic, Name: "claude-3-5-haiku-latest"}})
	require.NoError(t, err)
	assert.Equal(t, `{"rating":3}`, got)
}

func TestUnconfiguredClients(t *testing.T) {
	clients := []Client{
		NewOpenAIClient(""),
		NewAnthropicClient(""),
		NewGeminiClient(""),
		NewOpenRouterClient("", "https://openrouter.ai/api/v1"),
	}
	for _, c := range clients {
		t.Run(c.ProviderName(), func(t *testing.T) {
			assert.False(t, c.IsConfigured())

			_, err := collect(t, c.Stream(context.Background(), Request{User: "x"}))
			assert.ErrorIs(t, err, ErrProviderNotConfigured)

			_, err = c.Complete(context.Background(), Request{User: "x"})
			assert.ErrorIs(t, err, ErrProviderNotConfigured)
		})
	}
}

func TestRouter(t *testing.T) {
	r := NewRouter(NewOpenAIClient("sk"), NewAnthropicClient(""))
	assert.Equal(t, []string{OpenAI}, r.Configured())
	assert.True(t, r.IsConfigured(OpenAI))
	assert.False(t, r.IsConfigured(Anthropic))

	_, err := r.Complete(context.Background(), Request{Model: domain.Model{Provider: Anthropic, Name: "m"}})
	assert.ErrorIs(t, err, ErrProviderNotConfigured)

	_, err = collect(t, r.Stream(context.Background(), Request{Model: domain.Model{Provider: "mystery", Name: "m"}}))
	assert.ErrorIs(t, err, ErrProviderNotConfigured)
}

func TestStatic(t *testing.T) {
	boom := errors.New("boom")
	s := NewStatic(
		Reply{Fragments: []string{"a", "b"}},
		Reply{Fragments: []string{"c"}, Err: boom},
		Reply{Fragments: []string{"done"}},
	)
	ctx := context.Background()

	got, err := collect(t, s.Stream(ctx, Request{User: "1"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)

	got, err = collect(t, s.Stream(ctx, Request{User: "2"}))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"c"}, got)

	text, err := s.Complete(ctx, Request{User: "3"})
	require.NoError(t, err)
	assert.Equal(t, "done", text)

	text, err = s.Complete(ctx, Request{User: "4"})
	require.NoError(t, err)
	assert.Equal(t, "done", text, "last reply repeats")

	assert.Len(t, s.Requests(), 4)
}

func TestGeminiStream(t *testing.T) {
	frame := func(s string) string {
		return fmt.Sprintf("data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":%q}]}}]}\n\n", s)
	}
	srv := sseServer(t, ":streamGenerateContent", []string{frame("drift"), frame(""), frame("ing")})

	c := NewGeminiClient("g-test", WithGeminiBaseURL(srv.URL+"/"), WithGeminiHTTPClient(srv.Client()))
	req := Request{User: "hi", Model: domain.Model{Provider: Gemini, Name: "gemini-2.0-flash"}}

	got, err := collect(t, c.Stream(context.Background(), req))
	require.NoError(t, err)
	assert.Equal(t, []string{"drift", "ing"}, got)
}

func TestGeminiCompleteSkipsThoughts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"hmm","thought":true},{"text":" {\"rating\": 3} "}]}}]}`)
	}))
	defer srv.Close()

	c := NewGeminiClient("g-test", WithGeminiBaseURL(srv.URL+"/"), WithGeminiHTTPClient(srv.Client()))
	got, err := c.Complete(context.Background(), Request{User: "rate", Model: domain.Model{Provider: Gemini, Name: "gemini-2.0-flash"}})
	require.NoError(t, err)
	assert.Equal(t, `{"rating": 3}`, got)
}
