package llms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIProviderInvoke(t *testing.T) {
	var gotAuth string
	var gotReq openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(openAIResponse{
			Choices: []openAIChoice{{Message: Message{Role: RoleAssistant, Content: "hello"}}},
			Usage:   openAIUsage{PromptTokens: 12, CompletionTokens: 3, TotalTokens: 15},
		})
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(Config{
		Provider: ProviderOpenAI,
		Model:    "gpt-4o-mini",
		APIKey:   "test-key",
		Host:     srv.URL,
	})
	require.NoError(t, err)

	completion, err := p.Invoke(context.Background(), []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hi"},
	})
	require.NoError(t, err)

	assert.Equal(t, "hello", completion.Content)
	assert.Equal(t, Usage{PromptTokens: 12, CompletionTokens: 3}, completion.Usage)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "gpt-4o-mini", gotReq.Model)
	assert.Len(t, gotReq.Messages, 2)
}

func TestOpenAIProviderAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(openAIResponse{
			Error: &openAIError{Message: "invalid api key", Type: "invalid_request_error"},
		})
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(Config{Model: "gpt-4o-mini", APIKey: "bad", Host: srv.URL})
	require.NoError(t, err)

	_, err = p.Invoke(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "invalid api key")
}

func TestAnthropicProviderSplitsSystemMessages(t *testing.T) {
	var gotReq anthropicRequest
	var gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotVersion = r.Header.Get("anthropic-version")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(anthropicResponse{
			Content: []anthropicContent{{Type: "text", Text: "salut"}},
			Usage:   anthropicUsage{InputTokens: 8, OutputTokens: 2},
		})
	}))
	defer srv.Close()

	p, err := NewAnthropicProvider(Config{Model: "claude-3-5-haiku-20241022", APIKey: "test-key", Host: srv.URL})
	require.NoError(t, err)

	completion, err := p.Invoke(context.Background(), []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hi"},
	})
	require.NoError(t, err)

	assert.Equal(t, "salut", completion.Content)
	assert.Equal(t, Usage{PromptTokens: 8, CompletionTokens: 2}, completion.Usage)
	assert.Equal(t, anthropicVersion, gotVersion)
	assert.Equal(t, "be brief", gotReq.System)
	// System turns never travel in the messages array.
	require.Len(t, gotReq.Messages, 1)
	assert.Equal(t, RoleUser, gotReq.Messages[0].Role)
}

func TestOllamaProviderInvoke(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		json.NewEncoder(w).Encode(ollamaResponse{
			Message:         Message{Role: RoleAssistant, Content: "local answer"},
			Done:            true,
			PromptEvalCount: 20,
			EvalCount:       5,
		})
	}))
	defer srv.Close()

	p, err := NewOllamaProvider(Config{Model: "llama3", Host: srv.URL})
	require.NoError(t, err)

	completion, err := p.Invoke(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	require.NoError(t, err)

	assert.Equal(t, "local answer", completion.Content)
	assert.Equal(t, Usage{PromptTokens: 20, CompletionTokens: 5}, completion.Usage)
}

func TestNewProviderUnsupportedType(t *testing.T) {
	_, err := NewProvider(Config{Provider: "carrier-pigeon"})
	require.Error(t, err)
}

func TestRegistryRegisterFromConfig(t *testing.T) {
	r := NewRegistry()

	p, err := r.RegisterFromConfig("main", Config{Provider: ProviderOllama, Model: "llama3"})
	require.NoError(t, err)
	assert.Equal(t, ProviderOllama, p.Name())

	got, ok := r.Get("main")
	require.True(t, ok)
	assert.Equal(t, "llama3", got.Model())

	_, err = r.RegisterFromConfig("main", Config{Provider: ProviderOllama})
	assert.Error(t, err)
}
