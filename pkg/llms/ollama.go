package llms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/kanba-ai/kanba/pkg/httpclient"
)

// OllamaProvider calls a local Ollama server's chat API. Ollama reports
// usage as eval counts instead of token fields.
type OllamaProvider struct {
	config     Config
	httpClient *httpclient.Client
}

type ollamaRequest struct {
	Model    string        `json:"model"`
	Messages []Message     `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
	Error           string  `json:"error,omitempty"`
}

func NewOllamaProvider(cfg Config) (*OllamaProvider, error) {
	cfg.Provider = ProviderOllama
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid Ollama config: %w", err)
	}
	return &OllamaProvider{
		config:     cfg,
		httpClient: newProviderHTTPClient(cfg),
	}, nil
}

func (p *OllamaProvider) Name() string  { return ProviderOllama }
func (p *OllamaProvider) Model() string { return p.config.Model }

func (p *OllamaProvider) Invoke(ctx context.Context, messages []Message) (*Completion, error) {
	body, err := json.Marshal(ollamaRequest{
		Model:    p.config.Model,
		Messages: messages,
		Stream:   false,
		Options: ollamaOptions{
			Temperature: p.config.Temperature,
			NumPredict:  p.config.MaxTokens,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := p.httpClient.PostJSON(ctx, p.config.Host+"/api/chat", body, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed ollamaResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode Ollama response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || parsed.Error != "" {
		msg := parsed.Error
		if msg == "" {
			msg = "unknown error"
		}
		return nil, &APIError{Provider: ProviderOllama, StatusCode: resp.StatusCode, Message: msg}
	}

	return &Completion{
		Content: parsed.Message.Content,
		Usage: Usage{
			PromptTokens:     parsed.PromptEvalCount,
			CompletionTokens: parsed.EvalCount,
		},
	}, nil
}
