package llms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kanba-ai/kanba/pkg/httpclient"
)

const anthropicVersion = "2023-06-01"

// AnthropicProvider calls the Anthropic messages API. Anthropic carries the
// system prompt as a top-level field rather than a message, so system
// messages are split out of the conversation before sending.
type AnthropicProvider struct {
	config     Config
	httpClient *httpclient.Client
}

type anthropicRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
	Usage   anthropicUsage     `json:"usage"`
	Error   *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewAnthropicProvider(cfg Config) (*AnthropicProvider, error) {
	cfg.Provider = ProviderAnthropic
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid Anthropic config: %w", err)
	}
	return &AnthropicProvider{
		config:     cfg,
		httpClient: newProviderHTTPClient(cfg),
	}, nil
}

func (p *AnthropicProvider) Name() string  { return ProviderAnthropic }
func (p *AnthropicProvider) Model() string { return p.config.Model }

func (p *AnthropicProvider) Invoke(ctx context.Context, messages []Message) (*Completion, error) {
	var system []string
	chat := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		chat = append(chat, m)
	}

	body, err := json.Marshal(anthropicRequest{
		Model:       p.config.Model,
		System:      strings.Join(system, "\n\n"),
		Messages:    chat,
		MaxTokens:   p.config.MaxTokens,
		Temperature: p.config.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := p.httpClient.PostJSON(ctx, p.config.Host+"/v1/messages", body, map[string]string{
		"x-api-key":         p.config.APIKey,
		"anthropic-version": anthropicVersion,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode Anthropic response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || parsed.Error != nil {
		msg := "unknown error"
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return nil, &APIError{Provider: ProviderAnthropic, StatusCode: resp.StatusCode, Message: msg}
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &Completion{
		Content: text.String(),
		Usage: Usage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
		},
	}, nil
}
