// Package llms defines the chat completion abstraction the agents talk
// through, provider adapters for OpenAI, Anthropic and Ollama, and the token
// usage accounting that feeds cost calculation.
package llms

import (
	"context"
	"fmt"
	"time"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage is the token accounting a provider reports for one completion.
// Zero values mean the provider did not report usage and the caller should
// estimate instead.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Completion is the result of one provider invocation.
type Completion struct {
	Content string
	Usage   Usage
}

// Provider is a chat completion backend.
type Provider interface {
	Name() string
	Model() string
	Invoke(ctx context.Context, messages []Message) (*Completion, error)
}

// APIError is a non-2xx response from a provider API.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// UsageStats accumulates LLM usage across calls. Task-level stats roll up
// into workflow-level stats via Merge.
type UsageStats struct {
	InputTokens     int           `json:"inputTokens"`
	OutputTokens    int           `json:"outputTokens"`
	CallsCount      int           `json:"callsCount"`
	CallsErrorCount int           `json:"callsErrorCount"`
	ParsingErrors   int           `json:"parsingErrors"`
	TotalLatency    time.Duration `json:"totalLatency"`
}

// AddCall records one successful provider call.
func (s *UsageStats) AddCall(usage Usage, latency time.Duration) {
	s.CallsCount++
	s.InputTokens += usage.PromptTokens
	s.OutputTokens += usage.CompletionTokens
	s.TotalLatency += latency
}

// AddCallError records one failed provider call.
func (s *UsageStats) AddCallError(latency time.Duration) {
	s.CallsCount++
	s.CallsErrorCount++
	s.TotalLatency += latency
}

// AddParsingError records one unparseable provider response.
func (s *UsageStats) AddParsingError() {
	s.ParsingErrors++
}

// Merge folds other into s.
func (s *UsageStats) Merge(other UsageStats) {
	s.InputTokens += other.InputTokens
	s.OutputTokens += other.OutputTokens
	s.CallsCount += other.CallsCount
	s.CallsErrorCount += other.CallsErrorCount
	s.ParsingErrors += other.ParsingErrors
	s.TotalLatency += other.TotalLatency
}

// AverageLatency is mean latency per call, zero when no calls were made.
func (s UsageStats) AverageLatency() time.Duration {
	if s.CallsCount == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(s.CallsCount)
}
