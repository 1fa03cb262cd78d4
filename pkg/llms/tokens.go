package llms

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const fallbackCharsPerToken = 4

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// EstimateTokens approximates the token count of text. It uses the cl100k
// tiktoken encoding when available and falls back to a chars/4 heuristic.
// Estimates are only used when a provider reports no usage.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}

	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err == nil {
			encoding = enc
		}
	})

	if encoding != nil {
		return len(encoding.Encode(text, nil, nil))
	}
	return (len(text) + fallbackCharsPerToken - 1) / fallbackCharsPerToken
}

// EstimateUsage approximates usage for a prompt/completion pair.
func EstimateUsage(messages []Message, completion string) Usage {
	var prompt strings.Builder
	for _, m := range messages {
		prompt.WriteString(m.Content)
		prompt.WriteByte('\n')
	}
	return Usage{
		PromptTokens:     EstimateTokens(prompt.String()),
		CompletionTokens: EstimateTokens(completion),
	}
}
