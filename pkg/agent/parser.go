package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OutputKind classifies one parsed LLM response.
type OutputKind string

const (
	KindThoughtAction OutputKind = "thought_action"
	// KindThought is a thought with no action attached; it consumes the
	// iteration without acting.
	KindThought      OutputKind = "thought"
	KindSelfQuestion OutputKind = "self_question"
	KindObservation  OutputKind = "observation"
	KindFinalAnswer  OutputKind = "final_answer"
	// KindWeird is valid JSON that matches none of the known shapes.
	KindWeird OutputKind = "weird"
)

// ParsedOutput is the structured form of one LLM response.
type ParsedOutput struct {
	Kind         OutputKind
	Thought      string
	Action       string
	ActionInput  map[string]any
	SelfQuestion string
	Observation  string
	FinalAnswer  string
	Raw          string
}

// ParseError is a response that is not valid JSON at all.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse LLM output: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

type rawOutput struct {
	Thought      string          `json:"thought"`
	Action       string          `json:"action"`
	ActionInput  map[string]any  `json:"actionInput"`
	SelfQuestion string          `json:"selfQuestion"`
	Observation  string          `json:"observation"`
	FinalAnswer  json.RawMessage `json:"finalAnswer"`
}

// ParseOutput interprets an LLM response. Responses wrapped in markdown
// code fences are unwrapped first. Valid JSON matching no known shape is
// classified as KindWeird rather than an error so the loop can re-prompt.
func ParseOutput(content string) (*ParsedOutput, error) {
	cleaned := stripCodeFence(content)

	var raw rawOutput
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, &ParseError{Raw: content, Err: err}
	}

	out := &ParsedOutput{Raw: content}
	switch {
	case len(raw.FinalAnswer) > 0:
		out.Kind = KindFinalAnswer
		out.FinalAnswer = decodeFinalAnswer(raw.FinalAnswer)
	case raw.Action != "":
		out.Kind = KindThoughtAction
		out.Thought = raw.Thought
		out.Action = raw.Action
		out.ActionInput = raw.ActionInput
	case raw.SelfQuestion != "":
		out.Kind = KindSelfQuestion
		out.Thought = raw.Thought
		out.SelfQuestion = raw.SelfQuestion
	case raw.Observation != "":
		out.Kind = KindObservation
		out.Observation = raw.Observation
	case raw.Thought != "":
		out.Kind = KindThought
		out.Thought = raw.Thought
	default:
		out.Kind = KindWeird
	}
	return out, nil
}

// decodeFinalAnswer accepts both a JSON string and any other JSON value;
// non-strings keep their literal JSON form as the answer.
func decodeFinalAnswer(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func stripCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		// Drop the language tag line.
		first := strings.TrimSpace(trimmed[:idx])
		if first == "" || !strings.ContainsAny(first, "{}") {
			trimmed = trimmed[idx+1:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
