package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/kanba-ai/kanba/pkg/llms"
	"github.com/kanba-ai/kanba/pkg/metrics"
	"github.com/kanba-ai/kanba/pkg/status"
	"github.com/kanba-ai/kanba/pkg/task"
	"github.com/kanba-ai/kanba/pkg/tools"
)

// Recorder observes every agent status change the loop makes. The team
// implements it to append worklog entries.
type Recorder interface {
	RecordAgentStatus(a *Agent, t task.View, st status.AgentStatus, metadata map[string]string)
}

// NoopRecorder discards status updates. Used by standalone agent runs.
type NoopRecorder struct{}

func (NoopRecorder) RecordAgentStatus(*Agent, task.View, status.AgentStatus, map[string]string) {}

// ResultKind classifies how a loop run ended.
type ResultKind string

const (
	ResultCompleted ResultKind = "completed"
	ResultBlocked   ResultKind = "blocked"
	ResultAborted   ResultKind = "aborted"
)

// Result is the outcome of driving one task through the loop.
type Result struct {
	Kind        ResultKind
	Output      string
	BlockReason string
	// Forced marks an answer extracted by the forced final pass after the
	// iteration budget ran out.
	Forced     bool
	Iterations int
	Usage      llms.UsageStats
}

// Loop drives an agent through think/act/observe iterations on one task.
// Iterations are bounded by the agent's MaxIterations; exhausting the budget
// forces one extra thinking pass that must produce a final answer.
type Loop struct {
	agent     *Agent
	statusMgr *status.Manager
	recorder  Recorder
	collector *metrics.Collector
	logger    *slog.Logger
}

func NewLoop(a *Agent, statusMgr *status.Manager, recorder Recorder, collector *metrics.Collector, logger *slog.Logger) *Loop {
	if recorder == nil {
		recorder = NoopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		agent:     a,
		statusMgr: statusMgr,
		recorder:  recorder,
		collector: collector,
		logger:    logger,
	}
}

// Run executes the loop until the task completes, blocks or aborts. The
// returned error is non-nil only for aborts; recoverable failures are
// handled inside the loop.
func (l *Loop) Run(ctx context.Context, t task.View) (*Result, error) {
	if err := l.reset(t); err != nil {
		return nil, err
	}

	messages := []llms.Message{
		{Role: llms.RoleSystem, Content: l.agent.systemPrompt()},
		{Role: llms.RoleUser, Content: taskPrompt(t)},
	}

	result := &Result{}
	maxIterations := l.agent.Config.MaxIterations

	for result.Iterations < maxIterations {
		if err := ctx.Err(); err != nil {
			return l.abort(t, result, err)
		}

		if err := l.to(t, status.AgentIterationStart, map[string]string{
			"iteration": strconv.Itoa(result.Iterations + 1),
		}); err != nil {
			return nil, err
		}
		result.Iterations++

		completion, err := l.think(ctx, t, messages, result)
		if err != nil {
			return l.abort(t, result, err)
		}
		messages = append(messages, llms.Message{Role: llms.RoleAssistant, Content: completion.Content})

		parsed, parseErr := ParseOutput(completion.Content)
		if parseErr != nil {
			result.Usage.AddParsingError()
			l.collect(metrics.DomainLLM, metrics.TypeError, 1, map[string]any{"reason": "parse"})
			l.to(t, status.AgentParsingIssues, map[string]string{"error": parseErr.Error()})
			messages = l.feedback(messages, parsingErrorPrompt(parseErr))
			l.to(t, status.AgentIterationEnd, nil)
			continue
		}

		switch parsed.Kind {
		case KindFinalAnswer:
			return l.complete(t, result, parsed.FinalAnswer, false)

		case KindThoughtAction:
			if parsed.Action == tools.BlockActionName {
				return l.block(t, result, parsed)
			}
			messages = l.act(ctx, t, messages, parsed)

		case KindThought:
			l.to(t, status.AgentThought, map[string]string{"thought": parsed.Thought})
			messages = l.feedback(messages, "Continue toward the final answer.")

		case KindSelfQuestion:
			l.to(t, status.AgentSelfQuestion, map[string]string{"question": parsed.SelfQuestion})
			messages = l.feedback(messages, selfQuestionPrompt(parsed.SelfQuestion))

		case KindObservation:
			l.to(t, status.AgentObservation, map[string]string{"observation": parsed.Observation})
			messages = l.feedback(messages, "Continue toward the final answer.")

		default:
			l.to(t, status.AgentWeirdLLMOutput, nil)
			messages = l.feedback(messages, weirdOutputPrompt())
		}

		l.to(t, status.AgentIterationEnd, nil)
	}

	return l.forceFinalAnswer(ctx, t, messages, result)
}

// act runs one tool invocation branch. Tool lookup failures and execution
// errors are recoverable; both end the iteration with a corrective prompt.
func (l *Loop) act(ctx context.Context, t task.View, messages []llms.Message, parsed *ParsedOutput) []llms.Message {
	l.to(t, status.AgentThought, map[string]string{"thought": parsed.Thought, "action": parsed.Action})

	tool, err := l.agent.tools.Lookup(parsed.Action)
	if err != nil {
		var notFound *tools.ToolNotFoundError
		if errors.As(err, &notFound) {
			l.collect(metrics.DomainAgent, metrics.TypeError, 1, map[string]any{"reason": "tool_not_found"})
			l.to(t, status.AgentToolDoesNotExist, map[string]string{"tool": parsed.Action})
			return l.feedback(messages, toolNotFoundPrompt(notFound.Name, notFound.Available))
		}
		l.to(t, status.AgentToolDoesNotExist, map[string]string{"tool": parsed.Action})
		return l.feedback(messages, toolNotFoundPrompt(parsed.Action, nil))
	}

	l.to(t, status.AgentUsingTool, map[string]string{"tool": tool.Name()})

	start := time.Now()
	output, err := tool.Invoke(ctx, parsed.ActionInput)
	elapsed := time.Since(start)
	l.collect(metrics.DomainAgent, metrics.TypeLatency, elapsed.Seconds(), map[string]any{"tool": tool.Name()})

	if err != nil {
		l.collect(metrics.DomainAgent, metrics.TypeError, 1, map[string]any{"tool": tool.Name()})
		l.to(t, status.AgentUsingToolError, map[string]string{"tool": tool.Name(), "error": err.Error()})
		return l.feedback(messages, toolErrorPrompt(tool.Name(), err))
	}

	l.to(t, status.AgentUsingToolEnd, map[string]string{"tool": tool.Name()})
	l.to(t, status.AgentObservation, map[string]string{"observation": output})
	return l.feedback(messages, observationPrompt(output))
}

// think performs one LLM call and accounts for its usage. Providers that
// report no usage get a token estimate instead so stats never silently
// read zero.
func (l *Loop) think(ctx context.Context, t task.View, messages []llms.Message, result *Result) (*llms.Completion, error) {
	if err := l.to(t, status.AgentThinking, nil); err != nil {
		return nil, err
	}

	start := time.Now()
	completion, err := l.agent.llm.Invoke(ctx, messages)
	latency := time.Since(start)

	if err != nil {
		result.Usage.AddCallError(latency)
		l.collect(metrics.DomainLLM, metrics.TypeError, 1, map[string]any{"model": l.agent.Model()})
		return nil, fmt.Errorf("LLM call failed: %w", err)
	}

	usage := completion.Usage
	estimated := false
	if usage.PromptTokens == 0 && usage.CompletionTokens == 0 {
		usage = llms.EstimateUsage(messages, completion.Content)
		estimated = true
	}
	result.Usage.AddCall(usage, latency)

	l.collect(metrics.DomainLLM, metrics.TypeLatency, latency.Seconds(), map[string]any{"model": l.agent.Model()})
	l.collect(metrics.DomainLLM, metrics.TypeUsage, float64(usage.PromptTokens+usage.CompletionTokens), map[string]any{"model": l.agent.Model()})

	l.to(t, status.AgentThinkingEnd, map[string]string{
		"model":        l.agent.Model(),
		"inputTokens":  strconv.Itoa(usage.PromptTokens),
		"outputTokens": strconv.Itoa(usage.CompletionTokens),
		"latencyMs":    strconv.FormatInt(latency.Milliseconds(), 10),
		"estimated":    strconv.FormatBool(estimated),
	})
	return completion, nil
}

// forceFinalAnswer is the hard cutoff past the iteration budget: one extra
// thinking pass whose output becomes the answer, parsed or not.
func (l *Loop) forceFinalAnswer(ctx context.Context, t task.View, messages []llms.Message, result *Result) (*Result, error) {
	l.to(t, status.AgentMaxIterationsError, map[string]string{
		"maxIterations": strconv.Itoa(l.agent.Config.MaxIterations),
	})
	l.collect(metrics.DomainAgent, metrics.TypeError, 1, map[string]any{"reason": "max_iterations"})

	messages = l.feedback(messages, forceFinalAnswerPrompt())

	completion, err := l.think(ctx, t, messages, result)
	if err != nil {
		return l.abort(t, result, err)
	}

	answer := completion.Content
	if parsed, parseErr := ParseOutput(completion.Content); parseErr == nil {
		if parsed.Kind == KindFinalAnswer {
			answer = parsed.FinalAnswer
		}
	} else {
		result.Usage.AddParsingError()
	}

	return l.complete(t, result, answer, true)
}

func (l *Loop) complete(t task.View, result *Result, answer string, forced bool) (*Result, error) {
	meta := map[string]string{}
	if forced {
		meta["forced"] = "true"
	}
	l.to(t, status.AgentFinalAnswer, meta)
	l.to(t, status.AgentTaskCompleted, nil)
	l.collect(metrics.DomainAgent, metrics.TypeSuccess, 1, nil)

	result.Kind = ResultCompleted
	result.Output = answer
	result.Forced = forced
	return result, nil
}

func (l *Loop) block(t task.View, result *Result, parsed *ParsedOutput) (*Result, error) {
	reason := "agent blocked the task"
	if r, ok := parsed.ActionInput["reason"].(string); ok && r != "" {
		reason = r
	}
	l.to(t, status.AgentTaskBlocked, map[string]string{"reason": reason})

	result.Kind = ResultBlocked
	result.BlockReason = reason
	return result, nil
}

func (l *Loop) abort(t task.View, result *Result, cause error) (*Result, error) {
	if l.agent.status == status.AgentThinking {
		l.to(t, status.AgentThinkingError, map[string]string{"error": cause.Error()})
	}
	l.to(t, status.AgentTaskAborted, map[string]string{"error": cause.Error()})
	l.collect(metrics.DomainAgent, metrics.TypeError, 1, map[string]any{"reason": "abort"})

	result.Kind = ResultAborted
	return result, cause
}

// reset returns the agent to INITIAL from a previous terminal status.
func (l *Loop) reset(t task.View) error {
	if l.agent.status == status.AgentInitial {
		return nil
	}
	if !l.agent.status.IsTerminal() {
		return fmt.Errorf("agent '%s' is busy (status %s)", l.agent.Name(), l.agent.status)
	}
	return l.to(t, status.AgentInitial, nil)
}

// to validates and applies one agent status transition, then records it.
func (l *Loop) to(t task.View, target status.AgentStatus, metadata map[string]string) error {
	err := l.statusMgr.Transition(status.Transition{
		Entity:   status.EntityAgent,
		EntityID: l.agent.ID,
		Current:  string(l.agent.status),
		Target:   string(target),
	})
	if err != nil {
		l.logger.Error("agent transition rejected",
			"agent", l.agent.Name(), "from", l.agent.status, "to", target, "error", err)
		return err
	}
	l.agent.status = target
	l.recorder.RecordAgentStatus(l.agent, t, target, metadata)
	return nil
}

func (l *Loop) feedback(messages []llms.Message, content string) []llms.Message {
	return append(messages, llms.Message{Role: llms.RoleUser, Content: content})
}

func (l *Loop) collect(domain metrics.Domain, typ metrics.Type, value float64, metadata map[string]any) {
	if l.collector == nil {
		return
	}
	l.collector.Collect(domain, typ, value, metadata)
}
