package agent

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanba-ai/kanba/pkg/llms"
	"github.com/kanba-ai/kanba/pkg/status"
	"github.com/kanba-ai/kanba/pkg/task"
	"github.com/kanba-ai/kanba/pkg/tools"
)

// scriptedLLM replays canned responses in order. A response equal to
// errMarker produces a provider error instead.
type scriptedLLM struct {
	responses []string
	calls     int
}

const errMarker = "<error>"

func (s *scriptedLLM) Name() string  { return "scripted" }
func (s *scriptedLLM) Model() string { return "scripted-model" }

func (s *scriptedLLM) Invoke(ctx context.Context, messages []llms.Message) (*llms.Completion, error) {
	if s.calls >= len(s.responses) {
		return nil, fmt.Errorf("script exhausted after %d calls", s.calls)
	}
	resp := s.responses[s.calls]
	s.calls++
	if resp == errMarker {
		return nil, fmt.Errorf("provider unavailable")
	}
	return &llms.Completion{
		Content: resp,
		Usage:   llms.Usage{PromptTokens: 10, CompletionTokens: 5},
	}, nil
}

// statusRecorder captures the agent status sequence for assertions.
type statusRecorder struct {
	statuses []status.AgentStatus
	metadata []map[string]string
}

func (r *statusRecorder) RecordAgentStatus(a *Agent, t task.View, st status.AgentStatus, md map[string]string) {
	r.statuses = append(r.statuses, st)
	r.metadata = append(r.metadata, md)
}

func newTestLoop(t *testing.T, llm llms.Provider, toolset *tools.Registry, maxIterations int) (*Loop, *statusRecorder) {
	t.Helper()
	a, err := New(Config{Name: "tester", Role: "unit test agent", MaxIterations: maxIterations}, llm, toolset)
	require.NoError(t, err)
	rec := &statusRecorder{}
	return NewLoop(a, status.NewManager(nil), rec, nil, nil), rec
}

func failOnceTool(t *testing.T) (tools.Tool, *int) {
	t.Helper()
	calls := 0
	tool, err := tools.NewFuncTool("lookup", "Looks up a fact", func(ctx context.Context, in struct {
		Key string `json:"key"`
	}) (string, error) {
		calls++
		if calls == 1 {
			return "", fmt.Errorf("backend timeout")
		}
		return "fact about " + in.Key, nil
	})
	require.NoError(t, err)
	return tool, &calls
}

func TestRunDirectFinalAnswer(t *testing.T) {
	loop, rec := newTestLoop(t, &scriptedLLM{responses: []string{
		`{"finalAnswer": "Paris"}`,
	}}, nil, 5)

	result, err := loop.Run(context.Background(), task.New("Capital of France?", "tester").View())
	require.NoError(t, err)

	assert.Equal(t, ResultCompleted, result.Kind)
	assert.Equal(t, "Paris", result.Output)
	assert.False(t, result.Forced)
	assert.Equal(t, 1, result.Iterations)
	assert.Equal(t, []status.AgentStatus{
		status.AgentIterationStart,
		status.AgentThinking,
		status.AgentThinkingEnd,
		status.AgentFinalAnswer,
		status.AgentTaskCompleted,
	}, rec.statuses)
}

func TestRunToolUseThenFinalAnswer(t *testing.T) {
	toolset := tools.NewRegistry()
	echo, err := tools.NewFuncTool("echo", "Echoes input", func(ctx context.Context, in struct {
		Text string `json:"text"`
	}) (string, error) {
		return "echo: " + in.Text, nil
	})
	require.NoError(t, err)
	require.NoError(t, toolset.RegisterTool(echo))

	loop, rec := newTestLoop(t, &scriptedLLM{responses: []string{
		`{"thought": "use the tool", "action": "echo", "actionInput": {"text": "hi"}}`,
		`{"finalAnswer": "the echo said hi"}`,
	}}, toolset, 5)

	result, err := loop.Run(context.Background(), task.New("Use the echo tool", "tester").View())
	require.NoError(t, err)

	assert.Equal(t, ResultCompleted, result.Kind)
	assert.Equal(t, 2, result.Iterations)
	assert.Equal(t, []status.AgentStatus{
		status.AgentIterationStart,
		status.AgentThinking,
		status.AgentThinkingEnd,
		status.AgentThought,
		status.AgentUsingTool,
		status.AgentUsingToolEnd,
		status.AgentObservation,
		status.AgentIterationEnd,
		status.AgentIterationStart,
		status.AgentThinking,
		status.AgentThinkingEnd,
		status.AgentFinalAnswer,
		status.AgentTaskCompleted,
	}, rec.statuses)
}

func TestRunToolNotFoundRecovers(t *testing.T) {
	loop, rec := newTestLoop(t, &scriptedLLM{responses: []string{
		`{"thought": "try a tool", "action": "teleport", "actionInput": {}}`,
		`{"finalAnswer": "done without tools"}`,
	}}, nil, 5)

	result, err := loop.Run(context.Background(), task.New("do something", "tester").View())
	require.NoError(t, err)

	assert.Equal(t, ResultCompleted, result.Kind)
	assert.Contains(t, rec.statuses, status.AgentToolDoesNotExist)
}

func TestRunToolErrorRecovers(t *testing.T) {
	toolset := tools.NewRegistry()
	tool, calls := failOnceTool(t)
	require.NoError(t, toolset.RegisterTool(tool))

	loop, rec := newTestLoop(t, &scriptedLLM{responses: []string{
		`{"thought": "look it up", "action": "lookup", "actionInput": {"key": "go"}}`,
		`{"thought": "retry", "action": "lookup", "actionInput": {"key": "go"}}`,
		`{"finalAnswer": "fact about go"}`,
	}}, toolset, 5)

	result, err := loop.Run(context.Background(), task.New("find the fact", "tester").View())
	require.NoError(t, err)

	assert.Equal(t, ResultCompleted, result.Kind)
	assert.Equal(t, 2, *calls)
	assert.Contains(t, rec.statuses, status.AgentUsingToolError)
	assert.Contains(t, rec.statuses, status.AgentUsingToolEnd)
}

func TestRunParsingErrorRecovers(t *testing.T) {
	loop, rec := newTestLoop(t, &scriptedLLM{responses: []string{
		`the answer is 42, obviously`,
		`{"finalAnswer": "42"}`,
	}}, nil, 5)

	result, err := loop.Run(context.Background(), task.New("compute", "tester").View())
	require.NoError(t, err)

	assert.Equal(t, ResultCompleted, result.Kind)
	assert.Equal(t, 1, result.Usage.ParsingErrors)
	assert.Contains(t, rec.statuses, status.AgentParsingIssues)
}

func TestRunWeirdOutputRecovers(t *testing.T) {
	loop, rec := newTestLoop(t, &scriptedLLM{responses: []string{
		`{"story": "irrelevant"}`,
		`{"finalAnswer": "back on track"}`,
	}}, nil, 5)

	result, err := loop.Run(context.Background(), task.New("focus", "tester").View())
	require.NoError(t, err)

	assert.Equal(t, ResultCompleted, result.Kind)
	assert.Contains(t, rec.statuses, status.AgentWeirdLLMOutput)
}

func TestRunBlockAction(t *testing.T) {
	loop, rec := newTestLoop(t, &scriptedLLM{responses: []string{
		`{"thought": "cannot proceed", "action": "block_task", "actionInput": {"reason": "missing credentials"}}`,
	}}, nil, 5)

	result, err := loop.Run(context.Background(), task.New("deploy to prod", "tester").View())
	require.NoError(t, err)

	assert.Equal(t, ResultBlocked, result.Kind)
	assert.Equal(t, "missing credentials", result.BlockReason)
	assert.Equal(t, status.AgentTaskBlocked, rec.statuses[len(rec.statuses)-1])
}

func TestRunMaxIterationsForcesFinalAnswer(t *testing.T) {
	loop, rec := newTestLoop(t, &scriptedLLM{responses: []string{
		`{"thought": "still thinking"}`,
		`{"thought": "still thinking"}`,
		`{"finalAnswer": "best effort answer"}`,
	}}, nil, 2)

	result, err := loop.Run(context.Background(), task.New("hard problem", "tester").View())
	require.NoError(t, err)

	assert.Equal(t, ResultCompleted, result.Kind)
	assert.True(t, result.Forced)
	assert.Equal(t, "best effort answer", result.Output)
	assert.Equal(t, 2, result.Iterations)
	assert.Contains(t, rec.statuses, status.AgentMaxIterationsError)

	// The budget bounds ITERATION_START events even though the forced pass
	// adds one more thinking call.
	starts := 0
	for _, st := range rec.statuses {
		if st == status.AgentIterationStart {
			starts++
		}
	}
	assert.Equal(t, 2, starts)
	assert.Equal(t, 3, result.Usage.CallsCount)
}

func TestRunForcedAnswerKeepsRawContentOnParseFailure(t *testing.T) {
	loop, _ := newTestLoop(t, &scriptedLLM{responses: []string{
		`{"thought": "hm"}`,
		`here is my best effort, unformatted`,
	}}, nil, 1)

	result, err := loop.Run(context.Background(), task.New("hard problem", "tester").View())
	require.NoError(t, err)

	assert.Equal(t, ResultCompleted, result.Kind)
	assert.True(t, result.Forced)
	assert.Equal(t, "here is my best effort, unformatted", result.Output)
}

func TestRunLLMErrorAborts(t *testing.T) {
	loop, rec := newTestLoop(t, &scriptedLLM{responses: []string{errMarker}}, nil, 5)

	result, err := loop.Run(context.Background(), task.New("doomed", "tester").View())
	require.Error(t, err)

	assert.Equal(t, ResultAborted, result.Kind)
	assert.Equal(t, 1, result.Usage.CallsErrorCount)
	assert.Equal(t, status.AgentTaskAborted, rec.statuses[len(rec.statuses)-1])
	assert.Contains(t, rec.statuses, status.AgentThinkingError)
}

func TestRunUsageAccumulatesAcrossIterations(t *testing.T) {
	loop, _ := newTestLoop(t, &scriptedLLM{responses: []string{
		`{"thought": "step one"}`,
		`{"finalAnswer": "done"}`,
	}}, nil, 5)

	result, err := loop.Run(context.Background(), task.New("two steps", "tester").View())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Usage.CallsCount)
	assert.Equal(t, 20, result.Usage.InputTokens)
	assert.Equal(t, 10, result.Usage.OutputTokens)
}

func TestRunAgentResetsBetweenTasks(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"finalAnswer": "first"}`,
		`{"finalAnswer": "second"}`,
	}}
	loop, _ := newTestLoop(t, llm, nil, 5)

	first, err := loop.Run(context.Background(), task.New("one", "tester").View())
	require.NoError(t, err)
	assert.Equal(t, "first", first.Output)

	second, err := loop.Run(context.Background(), task.New("two", "tester").View())
	require.NoError(t, err)
	assert.Equal(t, "second", second.Output)
}
